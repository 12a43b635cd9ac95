package fsservice

import (
	"encoding/base64"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Open reads a file, capped at the smaller of maxLength (when positive) and
// the service's configured maxTextBytes, with a truncated flag set when the
// cap was hit (spec.md §4.5 "open {path, encoding?, maxLength?}", "text
// reads are capped at 1 MiB (default) with a truncated flag"). When encoding
// is empty, it is inferred from content: "utf8" for text-like files,
// "base64" otherwise.
func (s *Service) Open(path, encoding string, maxLength int64) (OpenResult, error) {
	abs, info, err := s.resolver.ResolveExisting(path)
	if err != nil {
		return OpenResult{}, err
	}
	if info.IsDir() {
		return OpenResult{}, errInvalidArgument("path is a directory")
	}

	limit := s.cfg.MaxTextBytes
	if maxLength > 0 && maxLength < limit {
		limit = maxLength
	}

	f, err := os.Open(abs)
	if err != nil {
		return OpenResult{}, errNotFound(path)
	}
	defer f.Close()

	buf := make([]byte, limit)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return OpenResult{}, err
	}
	data := buf[:n]
	truncated := info.Size() > int64(n)

	if encoding == "" {
		encoding = detectEncoding(data)
	}

	var content string
	switch encoding {
	case "base64":
		content = base64.StdEncoding.EncodeToString(data)
	default:
		content = string(data)
		encoding = "utf8"
	}

	return OpenResult{
		Path:      path,
		Content:   content,
		Encoding:  encoding,
		Truncated: truncated,
		Size:      info.Size(),
	}, nil
}

func detectEncoding(data []byte) string {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return "utf8"
		}
	}
	return "base64"
}
