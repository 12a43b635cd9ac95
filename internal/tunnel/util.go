package tunnel

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
)

var versionTokenPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// firstVersionToken extracts the first semantic-version-looking substring
// from cloudflared's free-form `version` output (e.g. "cloudflared version
// 2024.6.1 (built ...)").
func firstVersionToken(output string) string {
	return versionTokenPattern.FindString(output)
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// extractTarGzBinary returns the first regular file entry of a gzip-
// compressed tar archive, used to unpack the cloudflared binary out of the
// darwin release's .tgz asset.
func extractTarGzBinary(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("archive contains no regular file")
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return io.ReadAll(tr)
	}
}
