package acp

import (
	"encoding/json"
	"fmt"

	"github.com/on-the-go/daemon/internal/apierr"
)

// ContentBlock is one tagged-variant prompt input block (spec.md §4.3
// "Content blocks (prompt input)"). Exactly one variant is non-empty per
// the declared Type.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "image" | "audio"
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// type == "resource_link"
	URI string `json:"uri,omitempty"`

	// type == "resource"
	Resource *EmbeddedResource `json:"resource,omitempty"`
}

// EmbeddedResource is the payload of a `{type:"resource"}` content block:
// either inline text or an inline blob, each optionally naming a URI/mime
// type.
type EmbeddedResource struct {
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// ValidateContentBlocks checks each block's shape and gates image/audio/
// resource blocks on the agent's declared prompt capabilities (spec.md
// §4.3: "blocks disallowed by capability are rejected before being
// forwarded").
func ValidateContentBlocks(blocks []ContentBlock, caps PromptCapabilities) error {
	for i, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text == "" {
				return apierr.New(apierr.Malformed, fmt.Sprintf("content block %d: text block missing text", i))
			}
		case "image":
			if !caps.Image {
				return apierr.New(apierr.Refused, "agent does not support image content blocks")
			}
			if b.Data == "" || b.MimeType == "" {
				return apierr.New(apierr.Malformed, fmt.Sprintf("content block %d: image block missing data/mimeType", i))
			}
		case "audio":
			if !caps.Audio {
				return apierr.New(apierr.Refused, "agent does not support audio content blocks")
			}
			if b.Data == "" || b.MimeType == "" {
				return apierr.New(apierr.Malformed, fmt.Sprintf("content block %d: audio block missing data/mimeType", i))
			}
		case "resource_link":
			if b.URI == "" {
				return apierr.New(apierr.Malformed, fmt.Sprintf("content block %d: resource_link missing uri", i))
			}
		case "resource":
			if !caps.EmbeddedContext {
				return apierr.New(apierr.Refused, "agent does not support embedded resource content blocks")
			}
			if b.Resource == nil || (b.Resource.Text == "" && b.Resource.Blob == "") {
				return apierr.New(apierr.Malformed, fmt.Sprintf("content block %d: resource missing text/blob", i))
			}
		default:
			return apierr.New(apierr.Malformed, fmt.Sprintf("content block %d: unknown type %q", i, b.Type))
		}
	}
	return nil
}

// extractText returns the text of a content block, or "" for non-text
// blocks (used when flattening a prompt chunk for thread persistence).
func extractText(b ContentBlock) string {
	if b.Type == "text" {
		return b.Text
	}
	return ""
}

// MarshalParams is a small helper turning a Go value into json.RawMessage
// for use as JSON-RPC params, panicking only on programmer error (a type
// that cannot be marshaled at all).
func marshalParams(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("acp: marshal params: %v", err))
	}
	return b
}
