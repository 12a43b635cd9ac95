package acp

import (
	"testing"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateContentBlocksAllowsText(t *testing.T) {
	err := ValidateContentBlocks([]ContentBlock{{Type: "text", Text: "hi"}}, PromptCapabilities{})
	require.NoError(t, err)
}

func TestValidateContentBlocksRejectsEmptyText(t *testing.T) {
	err := ValidateContentBlocks([]ContentBlock{{Type: "text"}}, PromptCapabilities{})
	require.Error(t, err)
	assert.Equal(t, apierr.Malformed, apierr.KindOf(err))
}

func TestValidateContentBlocksRejectsImageWithoutCapability(t *testing.T) {
	err := ValidateContentBlocks([]ContentBlock{{Type: "image", Data: "xx", MimeType: "image/png"}}, PromptCapabilities{})
	require.Error(t, err)
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestValidateContentBlocksAllowsImageWithCapability(t *testing.T) {
	err := ValidateContentBlocks([]ContentBlock{{Type: "image", Data: "xx", MimeType: "image/png"}}, PromptCapabilities{Image: true})
	require.NoError(t, err)
}

func TestValidateContentBlocksRejectsResourceWithoutCapability(t *testing.T) {
	err := ValidateContentBlocks([]ContentBlock{{Type: "resource", Resource: &EmbeddedResource{Text: "x"}}}, PromptCapabilities{})
	require.Error(t, err)
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestValidateContentBlocksRejectsUnknownType(t *testing.T) {
	err := ValidateContentBlocks([]ContentBlock{{Type: "video"}}, PromptCapabilities{})
	require.Error(t, err)
	assert.Equal(t, apierr.Malformed, apierr.KindOf(err))
}

func TestValidateContentBlocksRejectsResourceLinkWithoutURI(t *testing.T) {
	err := ValidateContentBlocks([]ContentBlock{{Type: "resource_link"}}, PromptCapabilities{})
	require.Error(t, err)
}
