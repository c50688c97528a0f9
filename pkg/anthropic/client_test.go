package anthropic

import (
	"encoding/base64"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCost_KnownModel(t *testing.T) {
	usage := TokenUsage{
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	}
	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	assert.InDelta(t, 0.80+4.00, cost, 0.001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 1000}
	assert.Equal(t, 0.0, usage.EstimateCost("unknown-model"))
}

func TestEstimateCost_CacheTokens(t *testing.T) {
	usage := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	// Write at 1.25x input rate, read at 0.1x input rate.
	cost := usage.EstimateCost("claude-sonnet-4-5-20250929")
	assert.InDelta(t, 3.00*1.25+3.00*0.1, cost, 0.001)
}

func TestToSDKMessages_PlainText(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
}

func TestToSDKMessages_DocumentPart(t *testing.T) {
	raw := []byte("%PDF-1.4 fake")
	msgs := toSDKMessages([]Message{
		{Role: "user", Parts: []ContentPart{
			{Type: "document", MediaType: "application/pdf", Data: raw},
			{Type: "text", Text: "extract this"},
		}},
	})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)

	doc := msgs[0].Content[0].OfDocument
	require.NotNil(t, doc)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), doc.Source.OfBase64.Data)

	text := msgs[0].Content[1].OfText
	require.NotNil(t, text)
	assert.Equal(t, "extract this", text.Text)
}

func TestToSDKMessages_ImagePart(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	msgs := toSDKMessages([]Message{
		{Role: "user", Parts: []ContentPart{
			{Type: "image", MediaType: "image/png", Data: raw},
		}},
	})
	require.Len(t, msgs, 1)
	img := msgs[0].Content[0].OfImage
	require.NotNil(t, img)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), img.Source.OfBase64.Data)
}

func TestToSDKSystemBlocks_CacheControl(t *testing.T) {
	blocks := toSDKSystemBlocks(BuildCachedSystemBlocks("system text"))
	require.Len(t, blocks, 1)
	assert.Equal(t, "system text", blocks[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), blocks[0].CacheControl.TTL)
}

func TestFromSDKMessage(t *testing.T) {
	msg := &sdk.Message{
		ID:    "msg_123",
		Model: "claude-haiku-4-5-20251001",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "result"},
		},
		StopReason: "end_turn",
		Usage: sdk.Usage{
			InputTokens:  100,
			OutputTokens: 50,
		},
	}

	resp := fromSDKMessage(msg)
	assert.Equal(t, "msg_123", resp.ID)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "result", resp.Content[0].Text)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(50), resp.Usage.OutputTokens)
}
