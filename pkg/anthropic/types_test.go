package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContentUnmarshalString(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &c))
	assert.True(t, c.IsString())
	assert.Equal(t, "hello", c.Text)
	blocks := c.AsBlocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "hello", blocks[0].Text)
}

func TestMessageContentUnmarshalBlocks(t *testing.T) {
	var c MessageContent
	raw := `[{"type":"text","text":"hi"},{"type":"tool_use","id":"t1","name":"search"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.False(t, c.IsString())
	blocks := c.AsBlocks()
	require.Len(t, blocks, 2)
	assert.True(t, blocks[1].IsToolUse())
}

func TestMessageContentUnmarshalInvalidShape(t *testing.T) {
	var c MessageContent
	err := json.Unmarshal([]byte(`42`), &c)
	assert.Error(t, err)
}

func TestMessageContentMarshalRoundTrip(t *testing.T) {
	c := MessageContent{Text: "plain"}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `"plain"`, string(data))

	c2 := MessageContent{Blocks: []ContentBlock{{Type: "text", Text: "x"}}}
	data2, err := json.Marshal(c2)
	require.NoError(t, err)
	assert.Equal(t, `[{"type":"text","text":"x"}]`, string(data2))
}

func TestMessageContentEmptyStringHasNoBlocks(t *testing.T) {
	c := MessageContent{}
	assert.Nil(t, c.AsBlocks())
}

func TestContentBlockPredicates(t *testing.T) {
	assert.True(t, (&ContentBlock{Type: "tool_use"}).IsToolUse())
	assert.True(t, (&ContentBlock{Type: "tool_result"}).IsToolResult())
	assert.True(t, (&ContentBlock{Type: "text"}).IsText())
	assert.True(t, (&ContentBlock{Type: "thinking"}).IsThinking())
	assert.True(t, (&ContentBlock{Type: "redacted_thinking"}).IsRedactedThinking())
	assert.True(t, (&ContentBlock{Type: "image"}).IsImage())
}

func TestHasValidSignature(t *testing.T) {
	block := &ContentBlock{Type: "thinking", Signature: "abcdefgh"}
	assert.True(t, block.HasValidSignature(4))
	assert.False(t, block.HasValidSignature(100))

	textBlock := &ContentBlock{Type: "text", Signature: "abcdefgh"}
	assert.False(t, textBlock.HasValidSignature(4))
}

func TestGenerateMessageIDAndToolUseIDAreUniqueAndPrefixed(t *testing.T) {
	id1 := GenerateMessageID()
	id2 := GenerateMessageID()
	assert.NotEqual(t, id1, id2)
	assert.Regexp(t, `^msg_[0-9a-f]{32}$`, id1)

	toolID := GenerateToolUseID()
	assert.Regexp(t, `^toolu_[0-9a-f]{24}$`, toolID)
}

func TestNewMessagesResponse(t *testing.T) {
	usage := &Usage{InputTokens: 10, OutputTokens: 20}
	resp := NewMessagesResponse("msg_1", "claude-opus-4-5", []ContentBlock{{Type: "text", Text: "hi"}}, "end_turn", usage)
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Same(t, usage, resp.Usage)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("invalid_request_error", "bad request")
	assert.Equal(t, "error", resp.Type)
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
	assert.Equal(t, "bad request", resp.Error.Message)
}

func TestCloneContentBlockDeepCopiesPointerFields(t *testing.T) {
	original := ContentBlock{
		Type:  "tool_use",
		Input: json.RawMessage(`{"a":1}`),
		Source: &ImageSource{
			Type:      "base64",
			MediaType: "image/png",
			Data:      "abcd",
		},
	}
	clone := CloneContentBlock(original)

	clone.Input[2] = 'X'
	clone.Source.Data = "mutated"

	assert.NotEqual(t, string(original.Input), string(clone.Input))
	assert.NotEqual(t, original.Source.Data, clone.Source.Data)
}

func TestCloneMessageDeepCopiesBlocks(t *testing.T) {
	msg := Message{
		Role:    "user",
		Content: MessageContent{Blocks: []ContentBlock{{Type: "text", Text: "hi"}}},
	}
	clone := CloneMessage(msg)
	clone.Content.Blocks[0].Text = "changed"

	assert.Equal(t, "hi", msg.Content.Blocks[0].Text)
	assert.Equal(t, "changed", clone.Content.Blocks[0].Text)
}
