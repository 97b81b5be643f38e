// Package anthropic provides type definitions for the Anthropic Messages API.
package anthropic

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ContentBlock represents a single block of message content. It is a tagged
// union over Type: text, image, tool_use, tool_result, thinking,
// redacted_thinking. Every branch is read through its own fields rather than
// duck-typed off the raw map.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking / redacted_thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Gemini-origin tool_use / thinking carry a thoughtSignature that the
	// client is expected to round-trip back unmodified.
	ThoughtSignature string `json:"thoughtSignature,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"` // string or []ContentBlock
	IsError   bool   `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// Stripped before forwarding upstream; never sent to Cloud Code.
	CacheControl any `json:"cache_control,omitempty"`
}

// ImageSource represents the source of an image content block.
type ImageSource struct {
	Type      string `json:"type"` // base64 | url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

func (cb *ContentBlock) IsToolUse() bool      { return cb.Type == "tool_use" }
func (cb *ContentBlock) IsToolResult() bool   { return cb.Type == "tool_result" }
func (cb *ContentBlock) IsText() bool         { return cb.Type == "text" }
func (cb *ContentBlock) IsThinking() bool     { return cb.Type == "thinking" }
func (cb *ContentBlock) IsRedactedThinking() bool { return cb.Type == "redacted_thinking" }
func (cb *ContentBlock) IsImage() bool        { return cb.Type == "image" }

// HasValidSignature reports whether a thinking block's signature meets the
// minimum length the upstream requires to accept it.
func (cb *ContentBlock) HasValidSignature(minLen int) bool {
	return cb.IsThinking() && len(cb.Signature) >= minLen
}

// MessageContent is the union `string | []ContentBlock` that Anthropic
// allows for both `system` and a message's `content` field.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// IsString reports whether the content arrived as a bare string.
func (c MessageContent) IsString() bool { return c.Blocks == nil }

// AsBlocks normalizes either shape into a block slice (a bare string becomes
// a single text block), mirroring how the translator treats both forms
// identically once past the wire boundary.
func (c MessageContent) AsBlocks() []ContentBlock {
	if c.Blocks != nil {
		return c.Blocks
	}
	if c.Text == "" {
		return nil
	}
	return []ContentBlock{{Type: "text", Text: c.Text}}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Text = asString
		c.Blocks = nil
		return nil
	}
	var asBlocks []ContentBlock
	if err := json.Unmarshal(data, &asBlocks); err != nil {
		return fmt.Errorf("content must be a string or an array of content blocks: %w", err)
	}
	c.Blocks = asBlocks
	if c.Blocks == nil {
		c.Blocks = []ContentBlock{}
	}
	return nil
}

// Message represents one turn of an Anthropic conversation.
type Message struct {
	Role    string         `json:"role"` // user | assistant
	Content MessageContent `json:"content"`
}

// Tool represents a tool definition supplied by the client.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice represents tool selection preference.
type ToolChoice struct {
	Type                   string `json:"type"`
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// ThinkingConfig requests interleaved reasoning from thinking-capable models.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Metadata carries caller-supplied request tracking fields.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesRequest represents a request to POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	Stream        bool            `json:"stream,omitempty"`
	System        *MessageContent `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

// Usage represents token usage accounting on a response.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// MessagesResponse represents a non-streaming response from POST /v1/messages.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// SSEEventType names one of the Anthropic streaming event kinds.
type SSEEventType string

const (
	SSEEventMessageStart      SSEEventType = "message_start"
	SSEEventContentBlockStart SSEEventType = "content_block_start"
	SSEEventContentBlockDelta SSEEventType = "content_block_delta"
	SSEEventContentBlockStop  SSEEventType = "content_block_stop"
	SSEEventMessageDelta      SSEEventType = "message_delta"
	SSEEventMessageStop       SSEEventType = "message_stop"
	SSEEventPing              SSEEventType = "ping"
	SSEEventError             SSEEventType = "error"
)

// SSEEvent is the JSON payload carried by one `data:` line of the outbound
// Anthropic-compatible stream. Only the fields relevant to Type are set.
type SSEEvent struct {
	Type         SSEEventType      `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        int               `json:"index,omitempty"`
	Delta        *ContentDelta     `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Error        *SSEError         `json:"error,omitempty"`
}

// ContentDelta is the incremental payload of a content_block_delta event.
type ContentDelta struct {
	Type             string `json:"type"` // text_delta | thinking_delta | input_json_delta | signature_delta
	Text             string `json:"text,omitempty"`
	Thinking         string `json:"thinking,omitempty"`
	Signature        string `json:"signature,omitempty"`
	PartialJSON      string `json:"partial_json,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
}

// MessageDelta carries the final stop reason and stop sequence for
// message_delta events; usage travels separately on SSEEvent.Usage.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// SSEError is the error payload of an `error` SSE event.
type SSEError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Model represents a model entry in the /v1/models response.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse represents a response from GET /v1/models.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrorResponse is the wire shape of an Anthropic-style error body.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error type/message pair.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse constructs a new error response body.
func NewErrorResponse(errorType, message string) *ErrorResponse {
	return &ErrorResponse{Type: "error", Error: ErrorDetail{Type: errorType, Message: message}}
}

// NewMessagesResponse constructs a complete, non-streaming response.
func NewMessagesResponse(id, model string, content []ContentBlock, stopReason string, usage *Usage) *MessagesResponse {
	return &MessagesResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage:      usage,
	}
}

// GenerateMessageID returns a fresh `msg_`-prefixed identifier.
func GenerateMessageID() string { return "msg_" + randomHex(16) }

// GenerateToolUseID returns a fresh `toolu_`-prefixed identifier.
func GenerateToolUseID() string { return "toolu_" + randomHex(12) }

func randomHex(byteLength int) string {
	buf := make([]byte, byteLength)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// CloneContentBlock deep-copies a content block's Input and Source fields;
// Content and CacheControl are shared with the original.
func CloneContentBlock(cb ContentBlock) ContentBlock {
	clone := cb
	if cb.Input != nil {
		clone.Input = make(json.RawMessage, len(cb.Input))
		copy(clone.Input, cb.Input)
	}
	if cb.Source != nil {
		src := *cb.Source
		clone.Source = &src
	}
	return clone
}

// CloneMessage deep-copies a message and its content blocks.
func CloneMessage(msg Message) Message {
	clone := msg
	blocks := msg.Content.AsBlocks()
	cloned := make([]ContentBlock, len(blocks))
	for i, cb := range blocks {
		cloned[i] = CloneContentBlock(cb)
	}
	clone.Content = MessageContent{Blocks: cloned}
	return clone
}
