// Package cloudcode provides Cloud Code API client implementation.
// This file corresponds to src/cloudcode/request-builder.js in the Node.js version.
package cloudcode

import (
	"github.com/google/uuid"
	"github.com/relaygw/cloudcode-gateway/internal/config"
	"github.com/relaygw/cloudcode-gateway/internal/format"
	"github.com/relaygw/cloudcode-gateway/pkg/anthropic"
)

// CloudCodePayload represents the wrapped request body for Cloud Code API
type CloudCodePayload struct {
	Project     string                 `json:"project"`
	Model       string                 `json:"model"`
	Request     map[string]interface{} `json:"request"`
	UserAgent   string                 `json:"userAgent"`
	RequestType string                 `json:"requestType"`
	RequestID   string                 `json:"requestId"`
}

// BuildCloudCodeRequest builds the wrapped request body for Cloud Code API
func BuildCloudCodeRequest(anthropicRequest *anthropic.MessagesRequest, projectID string) (*CloudCodePayload, error) {
	model := anthropicRequest.Model

	// Convert to Google format and then to map for dynamic field addition
	googleRequestStruct := format.ConvertAnthropicToGoogle(anthropicRequest)
	googleRequest := googleRequestStruct.ToMap()

	// Use stable session ID derived from first user message for cache continuity
	googleRequest["sessionId"] = DeriveSessionID(anthropicRequest)

	payload := &CloudCodePayload{
		Project:     projectID,
		Model:       model,
		Request:     googleRequest,
		UserAgent:   "cloud-code-proxy",
		RequestType: "agent",
		RequestID:   "agent-" + uuid.New().String(),
	}

	return payload, nil
}

// BuildHeaders builds headers for Cloud Code API requests
func BuildHeaders(token, model string, accept string) map[string]string {
	if accept == "" {
		accept = "application/json"
	}

	headers := make(map[string]string)

	// Add authorization
	headers["Authorization"] = "Bearer " + token
	headers["Content-Type"] = "application/json"

	for k, v := range config.RequestHeaders() {
		headers[k] = v
	}

	// Add interleaved thinking header only for Claude thinking models
	modelFamily := config.GetModelFamily(model)
	if modelFamily == config.ModelFamilyClaude && config.IsThinkingModel(model) {
		headers["anthropic-beta"] = "interleaved-thinking-2025-05-14"
	}

	if accept != "application/json" {
		headers["Accept"] = accept
	}

	return headers
}
