// Package handlers provides HTTP request handlers for the server.
// This file handles the main /v1/messages endpoint.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/relaygw/cloudcode-gateway/internal/account"
	"github.com/relaygw/cloudcode-gateway/internal/cloudcode"
	"github.com/relaygw/cloudcode-gateway/internal/config"
	"github.com/relaygw/cloudcode-gateway/internal/modules"
	"github.com/relaygw/cloudcode-gateway/internal/server/sse"
	"github.com/relaygw/cloudcode-gateway/internal/utils"
	"github.com/relaygw/cloudcode-gateway/pkg/anthropic"
)

// MessagesHandler handles the /v1/messages endpoint
type MessagesHandler struct {
	accountManager  *account.Manager
	cloudCodeClient *cloudcode.Client
	cfg             *config.Config
	usageStats      *modules.UsageStats
	fallbackEnabled bool
}

// NewMessagesHandler creates a new MessagesHandler
func NewMessagesHandler(
	accountManager *account.Manager,
	cloudCodeClient *cloudcode.Client,
	cfg *config.Config,
	usageStats *modules.UsageStats,
	fallbackEnabled bool,
) *MessagesHandler {
	return &MessagesHandler{
		accountManager:  accountManager,
		cloudCodeClient: cloudCodeClient,
		cfg:             cfg,
		usageStats:      usageStats,
		fallbackEnabled: fallbackEnabled,
	}
}

// Messages handles POST /v1/messages - Anthropic Messages API compatible
func (h *MessagesHandler) Messages(c *gin.Context) {
	ctx := c.Request.Context()

	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return
	}

	requestedModel := req.Model
	if requestedModel == "" {
		requestedModel = "claude-3-5-sonnet-20241022"
	}

	if h.cfg.ModelMapping != nil {
		if mapping, ok := h.cfg.ModelMapping[requestedModel]; ok && mapping != "" {
			utils.Info("[Server] Mapping model %s -> %s", requestedModel, mapping)
			requestedModel = mapping
		}
	}
	req.Model = requestedModel

	// Validate model ID against a live account's quota listing before dispatch.
	// GetAvailableAccounts is a plain read with no selection side effects (no
	// token-bucket consumption, no LastUsed bump) so this check doesn't cost
	// the account pool a real dispatch slot.
	if available := h.accountManager.GetAvailableAccounts(req.Model); len(available) > 0 {
		validationAccount := available[0]
		token, err := h.accountManager.GetTokenForAccount(ctx, validationAccount)
		if err == nil {
			projectID := ""
			if validationAccount.Subscription != nil {
				projectID = validationAccount.Subscription.ProjectID
			}
			if !cloudcode.IsValidModel(ctx, req.Model, token, projectID) {
				h.sendError(c, http.StatusBadRequest, "invalid_request_error",
					"Invalid model: "+req.Model+". Use /v1/models to see available models.")
				return
			}
		}
	}

	// If every account is rate-limited for this model, reset state and try anyway:
	// the reset window may have already passed since the last recorded 429.
	if h.accountManager.IsAllRateLimited(req.Model) {
		utils.Warn("[Server] All accounts rate-limited for %s. Resetting state for optimistic retry.", req.Model)
		h.accountManager.ResetAllRateLimits(ctx)
	}

	if len(req.Messages) == 0 {
		h.sendError(c, http.StatusBadRequest, "invalid_request_error", "messages is required and must be an array")
		return
	}

	// Some clients probe connectivity with a single "count" message; answer
	// without dispatching upstream.
	if blocks := req.Messages[0].Content.AsBlocks(); len(req.Messages) == 1 && len(blocks) == 1 {
		if blocks[0].Type == "text" && blocks[0].Text == "count" {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
	}

	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}

	if h.usageStats != nil {
		h.usageStats.Track(req.Model)
	}

	utils.Info("[API] Request for model: %s, stream: %t", req.Model, req.Stream)

	if utils.IsDebug() {
		utils.Debug("[API] Message structure:")
		for i, msg := range req.Messages {
			blocks := msg.Content.AsBlocks()
			types := make([]string, 0, len(blocks))
			for _, block := range blocks {
				types = append(types, block.Type)
			}
			utils.Debug("  [%d] %s: %s", i, msg.Role, strings.Join(types, ", "))
		}
	}

	if req.Stream {
		h.handleStreamingResponse(c, &req)
	} else {
		h.handleNonStreamingResponse(c, &req)
	}
}

// handleStreamingResponse handles streaming SSE responses
func (h *MessagesHandler) handleStreamingResponse(c *gin.Context, req *anthropic.MessagesRequest) {
	ctx := c.Request.Context()

	events, errs := h.cloudCodeClient.SendMessageStream(ctx, req, h.fallbackEnabled)

	// Pull the first event before committing to response headers, so an
	// immediate failure can still be reported as a normal JSON error.
	var firstEvent *cloudcode.SSEEvent
	var firstErr error

	select {
	case event, ok := <-events:
		if !ok {
			select {
			case err := <-errs:
				firstErr = err
			default:
				firstErr = cloudcode.NewEmptyResponseError("No response received")
			}
		} else {
			firstEvent = event
		}
	case err := <-errs:
		firstErr = err
	}

	if firstErr != nil {
		utils.Error("[API] Initial stream error: %v", firstErr)
		errorType, statusCode, errorMessage := parseError(firstErr)
		h.sendError(c, statusCode, errorType, errorMessage)
		return
	}

	sseWriter, err := sse.NewWriter(c.Writer)
	if err != nil {
		utils.Error("[API] Failed to create SSE writer: %v", err)
		h.sendError(c, http.StatusInternalServerError, "api_error", "Streaming not supported")
		return
	}

	c.Status(http.StatusOK)
	sseWriter.SetHeaders()
	c.Writer.Flush()

	if firstEvent != nil {
		if err := sseWriter.WriteEvent(firstEvent.Type, firstEvent); err != nil {
			utils.Error("[API] Error writing first SSE event: %v", err)
			return
		}
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := sseWriter.WriteEvent(event.Type, event); err != nil {
				utils.Error("[API] Error writing SSE event: %v", err)
				return
			}
		case err := <-errs:
			if err != nil {
				utils.Error("[API] Mid-stream error: %v", err)
				errorType, _, errorMessage := parseError(err)
				_ = sseWriter.WriteError(errorType, errorMessage)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleNonStreamingResponse handles non-streaming responses
func (h *MessagesHandler) handleNonStreamingResponse(c *gin.Context, req *anthropic.MessagesRequest) {
	ctx := c.Request.Context()

	response, err := h.cloudCodeClient.SendMessage(ctx, req, h.fallbackEnabled)
	if err != nil {
		utils.Error("[API] Error: %v", err)
		errorType, statusCode, errorMessage := h.handleAPIError(err)
		h.sendError(c, statusCode, errorType, errorMessage)
		return
	}

	c.JSON(http.StatusOK, response)
}

// handleAPIError handles API errors, invalidating cached tokens on auth failure
func (h *MessagesHandler) handleAPIError(err error) (string, int, string) {
	errorType, statusCode, errorMessage := parseError(err)

	if errorType == "authentication_error" {
		utils.Warn("[API] Token might be expired, clearing cache...")
		h.accountManager.ClearTokenCache()
		errorMessage = "Token was expired and has been refreshed. Please retry your request."
	}

	utils.Warn("[API] Returning error response: %d %s - %s", statusCode, errorType, errorMessage)
	return errorType, statusCode, errorMessage
}

// sendError sends an error JSON response
func (h *MessagesHandler) sendError(c *gin.Context, statusCode int, errorType, message string) {
	c.JSON(statusCode, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errorType,
			"message": message,
		},
	})
}

// CountTokens handles POST /v1/messages/count_tokens
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    "not_implemented",
			"message": "Token counting is not implemented. Use /v1/messages with max_tokens or configure your client to skip token counting.",
		},
	})
}

// parseError parses an error and returns error type, status code, and message
func parseError(err error) (string, int, string) {
	errorType := "api_error"
	statusCode := 500
	errorMessage := err.Error()

	msg := err.Error()

	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "UNAUTHENTICATED"):
		errorType = "authentication_error"
		statusCode = 401
		errorMessage = "Authentication failed. Check that the configured account credentials are valid."
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "QUOTA_EXHAUSTED"):
		errorType = "invalid_request_error"
		statusCode = 400

		model := "the model"
		if idx := strings.Index(msg, "Rate limited on "); idx >= 0 {
			if end := strings.Index(msg[idx:], "."); end > 0 {
				model = msg[idx+len("Rate limited on "):idx+end]
			}
		}

		if idx := strings.Index(msg, "quota will reset after "); idx >= 0 {
			rest := msg[idx+len("quota will reset after "):]
			if end := strings.IndexAny(rest, ".,"); end > 0 {
				errorMessage = "You have exhausted your capacity on " + model + ". Quota will reset after " + rest[:end] + "."
			} else {
				errorMessage = "You have exhausted your capacity on " + model + ". Please wait for your quota to reset."
			}
		} else {
			errorMessage = "You have exhausted your capacity on " + model + ". Please wait for your quota to reset."
		}
	case strings.Contains(msg, "invalid_request_error") || strings.Contains(msg, "INVALID_ARGUMENT"):
		errorType = "invalid_request_error"
		statusCode = 400
		if idx := strings.Index(msg, `"message":"`); idx >= 0 {
			rest := msg[idx+len(`"message":"`):]
			if end := strings.Index(rest, `"`); end > 0 {
				errorMessage = rest[:end]
			}
		}
	case strings.Contains(msg, "All endpoints failed"):
		errorType = "api_error"
		statusCode = 503
		errorMessage = "Unable to connect to the Cloud Code API."
	case strings.Contains(msg, "PERMISSION_DENIED"):
		errorType = "permission_error"
		statusCode = 403
	}

	return errorType, statusCode, errorMessage
}

// RefreshTokenHandler handles POST /refresh-token
type RefreshTokenHandler struct {
	accountManager *account.Manager
}

// NewRefreshTokenHandler creates a new RefreshTokenHandler
func NewRefreshTokenHandler(accountManager *account.Manager) *RefreshTokenHandler {
	return &RefreshTokenHandler{accountManager: accountManager}
}

// RefreshToken handles POST /refresh-token
func (h *RefreshTokenHandler) RefreshToken(c *gin.Context) {
	h.accountManager.ClearTokenCache()

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Token cache cleared",
	})
}
