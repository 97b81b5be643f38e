// Package auth consumes operator-supplied Google OAuth refresh tokens.
//
// This proxy never performs its own authorization-code/PKCE enrollment —
// accounts arrive pre-enrolled as a composite refresh token
// (refresh_token|project_id|managed_project_id) plus an email, obtained by
// the operator out of band. All this package does is exchange that refresh
// token for short-lived access tokens via the standard OAuth2 refresh grant,
// and, for accounts onboarded without a project id, ask the Cloud Code
// internal API which project they belong to.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/relaygw/cloudcode-gateway/internal/config"
	"github.com/relaygw/cloudcode-gateway/internal/utils"
)

// RefreshParts is the decoded form of a composite refresh token, which packs
// the OAuth refresh token together with the project ids an account was
// onboarded against: "refreshToken|projectId|managedProjectId".
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts parses a composite refresh token string.
func ParseRefreshParts(refresh string) RefreshParts {
	parts := strings.Split(refresh, "|")
	result := RefreshParts{}
	if len(parts) > 0 {
		result.RefreshToken = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		result.ProjectID = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		result.ManagedProjectID = parts[2]
	}
	return result
}

// FormatRefreshParts formats refresh token parts back into a composite string.
func FormatRefreshParts(parts RefreshParts) string {
	base := fmt.Sprintf("%s|%s", parts.RefreshToken, parts.ProjectID)
	if parts.ManagedProjectID != "" {
		return fmt.Sprintf("%s|%s", base, parts.ManagedProjectID)
	}
	return base
}

func oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     config.OAuthConfig.ClientID,
		ClientSecret: config.OAuthConfig.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: config.OAuthConfig.TokenURL,
		},
	}
}

// RefreshResult is the outcome of a refresh-token exchange.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int
}

// RefreshAccessToken exchanges a composite refresh token for a fresh access
// token using the standard OAuth2 refresh grant.
func RefreshAccessToken(ctx context.Context, compositeRefresh string) (*RefreshResult, error) {
	parts := ParseRefreshParts(compositeRefresh)
	if parts.RefreshToken == "" {
		return nil, fmt.Errorf("empty refresh token")
	}

	tokenSource := oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: parts.RefreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	expiresIn := 0
	if !token.Expiry.IsZero() {
		if d := int(time.Until(token.Expiry).Seconds()); d > 0 {
			expiresIn = d
		}
	}

	return &RefreshResult{AccessToken: token.AccessToken, ExpiresIn: expiresIn}, nil
}

// DiscoverProjectID asks the Cloud Code internal API which project an
// already-authenticated account belongs to, trying endpoints in
// config.LoadCodeAssistEndpoints order. If loadCodeAssist reports no
// project at all, it falls back to onboarding the account onto its
// default tier so a project id is always returned when one exists.
func DiscoverProjectID(ctx context.Context, accessToken string) (string, error) {
	var lastResponse map[string]interface{}

	for _, endpoint := range config.LoadCodeAssistEndpoints {
		projectID, data, err := tryDiscoverProject(ctx, accessToken, endpoint)
		if err != nil {
			utils.Warn("[auth] project discovery failed at %s: %v", endpoint, err)
			continue
		}
		if projectID != "" {
			return projectID, nil
		}
		lastResponse = data
		break
	}

	if lastResponse == nil {
		return "", nil
	}

	tierID := defaultTierID(lastResponse)
	if tierID == "" {
		tierID = "free-tier"
	}
	utils.Info("[auth] no project in loadCodeAssist response, onboarding with tier %s", tierID)

	projectID, err := OnboardUser(ctx, accessToken, tierID, "", 10, 5000)
	if err != nil {
		utils.Warn("[auth] onboarding fallback failed: %v", err)
		return "", nil
	}
	return projectID, nil
}

func defaultTierID(data map[string]interface{}) string {
	allowedTiers, ok := data["allowedTiers"].([]interface{})
	if !ok || len(allowedTiers) == 0 {
		return ""
	}
	for _, tier := range allowedTiers {
		tierMap, ok := tier.(map[string]interface{})
		if !ok {
			continue
		}
		if isDefault, ok := tierMap["isDefault"].(bool); ok && isDefault {
			if id, ok := tierMap["id"].(string); ok {
				return id
			}
		}
	}
	if firstTier, ok := allowedTiers[0].(map[string]interface{}); ok {
		if id, ok := firstTier["id"].(string); ok {
			return id
		}
	}
	return ""
}

func tryDiscoverProject(ctx context.Context, accessToken, endpoint string) (string, map[string]interface{}, error) {
	reqBody := map[string]interface{}{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:loadCodeAssist", strings.NewReader(string(jsonBody)))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.RequestHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", nil, err
	}

	if projectID, ok := data["cloudaicompanionProject"].(string); ok && projectID != "" {
		return projectID, data, nil
	}
	if projectObj, ok := data["cloudaicompanionProject"].(map[string]interface{}); ok {
		if projectID, ok := projectObj["id"].(string); ok && projectID != "" {
			return projectID, data, nil
		}
	}

	return "", data, nil
}
