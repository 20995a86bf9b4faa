package pluginclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mcstore/internal/util"

	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned when the plugin URL or secret is missing
	ErrNotConfigured = errors.New("plugin webhook is not configured")
	// ErrUnavailable is returned when the plugin cannot be reached
	ErrUnavailable = errors.New("could not connect to the game server")
)

// APIError is a non-2xx answer from the plugin
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plugin returned %d: %s", e.Status, e.Message)
}

// PlayerContext lets the plugin resolve placeholders in a command
type PlayerContext struct {
	PlayerName string `json:"playerName"`
	UUID       string `json:"uuid"`
	Username   string `json:"username"`
}

type executeCommandRequest struct {
	Command       string        `json:"command"`
	PlayerContext PlayerContext `json:"playerContext"`
}

type pluginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UUID    string `json:"uuid"`
}

// Client talks to the Minecraft plugin webhook with a shared bearer secret
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		secret:     secret,
		httpClient: util.NewHTTPClient(timeout),
		logger:     util.GetLogger(),
	}
}

// Configured reports whether both URL and secret are set
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.secret != ""
}

// ExecuteCommand dispatches one raw command for the player
func (c *Client) ExecuteCommand(ctx context.Context, command string, player PlayerContext) error {
	ctx, span := util.StartSpan(ctx, "PluginClient.ExecuteCommand")
	defer span.End()

	return c.post(ctx, "/execute-command", executeCommandRequest{Command: command, PlayerContext: player}, nil)
}

// PlayerStats returns the plugin's stats document for a player uuid as-is
func (c *Client) PlayerStats(ctx context.Context, uuid string) (json.RawMessage, error) {
	ctx, span := util.StartSpan(ctx, "PluginClient.PlayerStats")
	defer span.End()

	var raw json.RawMessage
	if err := c.post(ctx, "/player-stats", map[string]string{"uuid": uuid}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SendVerificationCode asks the plugin to message a code to the online player
func (c *Client) SendVerificationCode(ctx context.Context, username string) error {
	ctx, span := util.StartSpan(ctx, "PluginClient.SendVerificationCode")
	defer span.End()

	var resp pluginResponse
	if err := c.post(ctx, "/generate-and-send-code", map[string]string{"username": username}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &APIError{Status: http.StatusBadRequest, Message: orDefault(resp.Message, "Failed to send verification code in-game.")}
	}
	return nil
}

// VerifyCode checks a player's code and returns their Minecraft uuid
func (c *Client) VerifyCode(ctx context.Context, username, code string) (string, error) {
	ctx, span := util.StartSpan(ctx, "PluginClient.VerifyCode")
	defer span.End()

	var resp pluginResponse
	if err := c.post(ctx, "/verify-code", map[string]string{"username": username, "code": code}, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.UUID == "" {
		return "", &APIError{Status: http.StatusBadRequest, Message: orDefault(resp.Message, "Invalid or expired verification code.")}
	}
	return resp.UUID, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Plugin request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read plugin response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp pluginResponse
		_ = json.Unmarshal(data, &errResp)
		return &APIError{Status: resp.StatusCode, Message: orDefault(errResp.Message, http.StatusText(resp.StatusCode))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode plugin response: %w", err)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
