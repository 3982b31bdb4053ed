package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	expoPushURL     = "https://exp.host/--/api/v2/push/send"
	expoSendTimeout = 15 * time.Second
)

// ExpoSender sends push notifications through the Expo push service.
// Nil-safe: when not configured, Send is a no-op.
type ExpoSender struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewExpoSender creates a sender limited to perSecond pushes. Returns nil if
// push delivery is disabled.
func NewExpoSender(enabled bool, accessToken string, perSecond int, logger *slog.Logger) *ExpoSender {
	if !enabled {
		return nil
	}
	return newExpoSender(expoPushURL, accessToken, perSecond, logger)
}

func newExpoSender(endpoint, accessToken string, perSecond int, logger *slog.Logger) *ExpoSender {
	if perSecond < 1 {
		perSecond = 1
	}
	return &ExpoSender{
		endpoint:    endpoint,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: expoSendTimeout},
		limiter:     rate.NewLimiter(rate.Limit(perSecond), perSecond),
		logger:      logger,
	}
}

type expoMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound"`
}

type expoTicket struct {
	Status  string `json:"status"` // "ok" | "error"
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

// Send pushes one message to a device token. A non-nil error means the
// push was not accepted.
func (s *ExpoSender) Send(ctx context.Context, to, title, body string, data map[string]any) error {
	if s == nil {
		return nil // no-op when not configured
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push rate limit: %w", err)
	}

	payload, err := json.Marshal(expoMessage{To: to, Title: title, Body: body, Data: data, Sound: "default"})
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out struct {
		Data expoTicket `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode push response: %w", err)
	}
	if out.Data.Status != "ok" {
		if out.Data.Details.Error != "" {
			return fmt.Errorf("expo rejected push (%s): %s", out.Data.Details.Error, out.Data.Message)
		}
		return fmt.Errorf("expo rejected push: %s", out.Data.Message)
	}

	s.logger.Debug("push accepted", "ticket", out.Data.ID)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
