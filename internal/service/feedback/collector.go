package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finetuning-llms/companion/internal/model/feedback"
)

var ErrUnauthorized = errors.New("feedback collector rejected credentials")

// Config describes the collector endpoint and its account.
type Config struct {
	BaseURL  string
	Email    string
	Password string
	Timeout  time.Duration
}

// Disabled is the collector used when no account is configured. It never sends anything.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Collect(context.Context, feedback.Record) error { return nil }

// HTTPCollector logs in with an email/password pair and posts feedback records.
type HTTPCollector struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	token string
}

// NewHTTPCollector builds a collector. client may be nil.
func NewHTTPCollector(cfg Config, client *http.Client, logger *zap.Logger) *HTTPCollector {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPCollector{cfg: cfg, client: client, logger: logger.Named("feedback")}
}

// Enabled reports whether both secrets are present.
func (c *HTTPCollector) Enabled() bool {
	return c.cfg.Email != "" && c.cfg.Password != ""
}

// Collect delivers one record. A rejected token is dropped so the next call logs in again.
func (c *HTTPCollector) Collect(ctx context.Context, record feedback.Record) error {
	if !c.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	status, err := c.postJSON(ctx, "/feedback", token, record, nil)
	if err != nil {
		return fmt.Errorf("save feedback %s: %w", record.Key, err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.clearToken()
		return ErrUnauthorized
	}
	if status >= 300 {
		return fmt.Errorf("save feedback %s: unexpected status %d", record.Key, status)
	}

	c.logger.Info("feedback recorded", zap.String("key", record.Key), zap.String("score", string(record.Response.Score)))
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (c *HTTPCollector) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	var resp loginResponse
	status, err := c.postJSON(ctx, "/auth/login", "", loginRequest{Email: c.cfg.Email, Password: c.cfg.Password}, &resp)
	if err != nil {
		return "", fmt.Errorf("feedback login: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if status >= 300 || resp.Token == "" {
		return "", fmt.Errorf("feedback login: unexpected status %d", status)
	}

	c.token = resp.Token
	return c.token, nil
}

func (c *HTTPCollector) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *HTTPCollector) postJSON(ctx context.Context, path, token string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
