// Package outbound delivers engineer-initiated updates to the dispatch authority
package outbound

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/internal/sxp"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// ErrRejected means the dispatch authority refused a message; it is not retried
var ErrRejected = errors.New("message rejected by dispatch authority")

// Header names set on every delivery
const (
	HeaderMessageID = "X-Fieldsync-Message-ID"
	HeaderTimestamp = "X-Fieldsync-Timestamp"
	HeaderSignature = "X-Fieldsync-Signature"
)

// Config holds the dispatch endpoint settings
type Config struct {
	URL      string
	Username string
	Password string
	// Secret signs request bodies with HMAC-SHA256 when set
	Secret        string
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// HTTPSender posts AppointmentUpdate messages over HTTP
type HTTPSender struct {
	cfg    Config
	schema *schema.Schema
	client *http.Client
	logger *slog.Logger
}

// NewHTTPSender creates a sender
func NewHTTPSender(cfg Config, s *schema.Schema, logger *slog.Logger) *HTTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &HTTPSender{
		cfg:    cfg,
		schema: s,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.Component(logger, "outbound"),
	}
}

func (h *HTTPSender) newBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.cfg.RetryInterval
	return backoff.WithMaxRetries(bo, uint64(h.cfg.MaxRetries))
}

// Send delivers one message and returns the last HTTP status received.
// Transport errors and 5xx answers are retried; 4xx answers are not.
func (h *HTTPSender) Send(ctx context.Context, msg *types.OutboundMessage) (int, error) {
	body, err := sxp.EncodeUpdate(msg, h.schema)
	if err != nil {
		return 0, fmt.Errorf("encoding message %s: %w", msg.ID, err)
	}

	var status int
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		code, err := h.post(ctx, msg, body)
		status = code
		switch {
		case err != nil:
			h.logger.Debug("delivery attempt failed", "message", msg.ID, "attempt", attempt, "error", err)
			return err
		case code >= 400 && code < 500:
			return backoff.Permanent(fmt.Errorf("%w: HTTP %d", ErrRejected, code))
		case code >= 500:
			h.logger.Debug("delivery attempt failed", "message", msg.ID, "attempt", attempt, "status", code)
			return fmt.Errorf("HTTP %d", code)
		}
		return nil
	}, backoff.WithContext(h.newBackoff(), ctx))
	if err != nil {
		return status, fmt.Errorf("delivering message %s after %d attempts: %w", msg.ID, attempt, err)
	}
	return status, nil
}

func (h *HTTPSender) post(ctx context.Context, msg *types.OutboundMessage, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("User-Agent", "Fieldsync/1.0")
	req.Header.Set(HeaderMessageID, msg.ID)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", msg.CreatedAt))
	if h.cfg.Username != "" {
		req.SetBasicAuth(h.cfg.Username, h.cfg.Password)
	}
	if h.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+sign(body, h.cfg.Secret))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// VerifySignature verifies an HMAC signature of a request body
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := "sha256=" + sign(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
