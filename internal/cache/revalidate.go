package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/metrics"
)

const (
	// SignatureHeader carries the HMAC over the revalidation body.
	SignatureHeader = "X-Jovie-Signature"

	defaultRevalidateTimeout = 5 * time.Second
)

type revalidateRequest struct {
	UserID string `json:"user_id"`
}

// RevalidateClient tells the frontend to re-render a user's pages after
// their entitlement changed. Calls are signed so the endpoint can reject
// forged invalidations.
type RevalidateClient struct {
	url        string
	secret     string
	httpClient *http.Client
	breaker    *Breaker
	logger     *slog.Logger
}

// NewRevalidateClient returns nil when no URL is configured.
func NewRevalidateClient(url, secret string) *RevalidateClient {
	if url == "" {
		return nil
	}
	return &RevalidateClient{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: defaultRevalidateTimeout},
		breaker:    NewBreaker(5, time.Minute),
		logger:     slog.Default(),
	}
}

func (c *RevalidateClient) WithLogger(log *slog.Logger) *RevalidateClient {
	if c == nil {
		return nil
	}
	c.logger = log
	return c
}

func (c *RevalidateClient) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	if c == nil {
		return nil
	}

	if !c.breaker.Allow() {
		metrics.RecordCacheInvalidation("frontend", "suppressed")
		logger.FromContext(ctx).Debug("revalidation suppressed, circuit open", "user_id", userID)
		return nil
	}

	body, err := json.Marshal(revalidateRequest{UserID: userID.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal revalidation request: %w", err)
	}

	now := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build revalidation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, BuildSignatureHeader(GenerateSignature(body, c.secret, now), now))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		metrics.RecordCacheInvalidation("frontend", "error")
		return fmt.Errorf("revalidation request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		c.breaker.RecordFailure()
		metrics.RecordCacheInvalidation("frontend", "error")
		return fmt.Errorf("revalidation endpoint returned %d", resp.StatusCode)
	}

	c.breaker.RecordSuccess()
	metrics.RecordCacheInvalidation("frontend", "ok")
	return nil
}
