// Package notify forwards runtime events (plugin mutations, knowledge
// ingestion) to configured webhook endpoints. Bodies are JSON and, when a
// shared secret is configured, carry an HMAC-SHA256 signature so receivers
// can verify origin.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/internal/config"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// ── Service ──────────────────────────────────────────────────

// Service posts NotifyEvents to every configured webhook URL.
type Service struct {
	urls   []string
	secret string
	client *http.Client
}

// NewService builds a webhook notifier from config. With no URLs configured
// Emit is a no-op that returns an empty result set.
func NewService(cfg config.NotifyConfig) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{
		urls:   cfg.WebhookURLs,
		secret: cfg.Secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Emit delivers the event to all webhooks concurrently and collects one
// result per endpoint. Delivery failures are reported in the results, never
// as an error to the caller.
func (s *Service) Emit(ctx context.Context, event models.NotifyEvent) []models.NotifyResult {
	if len(s.urls) == 0 {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to marshal notify event")
		return nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]models.NotifyResult, 0, len(s.urls))
	)
	for _, url := range s.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			r := s.deliver(ctx, url, event, body)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(url)
	}
	wg.Wait()
	return results
}

// ── Delivery ─────────────────────────────────────────────────

func (s *Service) deliver(ctx context.Context, url string, event models.NotifyEvent, body []byte) models.NotifyResult {
	result := models.NotifyResult{
		Target:    url,
		Timestamp: time.Now().UTC(),
	}

	send := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "CheshireCat-Webhook/1.0")
		req.Header.Set("X-CCat-Event", string(event.Type))
		if event.TenantID != "" {
			req.Header.Set("X-CCat-Tenant", event.TenantID)
		}
		if s.secret != "" {
			req.Header.Set("X-CCat-Signature", "sha256="+s.sign(body))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, url))
		}
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, url)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(send, policy); err != nil {
		result.Error = err.Error()
		log.Warn().Err(err).Str("url", url).Str("event", string(event.Type)).Msg("Webhook notification failed")
		return result
	}

	result.Success = true
	log.Debug().Str("url", url).Str("event", string(event.Type)).Msg("Webhook notification dispatched")
	return result
}

// sign computes the hex HMAC-SHA256 of the body under the shared secret.
func (s *Service) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
