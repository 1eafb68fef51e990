package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	maxRequestSize        = 200000 // ~200KB limit for safety
)

// decodeErrorFunc turns an error body into an error and says whether the
// call may be retried.
type decodeErrorFunc func(status int, data []byte) (retry bool, err error)

// poster sends JSON payloads with exponential backoff. Network failures,
// 429 and 5xx are retried; other 4xx are returned at once.
type poster struct {
	provider   string
	http       *http.Client
	logger     zerolog.Logger
	maxRetries int
	baseDelay  time.Duration
}

func newPoster(provider string, opts Options, logger zerolog.Logger) poster {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}
	delay := opts.RetryBaseDelay
	if delay <= 0 {
		delay = defaultRetryBaseDelay
	}
	return poster{
		provider:   provider,
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: retries,
		baseDelay:  delay,
	}
}

func (p poster) post(ctx context.Context, url string, headers map[string]string, payload any, decodeErr decodeErrorFunc) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.baseDelay * time.Duration(1<<uint(attempt-1))
			p.logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msgf("retrying %s API call", p.provider)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		p.logger.Debug().
			Int("payload_size", len(body)).
			Msgf("%s API request", p.provider)

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := p.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		p.logger.Debug().
			Int("status", resp.StatusCode).
			Int("response_size", len(data)).
			Msgf("%s API response", p.provider)

		if resp.StatusCode >= 400 {
			retry, apiErr := decodeErr(resp.StatusCode, data)
			lastErr = apiErr
			p.logger.Error().
				Int("status", resp.StatusCode).
				Str("raw_response", truncateString(string(data), 500)).
				Int("attempt", attempt).
				Msgf("%s API error", p.provider)
			if retry && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) {
				continue
			}
			return nil, lastErr
		}
		return data, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
