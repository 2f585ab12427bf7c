// Package synth provides speech synthesizer implementations: a rate-limited
// HTTP service client, a fallback chain, and a scriptable mock for tests.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// Defaults for the HTTP synthesizer.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second
	DefaultRequestsPerSec = 2
	// MaxResponseBytes caps a single synthesized clip at 10MB.
	MaxResponseBytes = 10 * 1024 * 1024
)

// HTTPConfig configures the HTTP synthesizer.
type HTTPConfig struct {
	Endpoint       string
	APIKey         string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestsPerSec float64
	Logger         *log.Logger
}

// HTTPService synthesizes speech by POSTing sentence text to a remote
// endpoint and reading audio bytes back. The service is treated as
// unreliable and rate-limited: requests pass through a client-side limiter
// and transient failures are retried a bounded number of times.
type HTTPService struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	retries  int
	delay    time.Duration
	logger   *log.Logger
}

// synthesisRequest is the wire form of one synthesis call.
type synthesisRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Format string  `json:"format,omitempty"`
	Speed  float64 `json:"speed,omitempty"`
}

// NewHTTPService creates an HTTP synthesizer.
func NewHTTPService(cfg HTTPConfig) (*HTTPService, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("synth: endpoint is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = DefaultRequestsPerSec
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &HTTPService{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		retries:  cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
		logger:   cfg.Logger,
	}, nil
}

// Name identifies this synthesizer.
func (s *HTTPService) Name() string { return "http" }

// Synthesize converts text to audio bytes, retrying transient failures.
func (s *HTTPService) Synthesize(ctx context.Context, text string, opts speech.SynthesisOptions) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.delay):
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		audio, err := s.call(ctx, text, opts)
		if err == nil {
			return audio, nil
		}
		lastErr = err
		s.logger.Warn("synthesis attempt failed",
			"attempt", attempt+1, "max", s.retries, "error", err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", speech.ErrSynthesisFailed, s.retries, lastErr)
}

// call performs a single synthesis request.
func (s *HTTPService) call(ctx context.Context, text string, opts speech.SynthesisOptions) ([]byte, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:   text,
		Voice:  opts.Voice,
		Format: opts.Format,
		Speed:  opts.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the error message.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("synthesis HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesis returned empty audio")
	}
	return audio, nil
}
