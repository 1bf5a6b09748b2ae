// Package executor runs one logical request across the proxy pool.
//
// Two budgets bound a request. Attempts count ordinary failures and back off
// linearly. Rotations count 403s on a pooled request; each one disables the
// proxy for a day and moves on to another without spending an attempt.
// A spent rotation budget ends the request with a BlockedError. A spent
// attempt budget on a pooled request gets one direct try before giving up
// with an ExhaustedError.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go-proxy-rotator/internal/config"
	"go-proxy-rotator/internal/database/models"
	"go-proxy-rotator/internal/endpoint"
	"go-proxy-rotator/internal/logger"
	"go-proxy-rotator/internal/shaper"
)

const maxBodySize = 32 << 20

// Selector picks the proxy for the next attempt. *proxymanager.Pool
// satisfies it.
type Selector interface {
	Select(strategy string, used map[string]struct{}) (string, bool)
	Len() int
}

// FailureRecorder is the health side of the executor. *health.Store
// satisfies it.
type FailureRecorder interface {
	RecordFailure(proxyURL string, statusCode int, message string) (models.Kind, bool)
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Endpoint is the masked proxy that served the response, empty when direct.
	Endpoint string
	// Attempts counts budgeted tries; a direct fallback shows as
	// maxAttempts+1. Rotations are not included.
	Attempts  int
	Rotations int
}

type Executor struct {
	pool   Selector
	health FailureRecorder
	shaper *shaper.Shaper

	enabled      bool
	strategy     string
	maxAttempts  int
	maxRotations int

	sleep func(time.Duration)
	log   zerolog.Logger

	// rngMu guards rng; Do runs concurrently.
	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Executor)

// WithSleep replaces time.Sleep for backoff and jitter.
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(e *Executor) {
		e.rng = rng
	}
}

func New(cfg *config.Config, pool Selector, health FailureRecorder, sh *shaper.Shaper, opts ...Option) *Executor {
	e := &Executor{
		pool:         pool,
		health:       health,
		shaper:       sh,
		enabled:      cfg.Enabled,
		strategy:     cfg.Strategy,
		maxAttempts:  cfg.RetryAttempts,
		maxRotations: cfg.MaxRotations,
		sleep:        time.Sleep,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		log:          logger.WithComponent("Executor"),
	}
	if e.maxAttempts < 1 {
		e.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	return e.Do(ctx, &Request{Method: http.MethodGet, URL: url, Header: header})
}

func (e *Executor) Post(ctx context.Context, url string, body []byte, contentType string, header http.Header) (*Response, error) {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return e.Do(ctx, &Request{Method: http.MethodPost, URL: url, Header: h, Body: body})
}

// Do runs req until it succeeds or a budget is spent. Callers only ever see
// a successful response, a BlockedError, an ExhaustedError, the raw last
// error when pooling is off, or the context error.
func (e *Executor) Do(ctx context.Context, req *Request) (*Response, error) {
	l := e.log.With().Str("request_id", uuid.NewString()).Str("url", req.URL).Logger()

	used := make(map[string]struct{})
	pooled := e.enabled
	usedProxy := false

	var lastErr error
	attempt, rotations := 1, 0

	for attempt <= e.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		proxy := ""
		if pooled && e.pool.Len() > 0 {
			if p, ok := e.pool.Select(e.strategy, used); ok {
				proxy = p
				usedProxy = true
			}
		}
		masked := "direct"
		if proxy != "" {
			masked = endpoint.Mask(proxy)
		}

		resp, err := e.attempt(ctx, req, proxy)
		if err == nil {
			resp.Attempts = attempt
			resp.Rotations = rotations
			l.Info().
				Str("endpoint", masked).
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Int("rotations", rotations).
				Msg("Request succeeded")
			return resp, nil
		}
		lastErr = err
		status := StatusCode(err)

		if status == http.StatusForbidden && pooled {
			if rotations >= e.maxRotations {
				l.Error().Int("rotations", rotations).Msg("Rotation budget spent on 403s")
				return nil, &BlockedError{URL: req.URL, Rotations: rotations, Err: err}
			}
			rotations++
			if proxy != "" {
				e.health.RecordFailure(proxy, status, err.Error())
			}
			delay := e.rotationDelay()
			l.Warn().
				Str("endpoint", masked).
				Int("rotation", rotations).
				Dur("delay", delay).
				Msg("Blocked through proxy, rotating")
			e.sleep(delay)
			continue
		}

		if proxy != "" && (status == http.StatusForbidden || status == http.StatusProxyAuthRequired) {
			e.health.RecordFailure(proxy, status, err.Error())
		}
		l.Warn().
			Err(err).
			Str("endpoint", masked).
			Int("attempt", attempt).
			Int("max_attempts", e.maxAttempts).
			Msg("Attempt failed")

		if attempt < e.maxAttempts {
			e.sleep(time.Duration(1000*attempt) * time.Millisecond)
		}
		attempt++
	}

	if !usedProxy {
		return nil, lastErr
	}

	l.Warn().Msg("Proxy attempts exhausted, trying direct connection")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := e.attempt(ctx, req, "")
	if err == nil {
		resp.Attempts = attempt
		resp.Rotations = rotations
		l.Info().Int("status", resp.StatusCode).Msg("Direct fallback succeeded")
		return resp, nil
	}
	l.Error().Err(err).AnErr("pooled_err", lastErr).Msg("Direct fallback failed")

	return nil, &ExhaustedError{URL: req.URL, Attempts: e.maxAttempts, Err: lastErr}
}

// rotationDelay draws the 1000..3000ms jitter used before rotating.
func (e *Executor) rotationDelay() time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return time.Duration(1000+e.rng.Intn(2001)) * time.Millisecond
}

// attempt performs one network try. Any status outside 2xx/3xx comes back
// as a *StatusError.
func (e *Executor) attempt(ctx context.Context, req *Request, proxy string) (*Response, error) {
	a, err := e.shaper.Build(proxy)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	a.Apply(httpReq)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		if proxy != "" && !errors.Is(err, context.Canceled) {
			if code := tunnelStatus(err); code != 0 {
				return nil, &StatusError{Code: code, Status: http.StatusText(code)}
			}
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if !shaper.Accepts(resp.StatusCode) {
		return nil, &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Endpoint:   endpoint.Mask(proxy),
	}, nil
}
