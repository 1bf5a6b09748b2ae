// Package shaper builds the per-attempt HTTP client: a browser-consistent
// header set, an optional proxy tunnel, and the timeout and redirect policy.
package shaper

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	DefaultTimeout      = 20 * time.Second
	DefaultMaxRedirects = 5
)

// Shaper hands out one Attempt per network try. The UA index is shared by
// all callers and advances on every Build, independent of proxy rotation.
type Shaper struct {
	timeout      time.Duration
	maxRedirects int

	mu      sync.Mutex
	uaIndex int
	rng     *rand.Rand
}

type Option func(*Shaper)

func WithRand(rng *rand.Rand) Option {
	return func(s *Shaper) {
		s.rng = rng
	}
}

func New(timeout time.Duration, maxRedirects int, opts ...Option) *Shaper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRedirects < 0 {
		maxRedirects = DefaultMaxRedirects
	}
	s := &Shaper{
		timeout:      timeout,
		maxRedirects: maxRedirects,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attempt is the client configuration for a single try.
type Attempt struct {
	Client *http.Client
	Header http.Header
	// Proxy is the raw proxy URL, empty for a direct connection.
	Proxy string
}

// Apply copies the shaped headers onto req without overriding anything the
// caller already set.
func (a *Attempt) Apply(req *http.Request) {
	for k, v := range a.Header {
		if _, ok := req.Header[k]; ok {
			continue
		}
		req.Header[k] = append([]string(nil), v...)
	}
}

// Close drops the attempt's idle connections. Each attempt owns its own
// transport, so nothing is shared with the next try.
func (a *Attempt) Close() {
	a.Client.CloseIdleConnections()
}

// Build returns the configuration for one attempt through proxyURL, or a
// direct connection when proxyURL is empty.
func (s *Shaper) Build(proxyURL string) (*Attempt, error) {
	s.mu.Lock()
	ua := userAgents[s.uaIndex]
	s.uaIndex = (s.uaIndex + 1) % len(userAgents)
	forwarded := s.randomIPv4()
	realIP := s.randomIPv4()
	s.mu.Unlock()

	header := browserHeaders(ua)
	header.Set("X-Forwarded-For", forwarded)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   s.timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   s.timeout,
		ResponseHeaderTimeout: s.timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %w", errOrHost(err))
		}
		transport.Proxy = http.ProxyURL(u)
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		header.Set("X-Real-IP", realIP)
	}

	client := &http.Client{
		Transport:     transport,
		Timeout:       s.timeout,
		CheckRedirect: s.checkRedirect,
	}

	return &Attempt{Client: client, Header: header, Proxy: proxyURL}, nil
}

func (s *Shaper) checkRedirect(req *http.Request, via []*http.Request) error {
	if s.maxRedirects == 0 {
		return http.ErrUseLastResponse
	}
	if len(via) >= s.maxRedirects {
		return fmt.Errorf("stopped after %d redirects", s.maxRedirects)
	}
	return nil
}

// randomIPv4 must be called with s.mu held.
func (s *Shaper) randomIPv4() string {
	return fmt.Sprintf("%d.%d.%d.%d", s.rng.Intn(223)+1, s.rng.Intn(256), s.rng.Intn(256), s.rng.Intn(254)+1)
}

// Accepts reports whether status counts as success. Everything outside
// 2xx/3xx is a failure the executor classifies, even though the transport
// returned a response.
func Accepts(status int) bool {
	return status >= 200 && status < 400
}

func errOrHost(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("missing host")
}
