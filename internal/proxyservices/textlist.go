package proxyservices

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go-proxy-rotator/internal/endpoint"
	"go-proxy-rotator/internal/logger"
)

// maxListSize caps how much of a provider document is read.
const maxListSize = 4 << 20

// TextListService downloads a plain-text document with one
// "ip:port:username:password" entry per line.
type TextListService struct {
	url        string
	httpClient *http.Client
}

func NewTextListService(url string, client *http.Client) *TextListService {
	return &TextListService{
		url:        url,
		httpClient: client,
	}
}

func (s *TextListService) Name() string {
	return "textlist"
}

func (s *TextListService) FetchList(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy list provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	endpoints, skipped := endpoint.ParseProviderList(string(body))
	if skipped > 0 {
		l := logger.WithComponent("Provider")
		l.Warn().Int("skipped", skipped).Int("valid", len(endpoints)).Msg("Skipped malformed proxy lines")
	}

	return endpoints, nil
}
