package proxyservices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go-proxy-rotator/internal/endpoint"
)

const tmproxyGetCurrentURL = "https://tmproxy.com/api/proxy/get-current-proxy"

var (
	ErrNoCurrentProxy = errors.New("no current proxy available for this api key")
)

// TMProxyService reads the proxy currently assigned to an API key. TMProxy
// hands out one credentialed endpoint per key.
type TMProxyService struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewTMProxyService(apiKey string, client *http.Client) *TMProxyService {
	return &TMProxyService{
		apiKey:     apiKey,
		endpoint:   tmproxyGetCurrentURL,
		httpClient: client,
	}
}

func (s *TMProxyService) Name() string {
	return "tmproxy"
}

type tmproxyRequest struct {
	APIKey string `json:"api_key"`
}

type tmproxyCurrentProxyResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		NextRequest int    `json:"next_request"` // Seconds
		ExpiredAt   string `json:"expired_at"`
		HTTPS       string `json:"https"` // Format: "ip:port"
		Username    string `json:"username"`
		Password    string `json:"password"`
	} `json:"data"`
}

func (s *TMProxyService) FetchList(ctx context.Context) ([]string, error) {
	jsonData, err := json.Marshal(tmproxyRequest{APIKey: s.apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var tmResp tmproxyCurrentProxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tmResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Check for API error (code != 0 means error)
	if tmResp.Code != 0 {
		// code=27: key has no proxy assigned yet
		if tmResp.Code == 27 {
			return nil, ErrNoCurrentProxy
		}
		return nil, fmt.Errorf("tmproxy API error: code=%d, message=%s", tmResp.Code, tmResp.Message)
	}

	// Re-assemble the provider line format and parse it like any other list.
	line := strings.Join([]string{tmResp.Data.HTTPS, tmResp.Data.Username, tmResp.Data.Password}, ":")
	proxyURL, err := endpoint.ParseProviderLine(line)
	if err != nil {
		return nil, fmt.Errorf("tmproxy returned an unusable proxy: %w", err)
	}

	return []string{proxyURL}, nil
}
