package proxyservices

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

const kiotproxyGetCurrentURL = "https://api.kiotproxy.com/api/v1/proxies/current"

// KiotProxyService reads the proxy currently assigned to an API key.
// KiotProxy endpoints are IP-whitelisted, so they carry no credentials.
type KiotProxyService struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewKiotProxyService(apiKey string, client *http.Client) *KiotProxyService {
	return &KiotProxyService{
		apiKey:     apiKey,
		endpoint:   kiotproxyGetCurrentURL,
		httpClient: client,
	}
}

func (s *KiotProxyService) Name() string {
	return "kiotproxy"
}

type kiotproxyCurrentProxyResponse struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		NextRequestAt int64  `json:"nextRequestAt"` // Unix timestamp in milliseconds
		ExpirationAt  int64  `json:"expirationAt"`  // Unix timestamp in milliseconds
		HTTP          string `json:"http"`          // Format: "ip:port"
		TTC           int    `json:"ttc"`           // Time to change in seconds
	} `json:"data"`
}

func (s *KiotProxyService) FetchList(ctx context.Context) ([]string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid kiotproxy endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", s.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var kiotResp kiotproxyCurrentProxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&kiotResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !kiotResp.Success || kiotResp.Code != 200 {
		return nil, fmt.Errorf("kiotproxy API error: %s", kiotResp.Message)
	}

	if _, _, err := net.SplitHostPort(kiotResp.Data.HTTP); err != nil {
		return nil, fmt.Errorf("kiotproxy returned an unusable proxy %q: %w", kiotResp.Data.HTTP, err)
	}

	return []string{"http://" + kiotResp.Data.HTTP}, nil
}
