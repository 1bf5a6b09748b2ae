package proxyservices

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go-proxy-rotator/internal/config"
)

const (
	providerTimeout = 30 * time.Second
	userAgent       = "go-proxy-rotator/1.0"
)

// ListProvider fetches the current proxy inventory from an external
// service. Results are proxy URLs ready for the pool.
type ListProvider interface {
	FetchList(ctx context.Context) ([]string, error)
	Name() string
}

// NewProvider builds the provider named by the configuration.
func NewProvider(name, remoteURL, apiKey string) (ListProvider, error) {
	client := &http.Client{Timeout: providerTimeout}

	switch name {
	case config.ProviderTextList:
		if remoteURL == "" {
			return nil, fmt.Errorf("textlist provider requires a remote URL")
		}
		return NewTextListService(remoteURL, client), nil
	case config.ProviderTMProxy:
		return NewTMProxyService(apiKey, client), nil
	case config.ProviderKiot:
		return NewKiotProxyService(apiKey, client), nil
	default:
		return nil, fmt.Errorf("unknown service type: %s", name)
	}
}
