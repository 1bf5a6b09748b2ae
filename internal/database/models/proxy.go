package models

import (
	"time"
)

// Kind tells how long a health record keeps its proxy out of rotation.
type Kind string

const (
	KindPermanent Kind = "PERMANENT"     // credentials rejected (407)
	KindTemporary Kind = "TEMPORARY_24H" // blocked by the target (403)
)

// TemporaryWindow is how long a KindTemporary record disables its proxy.
const TemporaryWindow = 24 * time.Hour

// HealthRecord is keyed by the masked proxy endpoint.
type HealthRecord struct {
	StatusCode int       `json:"statusCode"`
	Kind       Kind      `json:"kind"`
	DisabledAt time.Time `json:"disabledAt"`
	Message    string    `json:"message"`
}

// Expired reports whether a temporary record's window has elapsed at now.
// Permanent records never expire.
func (r HealthRecord) Expired(now time.Time) bool {
	if r.Kind != KindTemporary {
		return false
	}
	return now.Sub(r.DisabledAt) >= TemporaryWindow
}

// Snapshot is the whole persisted document: the current proxy list plus the
// health map, written wholesale on every change.
type Snapshot struct {
	ProxyList   []string                `json:"proxyList"`
	ProxyErrors map[string]HealthRecord `json:"proxyErrors"`
	LastUpdated time.Time               `json:"lastUpdated"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		ProxyList:   []string{},
		ProxyErrors: make(map[string]HealthRecord),
	}
}
