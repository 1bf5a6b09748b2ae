// Package health tracks which proxies are disabled, why, and until when.
//
// A 407 from a proxy disables it permanently (its credentials are not coming
// back); a 403 disables it for 24 hours on the assumption that the target's
// anti-bot block is time-limited. Temporary records expire lazily: the first
// IsDisabled call after the window elapses deletes the record and persists
// the change. Every mutation is written through the Persister before the
// call returns; write failures are logged and the store carries on in memory.
package health

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go-proxy-rotator/internal/database/models"
	"go-proxy-rotator/internal/endpoint"
	"go-proxy-rotator/internal/logger"
)

type Store struct {
	persister Persister
	now       func() time.Time
	log       zerolog.Logger

	mu        sync.Mutex
	records   map[string]models.HealthRecord
	proxyList []string

	// saveMu orders writes so a later Save never carries older state.
	saveMu sync.Mutex
}

type Option func(*Store)

// WithClock replaces time.Now, letting tests move across the 24h window.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(persister Persister, opts ...Option) *Store {
	s := &Store{
		persister: persister,
		now:       time.Now,
		log:       logger.WithComponent("HealthStore"),
		records:   make(map[string]models.HealthRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with the persisted snapshot. Temporary
// records whose window already elapsed are dropped.
func (s *Store) Load() error {
	snapshot, err := s.persister.Load()
	if err != nil {
		return err
	}

	now := s.now()
	records := make(map[string]models.HealthRecord, len(snapshot.ProxyErrors))
	dropped := 0
	for key, rec := range snapshot.ProxyErrors {
		if rec.Expired(now) {
			dropped++
			continue
		}
		records[key] = rec
	}

	s.mu.Lock()
	s.records = records
	s.proxyList = append([]string{}, snapshot.ProxyList...)
	s.mu.Unlock()

	s.log.Info().
		Int("records", len(records)).
		Int("expired", dropped).
		Int("proxies", len(snapshot.ProxyList)).
		Msg("Health store loaded")
	return nil
}

// IsDisabled reports whether the proxy must be skipped right now.
func (s *Store) IsDisabled(proxyURL string) bool {
	key := endpoint.Mask(proxyURL)

	s.mu.Lock()
	rec, ok := s.records[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if !rec.Expired(s.now()) {
		s.mu.Unlock()
		return true
	}
	delete(s.records, key)
	s.mu.Unlock()

	s.log.Info().Str("endpoint", key).Msg("Temporary disable expired, proxy re-enabled")
	s.persist()
	return false
}

// RecordFailure classifies a failed attempt through proxyURL. Only 403 and
// 407 are attributed to the proxy; any other status leaves it usable. The
// returned bool reports whether a record was written.
func (s *Store) RecordFailure(proxyURL string, statusCode int, message string) (models.Kind, bool) {
	var kind models.Kind
	switch statusCode {
	case http.StatusProxyAuthRequired:
		kind = models.KindPermanent
	case http.StatusForbidden:
		kind = models.KindTemporary
	default:
		return "", false
	}

	key := endpoint.Mask(proxyURL)
	rec := models.HealthRecord{
		StatusCode: statusCode,
		Kind:       kind,
		DisabledAt: s.now().UTC(),
		Message:    message,
	}

	s.mu.Lock()
	s.records[key] = rec
	s.mu.Unlock()

	s.log.Warn().
		Str("endpoint", key).
		Int("status", statusCode).
		Str("kind", string(kind)).
		Msg("Proxy disabled")
	s.persist()
	return kind, true
}

// Record returns the current record for proxyURL, if any. It does not expire
// anything.
func (s *Store) Record(proxyURL string) (models.HealthRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[endpoint.Mask(proxyURL)]
	return rec, ok
}

// Records returns a copy of the health map keyed by masked endpoint.
func (s *Store) Records() map[string]models.HealthRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.HealthRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Keys returns the masked endpoints that currently have a record, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Clear removes the record for a proxy (raw or masked form). This is the only
// way a permanently disabled proxy comes back.
func (s *Store) Clear(proxyURL string) bool {
	key := endpoint.Mask(proxyURL)

	s.mu.Lock()
	_, ok := s.records[key]
	delete(s.records, key)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.log.Info().Str("endpoint", key).Msg("Health record cleared manually")
	s.persist()
	return true
}

// ProxyList returns the persisted proxy list.
func (s *Store) ProxyList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.proxyList...)
}

// SetProxyList replaces the persisted proxy list and writes it out.
func (s *Store) SetProxyList(list []string) {
	s.mu.Lock()
	s.proxyList = append([]string{}, list...)
	s.mu.Unlock()

	s.persist()
}

func (s *Store) persist() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	snapshot := &models.Snapshot{
		ProxyList:   append([]string{}, s.proxyList...),
		ProxyErrors: make(map[string]models.HealthRecord, len(s.records)),
		LastUpdated: s.now().UTC(),
	}
	for k, v := range s.records {
		snapshot.ProxyErrors[k] = v
	}
	s.mu.Unlock()

	if err := s.persister.Save(snapshot); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist health store, continuing in memory")
	}
}
