package identity

import (
	"sort"
	"sync"
	"time"

	"portalauth/pkg/logging"
)

// Metrics tracks network activity of the credential manager: how often
// servers are classified, how often server tokens are minted or served from
// cache, and how refreshes and retries fare.
type Metrics struct {
	mu sync.RWMutex

	servers map[string]*serverMetrics

	totalRefreshes       int64
	totalRefreshFailures int64
	totalRetries         int64
	lastRefreshAt        time.Time
}

type serverMetrics struct {
	InfoFetches  int64
	TokenFetches int64
	CacheHits    int64
	LastFetchAt  time.Time
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{servers: make(map[string]*serverMetrics)}
}

func (m *Metrics) server(name string) *serverMetrics {
	if sm, ok := m.servers[name]; ok {
		return sm
	}
	sm := &serverMetrics{}
	m.servers[name] = sm
	return sm
}

func (m *Metrics) recordServerInfoFetch(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm := m.server(server)
	sm.InfoFetches++
	sm.LastFetchAt = time.Now()
}

func (m *Metrics) recordServerTokenFetch(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm := m.server(server)
	sm.TokenFetches++
	sm.LastFetchAt = time.Now()
}

func (m *Metrics) recordCacheHit(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.server(server).CacheHits++
}

func (m *Metrics) recordRefresh(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.totalRefreshes++
		m.lastRefreshAt = time.Now()
		return
	}
	m.totalRefreshFailures++
	logging.Debug("Identity", "Refresh failures so far: %d", m.totalRefreshFailures)
}

func (m *Metrics) recordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRetries++
}

// MetricsSummary is a read-only view of Metrics.
type MetricsSummary struct {
	TotalRefreshes       int64               `json:"total_refreshes"`
	TotalRefreshFailures int64               `json:"total_refresh_failures"`
	TotalRetries         int64               `json:"total_retries"`
	LastRefreshAt        *time.Time          `json:"last_refresh_at,omitempty"`
	Servers              []ServerMetricsView `json:"servers,omitempty"`
}

// ServerMetricsView holds the counters of one server.
type ServerMetricsView struct {
	Server       string    `json:"server"`
	InfoFetches  int64     `json:"info_fetches"`
	TokenFetches int64     `json:"token_fetches"`
	CacheHits    int64     `json:"cache_hits"`
	LastFetchAt  time.Time `json:"last_fetch_at,omitempty"`
}

// Summary returns a snapshot of the counters, servers sorted by name.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := MetricsSummary{
		TotalRefreshes:       m.totalRefreshes,
		TotalRefreshFailures: m.totalRefreshFailures,
		TotalRetries:         m.totalRetries,
	}
	if !m.lastRefreshAt.IsZero() {
		at := m.lastRefreshAt
		summary.LastRefreshAt = &at
	}
	for name, sm := range m.servers {
		summary.Servers = append(summary.Servers, ServerMetricsView{
			Server:       name,
			InfoFetches:  sm.InfoFetches,
			TokenFetches: sm.TokenFetches,
			CacheHits:    sm.CacheHits,
			LastFetchAt:  sm.LastFetchAt,
		})
	}
	sort.Slice(summary.Servers, func(i, j int) bool {
		return summary.Servers[i].Server < summary.Servers[j].Server
	})
	return summary
}
