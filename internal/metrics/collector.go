// Package metrics exports session counters in the Prometheus format.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"portalauth/internal/identity"
)

const namespace = "portalauth"

var (
	refreshesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "token_refreshes_total"),
		"Portal token refreshes by outcome.",
		[]string{"outcome"}, nil,
	)
	retriesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "auth_retries_total"),
		"Requests resent after the destination rejected the token.",
		nil, nil,
	)
	lastRefreshDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "last_refresh_timestamp_seconds"),
		"Unix time of the last successful refresh.",
		nil, nil,
	)
	infoFetchesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "server", "info_fetches_total"),
		"rest/info lookups per server.",
		[]string{"server"}, nil,
	)
	tokenFetchesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "server", "token_fetches_total"),
		"Server tokens minted per server.",
		[]string{"server"}, nil,
	)
	cacheHitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "server", "token_cache_hits_total"),
		"Requests served from the server token cache.",
		[]string{"server"}, nil,
	)
)

// Collector reads a session's Metrics on every scrape.
type Collector struct {
	metrics *identity.Metrics
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over m.
func NewCollector(m *identity.Metrics) *Collector {
	return &Collector{metrics: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- refreshesDesc
	ch <- retriesDesc
	ch <- lastRefreshDesc
	ch <- infoFetchesDesc
	ch <- tokenFetchesDesc
	ch <- cacheHitsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Summary()

	ch <- prometheus.MustNewConstMetric(refreshesDesc, prometheus.CounterValue, float64(s.TotalRefreshes), "success")
	ch <- prometheus.MustNewConstMetric(refreshesDesc, prometheus.CounterValue, float64(s.TotalRefreshFailures), "failure")
	ch <- prometheus.MustNewConstMetric(retriesDesc, prometheus.CounterValue, float64(s.TotalRetries))
	if s.LastRefreshAt != nil {
		ch <- prometheus.MustNewConstMetric(lastRefreshDesc, prometheus.GaugeValue, float64(s.LastRefreshAt.Unix()))
	}
	for _, srv := range s.Servers {
		ch <- prometheus.MustNewConstMetric(infoFetchesDesc, prometheus.CounterValue, float64(srv.InfoFetches), srv.Server)
		ch <- prometheus.MustNewConstMetric(tokenFetchesDesc, prometheus.CounterValue, float64(srv.TokenFetches), srv.Server)
		ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(srv.CacheHits), srv.Server)
	}
}

// WriteText gathers m through a private registry and writes it in the
// Prometheus text exposition format.
func WriteText(w io.Writer, m *identity.Metrics) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(m)); err != nil {
		return fmt.Errorf("failed to register session metrics: %w", err)
	}

	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather session metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write session metrics: %w", err)
		}
	}
	return nil
}
