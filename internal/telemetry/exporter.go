// Package telemetry exposes the historical store's state as Prometheus
// metrics. The exporter reads the store at scrape time, so the numbers
// are live even though collection runs in a separate cron process.
package telemetry

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mfcoelho/plenario/internal/model"
	"github.com/mfcoelho/plenario/internal/storage"
)

const namespace = "plenario"

// StatsStore is the slice of the storage API the exporter scrapes.
type StatsStore interface {
	Cities() ([]string, error)
	Stats(city string) (storage.CityStats, error)
	CollectionStatusCounts(city string) (map[string]int, error)
}

// StoreCollector implements prometheus.Collector over the store. One
// scrape produces per-city gauges for entity coverage, snapshot and
// metric record volume, collection outcomes and collection recency.
type StoreCollector struct {
	store  StatsStore
	logger *slog.Logger

	up             *prometheus.Desc
	entityRows     *prometheus.Desc
	snapshots      *prometheus.Desc
	metricRecords  *prometheus.Desc
	collectionRuns *prometheus.Desc
	lastCollection *prometheus.Desc
}

func NewStoreCollector(store StatsStore) *StoreCollector {
	return &StoreCollector{
		store:  store,
		logger: slog.Default(),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "store_up"),
			"Whether the historical store answered the scrape.",
			nil, nil),
		entityRows: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "entities"),
			"Distinct entities currently tracked per city and family.",
			[]string{"city", "family"}, nil),
		snapshots: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "snapshots_total"),
			"Snapshots recorded per city.",
			[]string{"city"}, nil),
		metricRecords: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "metric_records_total"),
			"Metric records appended per city.",
			[]string{"city"}, nil),
		collectionRuns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "collection_runs_total"),
			"Family collection attempts per city by outcome.",
			[]string{"city", "status"}, nil),
		lastCollection: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_collection_timestamp_seconds"),
			"Unix timestamp of the latest snapshot per city.",
			[]string{"city"}, nil),
	}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.entityRows
	ch <- c.snapshots
	ch <- c.metricRecords
	ch <- c.collectionRuns
	ch <- c.lastCollection
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	cities, err := c.store.Cities()
	if err != nil {
		c.logger.Error("scraping store cities", "error", err)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	for _, city := range cities {
		stats, err := c.store.Stats(city)
		if err != nil {
			c.logger.Error("scraping city stats", "city", city, "error", err)
			continue
		}

		families := []struct {
			family model.Family
			count  int
		}{
			{model.FamilyCouncilmembers, stats.Councilmembers},
			{model.FamilyProposals, stats.Proposals},
			{model.FamilyAgenda, stats.AgendaItems},
			{model.FamilyNews, stats.NewsItems},
		}
		for _, f := range families {
			ch <- prometheus.MustNewConstMetric(c.entityRows, prometheus.GaugeValue,
				float64(f.count), city, string(f.family))
		}
		ch <- prometheus.MustNewConstMetric(c.snapshots, prometheus.GaugeValue,
			float64(stats.Snapshots), city)
		ch <- prometheus.MustNewConstMetric(c.metricRecords, prometheus.GaugeValue,
			float64(stats.MetricRecords), city)
		if !stats.LastCollectedAt.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastCollection, prometheus.GaugeValue,
				float64(stats.LastCollectedAt.Unix()), city)
		}

		outcomes, err := c.store.CollectionStatusCounts(city)
		if err != nil {
			c.logger.Error("scraping collection outcomes", "city", city, "error", err)
			continue
		}
		for _, status := range []string{"ok", "failed"} {
			if n, recorded := outcomes[status]; recorded {
				ch <- prometheus.MustNewConstMetric(c.collectionRuns, prometheus.CounterValue,
					float64(n), city, status)
			}
		}
	}
}

// NewRegistry builds a registry carrying only the store exporter, for
// mounting under the API's /metrics endpoint.
func NewRegistry(store StatsStore) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewStoreCollector(store))
	return reg
}
