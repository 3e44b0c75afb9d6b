package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mfcoelho/plenario/internal/model"
	"github.com/mfcoelho/plenario/internal/source"
	"github.com/mfcoelho/plenario/internal/storage"
)

// SnapshotStore is the slice of the storage API the collector writes to.
type SnapshotStore interface {
	SaveCouncilmemberSnapshot(meta model.SnapshotMeta, members []model.Councilmember) error
	SaveProposalSnapshot(meta model.SnapshotMeta, proposals []model.Proposal) error
	SaveAgendaSnapshot(meta model.SnapshotMeta, items []model.AgendaItem) error
	SaveNewsSnapshot(meta model.SnapshotMeta, items []model.NewsItem) error
	SaveDistricts(city string, districts []model.District) error
	RecordCollection(c storage.CollectionRow) error
}

// Config tunes a collection run. Zero values select the defaults.
type Config struct {
	// MaxPages caps pagination per family; a source that keeps reporting
	// more pages is truncated there rather than looping forever.
	MaxPages int
	// MaxRetries bounds retries per fetch after the initial attempt.
	// Only transient failures are retried.
	MaxRetries int
	// BaseBackoff is the delay before the first retry; it doubles on each
	// further retry.
	BaseBackoff time.Duration
	// FetchTimeout bounds every single adapter call.
	FetchTimeout time.Duration
	// Parallelism bounds how many cities collect at once.
	Parallelism int
	// RawDir, when set, receives plain JSON copies of each snapshot
	// payload in addition to the store.
	RawDir string
	// DryRun fetches and reports without writing anything.
	DryRun bool
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	return c
}

// Collector drains city sources into the historical store, one snapshot
// per entity family. Within a city, families collect sequentially (the
// upstream paginates serially); across cities, collections run in
// parallel. Failures stay inside the family that hit them and surface in
// the returned report.
type Collector struct {
	store  SnapshotStore
	cfg    Config
	logger *slog.Logger
}

// New creates a Collector writing to store.
func New(store SnapshotStore, cfg Config) *Collector {
	return &Collector{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
}

// CollectCity collects every entity family of one city. The returned
// report always covers all families; it is never nil and collection
// errors never escape as Go errors.
func (c *Collector) CollectCity(ctx context.Context, src source.Source) *Report {
	city, uf := src.Identity()
	report := &Report{
		City:      city,
		UF:        uf,
		StartedAt: time.Now().UTC(),
		DryRun:    c.cfg.DryRun,
	}

	c.logger.Info("collection started", "city", city, "dry_run", c.cfg.DryRun)

	for _, family := range model.Families {
		res := c.collectFamily(ctx, src, city, uf, family)
		report.Families = append(report.Families, res)

		if !c.cfg.DryRun {
			row := storage.CollectionRow{
				City:       city,
				Family:     res.Family,
				StartedAt:  res.StartedAt,
				FinishedAt: res.StartedAt.Add(res.Duration),
				ItemCount:  res.Items,
				Pages:      res.Pages,
				Retries:    res.Retries,
				Status:     res.Status,
				Error:      res.Error,
			}
			if err := c.store.RecordCollection(row); err != nil {
				c.logger.Error("recording collection log", "city", city, "family", family, "error", err)
			}
		}
	}

	c.syncDistricts(ctx, src, city)

	report.FinishedAt = time.Now().UTC()
	c.logger.Info("collection finished",
		"city", city,
		"items", report.TotalItems(),
		"failed_families", len(report.Failed()),
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report
}

// CollectCities collects several cities in parallel, bounded by
// cfg.Parallelism. Reports come back in source order; one city failing
// never affects its siblings.
func (c *Collector) CollectCities(ctx context.Context, sources []source.Source) []*Report {
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Parallelism)

	reports := make([]*Report, len(sources))
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			reports[i] = c.CollectCity(ctx, src)
			return nil
		})
	}
	g.Wait()
	return reports
}

func (c *Collector) collectFamily(ctx context.Context, src source.Source, city, uf string, family model.Family) FamilyResult {
	res := FamilyResult{
		Family:    family,
		StartedAt: time.Now().UTC(),
	}

	var err error
	switch family {
	case model.FamilyCouncilmembers:
		err = c.collectCouncilmembers(ctx, src, city, uf, &res)
	case model.FamilyProposals:
		err = c.collectProposals(ctx, src, city, uf, &res)
	case model.FamilyAgenda:
		err = c.collectAgenda(ctx, src, city, uf, &res)
	case model.FamilyNews:
		err = c.collectNews(ctx, src, city, uf, &res)
	default:
		err = fmt.Errorf("unknown family %q", family)
	}

	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		c.logger.Error("family collection failed", "city", city, "family", family, "retries", res.Retries, "error", err)
	} else {
		res.Status = StatusOK
		c.logger.Info("family collected", "city", city, "family", family, "items", res.Items, "pages", res.Pages, "retries", res.Retries)
	}
	return res
}

func (c *Collector) collectCouncilmembers(ctx context.Context, src source.Source, city, uf string, res *FamilyResult) error {
	var members []model.Councilmember
	retries, err := c.retryFetch(ctx, func(ctx context.Context) error {
		var ferr error
		members, ferr = src.FetchCouncilmembers(ctx)
		return ferr
	})
	res.Retries = retries
	if err != nil {
		return fmt.Errorf("fetching councilmembers: %w", err)
	}
	res.Items = len(members)
	res.Pages = 1

	if c.cfg.DryRun {
		return nil
	}
	meta := c.newSnapshotMeta(city, uf, model.FamilyCouncilmembers, len(members), res.StartedAt)
	if err := c.store.SaveCouncilmemberSnapshot(meta, members); err != nil {
		return fmt.Errorf("saving councilmembers snapshot: %w", err)
	}
	res.SnapshotID = meta.ID

	raws := make([]map[string]any, len(members))
	for i, m := range members {
		raws[i] = m.Raw
	}
	c.writeRawCopy(meta, raws)
	return nil
}

func (c *Collector) collectProposals(ctx context.Context, src source.Source, city, uf string, res *FamilyResult) error {
	var all []model.Proposal
	err := c.paginate(ctx, city, model.FamilyProposals, res, func(ctx context.Context, page int) (int, bool, error) {
		items, hasMore, err := src.FetchProposals(ctx, page, "")
		all = append(all, items...)
		return len(items), hasMore, err
	})
	if err != nil {
		return err
	}

	if c.cfg.DryRun {
		return nil
	}
	meta := c.newSnapshotMeta(city, uf, model.FamilyProposals, len(all), res.StartedAt)
	if err := c.store.SaveProposalSnapshot(meta, all); err != nil {
		return fmt.Errorf("saving proposals snapshot: %w", err)
	}
	res.SnapshotID = meta.ID

	raws := make([]map[string]any, len(all))
	for i, p := range all {
		raws[i] = p.Raw
	}
	c.writeRawCopy(meta, raws)
	return nil
}

func (c *Collector) collectAgenda(ctx context.Context, src source.Source, city, uf string, res *FamilyResult) error {
	var all []model.AgendaItem
	err := c.paginate(ctx, city, model.FamilyAgenda, res, func(ctx context.Context, page int) (int, bool, error) {
		items, hasMore, err := src.FetchAgenda(ctx, page)
		all = append(all, items...)
		return len(items), hasMore, err
	})
	if err != nil {
		return err
	}

	if c.cfg.DryRun {
		return nil
	}
	meta := c.newSnapshotMeta(city, uf, model.FamilyAgenda, len(all), res.StartedAt)
	if err := c.store.SaveAgendaSnapshot(meta, all); err != nil {
		return fmt.Errorf("saving agenda snapshot: %w", err)
	}
	res.SnapshotID = meta.ID

	raws := make([]map[string]any, len(all))
	for i, it := range all {
		raws[i] = it.Raw
	}
	c.writeRawCopy(meta, raws)
	return nil
}

func (c *Collector) collectNews(ctx context.Context, src source.Source, city, uf string, res *FamilyResult) error {
	var all []model.NewsItem
	err := c.paginate(ctx, city, model.FamilyNews, res, func(ctx context.Context, page int) (int, bool, error) {
		items, hasMore, err := src.FetchNews(ctx, page)
		all = append(all, items...)
		return len(items), hasMore, err
	})
	if err != nil {
		return err
	}

	if c.cfg.DryRun {
		return nil
	}
	meta := c.newSnapshotMeta(city, uf, model.FamilyNews, len(all), res.StartedAt)
	if err := c.store.SaveNewsSnapshot(meta, all); err != nil {
		return fmt.Errorf("saving news snapshot: %w", err)
	}
	res.SnapshotID = meta.ID

	raws := make([]map[string]any, len(all))
	for i, it := range all {
		raws[i] = it.Raw
	}
	c.writeRawCopy(meta, raws)
	return nil
}

// paginate drains a paged fetch to exhaustion. Each page gets the full
// retry budget; hitting the page cap truncates with a warning instead of
// failing.
func (c *Collector) paginate(ctx context.Context, city string, family model.Family, res *FamilyResult, fetchPage func(ctx context.Context, page int) (int, bool, error)) error {
	page := 1
	for {
		var fetched int
		var hasMore bool
		retries, err := c.retryFetch(ctx, func(ctx context.Context) error {
			var ferr error
			fetched, hasMore, ferr = fetchPage(ctx, page)
			return ferr
		})
		res.Retries += retries
		if err != nil {
			return fmt.Errorf("fetching %s page %d: %w", family, page, err)
		}
		res.Pages++
		res.Items += fetched

		if !hasMore {
			return nil
		}
		if res.Pages >= c.cfg.MaxPages {
			c.logger.Warn("page cap reached, truncating collection", "city", city, "family", family, "pages", res.Pages)
			return nil
		}
		page++
	}
}

// retryFetch runs fetch with the per-call timeout, retrying transient
// failures with exponential backoff. Permanent failures and parent
// cancellation stop immediately. Returns the number of retries spent.
func (c *Collector) retryFetch(ctx context.Context, fetch func(ctx context.Context) error) (int, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		err := fetch(callCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if !retryable(err) || attempt >= c.cfg.MaxRetries {
			return attempt, err
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.BaseBackoff
		c.logger.Warn("transient fetch failure, backing off", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return attempt, err
		case <-time.After(backoff):
		}
	}
}

// retryable reports whether a fetch error is worth another attempt. A
// timeout of the per-call deadline counts as transient; permanent source
// rejections do not.
func retryable(err error) bool {
	return errors.Is(err, source.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Collector) newSnapshotMeta(city, uf string, family model.Family, items int, start time.Time) model.SnapshotMeta {
	return model.SnapshotMeta{
		ID:          uuid.NewString(),
		City:        city,
		UF:          uf,
		Family:      family,
		CollectedAt: time.Now().UTC(),
		ItemCount:   items,
		Duration:    time.Since(start),
		SchemaVer:   model.SchemaVersion,
	}
}

// syncDistricts refreshes the subdivision reference list when the source
// publishes one. Reference data sits outside the family contract, so
// failures are logged and do not touch the report.
func (c *Collector) syncDistricts(ctx context.Context, src source.Source, city string) {
	lister, ok := src.(source.DistrictLister)
	if !ok {
		return
	}

	var districts []model.District
	_, err := c.retryFetch(ctx, func(ctx context.Context) error {
		var ferr error
		districts, ferr = lister.FetchDistricts(ctx)
		return ferr
	})
	if err != nil {
		c.logger.Warn("district sync failed", "city", city, "error", err)
		return
	}
	if c.cfg.DryRun || len(districts) == 0 {
		return
	}
	if err := c.store.SaveDistricts(city, districts); err != nil {
		c.logger.Warn("saving districts failed", "city", city, "error", err)
	}
}

// rawMeta heads each raw copy file so an exported payload stays
// self-describing away from the store.
type rawMeta struct {
	City        string `json:"city"`
	UF          string `json:"uf"`
	Family      string `json:"family"`
	CollectedAt string `json:"collected_at"`
	ItemCount   int    `json:"item_count"`
	DurationMS  int64  `json:"duration_ms"`
	SchemaVer   string `json:"schema_version"`
}

// writeRawCopy mirrors a snapshot payload as an indented JSON file under
// RawDir/<city>/<family>/, the directory layout the first deployments
// exported for ad-hoc analysis. Copies are best-effort; the store remains
// the source of truth.
func (c *Collector) writeRawCopy(meta model.SnapshotMeta, rows []map[string]any) {
	if c.cfg.RawDir == "" {
		return
	}

	dir := filepath.Join(c.cfg.RawDir, meta.City, string(meta.Family))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.logger.Warn("creating raw copy directory", "dir", dir, "error", err)
		return
	}
	doc := struct {
		Meta  rawMeta          `json:"_meta"`
		Items []map[string]any `json:"items"`
	}{
		Meta: rawMeta{
			City:        meta.City,
			UF:          meta.UF,
			Family:      string(meta.Family),
			CollectedAt: meta.CollectedAt.UTC().Format(time.RFC3339),
			ItemCount:   meta.ItemCount,
			DurationMS:  meta.Duration.Milliseconds(),
			SchemaVer:   meta.SchemaVer,
		},
		Items: rows,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		c.logger.Warn("encoding raw copy", "city", meta.City, "family", meta.Family, "error", err)
		return
	}
	name := meta.CollectedAt.UTC().Format("20060102T150405Z") + ".json"
	if err := os.WriteFile(filepath.Join(dir, name), payload, 0o644); err != nil {
		c.logger.Warn("writing raw copy", "city", meta.City, "family", meta.Family, "error", err)
	}
}
