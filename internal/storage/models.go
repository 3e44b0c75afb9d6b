package storage

import (
	"errors"
	"time"

	"github.com/mfcoelho/plenario/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionExists is returned when defining a weighting version whose id is
// already taken. Versions are immutable; changing weights means minting a
// new version.
var ErrVersionExists = errors.New("weighting version already exists")

// CouncilmemberRow is one appended observation of a councilmember. The same
// source id appears once per snapshot that captured it; the row with the
// latest CollectedAt is the current state.
type CouncilmemberRow struct {
	City        string
	UF          string
	SnapshotID  string
	CollectedAt time.Time
	model.Councilmember
}

type ProposalRow struct {
	City        string
	UF          string
	SnapshotID  string
	CollectedAt time.Time
	model.Proposal
}

type AgendaItemRow struct {
	City        string
	UF          string
	SnapshotID  string
	CollectedAt time.Time
	model.AgendaItem
}

type NewsItemRow struct {
	City        string
	UF          string
	SnapshotID  string
	CollectedAt time.Time
	model.NewsItem
}

// CollectionRow is one line of the collection log: a single family fetch
// attempt for a city, successful or not.
type CollectionRow struct {
	ID         int64
	City       string
	Family     model.Family
	StartedAt  time.Time
	FinishedAt time.Time
	ItemCount  int
	Pages      int
	Retries    int
	Status     string // "ok" or "failed"
	Error      string
}

// MetricRecord is one appended metric computation. Records are immutable:
// recomputing the same (city, councilmember, metric, version, period) key is
// a no-op, and records computed under different weighting versions coexist.
type MetricRecord struct {
	City             string
	CouncilmemberID  string // empty for city-scope metrics
	Metric           string // "ial", "zscore" or "icg"
	WeightingVersion string // empty for metrics with no weighting input
	Period           string
	Value            float64 // meaningful only when Status == StatusOK
	Status           model.MetricStatus
	ComputedAt       time.Time
	Details          string // JSON component breakdown, may be empty
}

// WeightingVersion is a frozen, named IAL weight set.
type WeightingVersion struct {
	Version     string
	Weights     map[string]float64
	Description string
	CreatedAt   time.Time
}
