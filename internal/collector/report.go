package collector

import (
	"time"

	"github.com/mfcoelho/plenario/internal/model"
)

// Family result statuses, mirrored into the collection log.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// FamilyResult is the outcome of collecting one entity family: either a
// committed snapshot or a failure with its cause. Failures of one family
// never abort the others.
type FamilyResult struct {
	Family     model.Family  `json:"family"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Items      int           `json:"items"`
	Pages      int           `json:"pages"`
	Retries    int           `json:"retries"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	SnapshotID string        `json:"snapshot_id,omitempty"`
}

// Report is what one city collection returns to operational tooling. It is
// always complete: every family appears exactly once, failed or not.
type Report struct {
	City       string         `json:"city"`
	UF         string         `json:"uf"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DryRun     bool           `json:"dry_run,omitempty"`
	Families   []FamilyResult `json:"families"`
}

// OK reports whether every family collected successfully.
func (r *Report) OK() bool {
	for _, f := range r.Families {
		if f.Status != StatusOK {
			return false
		}
	}
	return true
}

// Failed returns the families that did not collect.
func (r *Report) Failed() []FamilyResult {
	var failed []FamilyResult
	for _, f := range r.Families {
		if f.Status != StatusOK {
			failed = append(failed, f)
		}
	}
	return failed
}

// TotalItems sums the items of the successful families.
func (r *Report) TotalItems() int {
	total := 0
	for _, f := range r.Families {
		if f.Status == StatusOK {
			total += f.Items
		}
	}
	return total
}
