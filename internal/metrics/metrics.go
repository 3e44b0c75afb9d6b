// Package metrics computes legislative activity metrics over the
// historical store: a weighted activity index (IAL), per-member
// statistical deviation over time (Z-Score) and geographic concentration
// of activity (ICG). Computations are deterministic functions of the
// stored current state; results append to the metric record log and are
// never edited in place.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mfcoelho/plenario/internal/model"
)

// Metric names as stored in metric records.
const (
	MetricIAL = "ial"
	MetricICG = "icg"
)

// Activity series accepted by the Z-Score computation.
const (
	SeriesProposals     = "proposals"
	SeriesParticipation = "participation"
	SeriesRapporteur    = "rapporteur"
)

// PeriodAll selects the whole recorded history instead of one year or
// month.
const PeriodAll = "all"

// validPeriod accepts "all", a year ("2024") or a month ("2024-03").
func validPeriod(period string) bool {
	if period == PeriodAll {
		return true
	}
	switch len(period) {
	case 4:
		_, err := time.Parse("2006", period)
		return err == nil
	case 7:
		_, err := time.Parse("2006-01", period)
		return err == nil
	}
	return false
}

// inPeriod reports whether a dated row belongs to a period. Rows carrying
// an ISO date decide by date prefix; undated rows fall back to the
// legislative year when the period is a year.
func inPeriod(date string, year int, period string) bool {
	if period == PeriodAll {
		return true
	}
	if strings.HasPrefix(date, period) {
		return true
	}
	if len(period) == 4 && year > 0 && !isoDated(date) {
		return strconv.Itoa(year) == period
	}
	return false
}

func isoDated(date string) bool {
	return len(date) >= 7 && date[4] == '-'
}

// monthOf extracts the "2006-01" bucket of an ISO date, if it has one.
func monthOf(date string) (string, bool) {
	if !isoDated(date) {
		return "", false
	}
	return date[:7], true
}

// monthRange returns every month from first to last inclusive, so months
// without activity still appear as zero observations in a series.
func monthRange(first, last string) []string {
	start, err := time.Parse("2006-01", first)
	if err != nil {
		return nil
	}
	end, err := time.Parse("2006-01", last)
	if err != nil || end.Before(start) {
		return nil
	}
	var months []string
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		months = append(months, m.Format("2006-01"))
	}
	return months
}

// memberIndex resolves the member references sources publish, which may
// be source ids or display names, to canonical councilmember ids.
// Matching is case-insensitive and exact.
type memberIndex struct {
	byKey map[string]string
	ids   []string
}

func newMemberIndex(members []model.Councilmember) *memberIndex {
	ix := &memberIndex{byKey: make(map[string]string, len(members)*2)}
	for _, m := range members {
		if m.SourceID == "" {
			continue
		}
		ix.byKey[strings.ToLower(m.SourceID)] = m.SourceID
		if name := strings.TrimSpace(m.Name); name != "" {
			ix.byKey[strings.ToLower(name)] = m.SourceID
		}
		ix.ids = append(ix.ids, m.SourceID)
	}
	sort.Strings(ix.ids)
	return ix
}

func (ix *memberIndex) resolve(ref string) (string, bool) {
	id, ok := ix.byKey[strings.ToLower(strings.TrimSpace(ref))]
	return id, ok
}

// proposalLookup finds proposals by the references agenda items carry,
// which may be source ids or docket numbers. The first proposal seen
// under a key wins, so duplicate docket numbers stay deterministic.
type proposalLookup struct {
	byKey map[string]*model.Proposal
}

func newProposalLookup(proposals []model.Proposal) *proposalLookup {
	l := &proposalLookup{byKey: make(map[string]*model.Proposal, len(proposals)*2)}
	for i := range proposals {
		p := &proposals[i]
		for _, key := range []string{p.SourceID, p.Number} {
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			if _, exists := l.byKey[key]; !exists {
				l.byKey[key] = p
			}
		}
	}
	return l
}

func (l *proposalLookup) find(ref string) (*model.Proposal, bool) {
	p, ok := l.byKey[strings.ToLower(strings.TrimSpace(ref))]
	return p, ok
}

// normalizeWeights scales a weight set to sum 1 so differently scaled
// versions of the same proportions score identically.
func normalizeWeights(weights map[string]float64) map[string]float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	out := make(map[string]float64, len(weights))
	if total == 0 {
		return out
	}
	for k, w := range weights {
		out[k] = w / total
	}
	return out
}

// minMax rescales values to [0, 1] within the cohort. A cohort with no
// spread carries no ranking information and collapses to zero.
func minMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi > lo {
		for i, v := range values {
			out[i] = (v - lo) / (hi - lo)
		}
	}
	return out
}

// percentiles assigns each value its percentile rank within the slice,
// averaging tied ranks.
func percentiles(values []float64) []int {
	out := make([]int, len(values))
	n := float64(len(values))
	for i, v := range values {
		var less, equal float64
		for _, o := range values {
			switch {
			case o < v:
				less++
			case o == v:
				equal++
			}
		}
		rank := less + (equal+1)/2
		out[i] = int(math.Round(rank / n * 100))
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
