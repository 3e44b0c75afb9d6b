package metrics

import (
	"sort"

	"github.com/mfcoelho/plenario/internal/model"
)

// Concentration interpretation bands, following the published Herfindahl
// reading for market concentration.
const (
	BandHigh        = "high"
	BandModerate    = "moderate"
	BandDistributed = "distributed"
)

// DistrictShare is one district's slice of a proposal set.
type DistrictShare struct {
	District string  `json:"district"`
	Count    int     `json:"count"`
	Share    float64 `json:"share"`
}

// ICG measures how concentrated a proposal set is across districts:
// the sum of squared district shares. 1 means everything landed in a
// single district; the floor approaches 1/n as activity spreads evenly
// over n districts. With no geo-tagged activity there is no distribution
// to measure and the status says so.
type ICG struct {
	Status model.MetricStatus `json:"status"`
	Value  float64            `json:"value"`
	Band   string             `json:"band,omitempty"`
	Shares []DistrictShare    `json:"shares,omitempty"`
}

// Herfindahl computes the concentration index over per-district activity
// counts. Districts with zero observed activity are excluded from the
// sum rather than diluting it.
func Herfindahl(counts map[string]int) ICG {
	total := 0
	for _, c := range counts {
		if c > 0 {
			total += c
		}
	}
	if total == 0 {
		return ICG{Status: model.StatusUndefined}
	}

	shares := make([]DistrictShare, 0, len(counts))
	var value float64
	for district, c := range counts {
		if c <= 0 {
			continue
		}
		share := float64(c) / float64(total)
		value += share * share
		shares = append(shares, DistrictShare{
			District: district,
			Count:    c,
			Share:    round4(share),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].District < shares[j].District
	})

	return ICG{
		Status: model.StatusOK,
		Value:  round4(value),
		Band:   concentrationBand(value),
		Shares: shares,
	}
}

func concentrationBand(value float64) string {
	switch {
	case value > 0.25:
		return BandHigh
	case value > 0.10:
		return BandModerate
	default:
		return BandDistributed
	}
}

// districtCounts tallies geo-tagged proposals per district; untagged
// proposals carry no location signal and are left out.
func districtCounts(proposals []model.Proposal) map[string]int {
	counts := make(map[string]int)
	for i := range proposals {
		if d := proposals[i].District; d != "" {
			counts[d]++
		}
	}
	return counts
}
