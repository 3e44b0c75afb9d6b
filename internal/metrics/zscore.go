package metrics

import (
	"fmt"
	"math"

	"github.com/mfcoelho/plenario/internal/model"
)

// DefaultAnomalyThreshold flags observations at least this many standard
// deviations from a member's own history.
const DefaultAnomalyThreshold = 2.0

// ZScore standardizes a member's latest monthly observation of an
// activity series against the mean and spread of the prior months.
// Status distinguishes a computed value from the two guarded outcomes:
// too little history, and a flat history with no spread to divide by.
type ZScore struct {
	CouncilmemberID string             `json:"councilmember_id"`
	Series          string             `json:"series"`
	Period          string             `json:"period,omitempty"`
	Status          model.MetricStatus `json:"status"`
	Value           float64            `json:"value"`
	Observed        float64            `json:"observed"`
	Mean            float64            `json:"mean"`
	StdDev          float64            `json:"stddev"`
	Anomaly         bool               `json:"anomaly"`
}

// seriesMetric maps a series name to its metric record name, rejecting
// series the engine does not track.
func seriesMetric(series string) (string, error) {
	switch series {
	case SeriesProposals, SeriesParticipation, SeriesRapporteur:
		return "zscore_" + series, nil
	}
	return "", fmt.Errorf("unknown activity series %q (known: %s, %s, %s)",
		series, SeriesProposals, SeriesParticipation, SeriesRapporteur)
}

// ComputeZScore standardizes the last observation of a series against
// the sample mean and standard deviation of the earlier ones. Fewer than
// two prior observations cannot anchor a baseline; a flat baseline has
// no spread to standardize by. Both cases come back as a status, never
// as NaN or infinity.
func ComputeZScore(series []float64) (z, mean, stddev float64, status model.MetricStatus) {
	if len(series) < 3 {
		return 0, 0, 0, model.StatusInsufficientHistory
	}
	priors := series[:len(series)-1]
	mean = meanOf(priors)
	stddev = sampleStdDev(priors, mean)
	if stddev == 0 {
		return 0, mean, 0, model.StatusUndefined
	}
	observed := series[len(series)-1]
	return (observed - mean) / stddev, mean, stddev, model.StatusOK
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStdDev(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
