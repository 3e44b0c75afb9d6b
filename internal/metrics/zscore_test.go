package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mfcoelho/plenario/internal/model"
)

func TestComputeZScoreInsufficientHistory(t *testing.T) {
	for _, series := range [][]float64{nil, {4}, {4, 5}} {
		_, _, _, status := ComputeZScore(series)
		require.Equal(t, model.StatusInsufficientHistory, status, "series %v", series)
	}
}

func TestComputeZScoreZeroVarianceUndefined(t *testing.T) {
	_, mean, stddev, status := ComputeZScore([]float64{2, 2, 9})

	require.Equal(t, model.StatusUndefined, status)
	require.Equal(t, 2.0, mean)
	require.Zero(t, stddev)
}

func TestComputeZScoreValue(t *testing.T) {
	z, mean, stddev, status := ComputeZScore([]float64{1, 2, 3, 7})

	require.Equal(t, model.StatusOK, status)
	require.InDelta(t, 2.0, mean, 1e-9)
	require.InDelta(t, 1.0, stddev, 1e-9)
	require.InDelta(t, 5.0, z, 1e-9)
}

func TestComputeZScoreNegativeDeviation(t *testing.T) {
	z, _, _, status := ComputeZScore([]float64{5, 3, 1, 0})

	require.Equal(t, model.StatusOK, status)
	require.InDelta(t, -1.5, z, 1e-9)
}

func TestSeriesMetricNames(t *testing.T) {
	for _, series := range []string{SeriesProposals, SeriesParticipation, SeriesRapporteur} {
		metric, err := seriesMetric(series)
		require.NoError(t, err)
		require.Equal(t, "zscore_"+series, metric)
	}

	_, err := seriesMetric("sentiment")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown activity series")
}

func TestMonthRange(t *testing.T) {
	require.Equal(t, []string{"2023-11", "2023-12", "2024-01"}, monthRange("2023-11", "2024-01"))
	require.Equal(t, []string{"2024-05"}, monthRange("2024-05", "2024-05"))
	require.Nil(t, monthRange("2024-05", "2024-01"))
}
