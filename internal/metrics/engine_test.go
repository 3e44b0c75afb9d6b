package metrics

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mfcoelho/plenario/internal/model"
	"github.com/mfcoelho/plenario/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func snapshotMeta(city string, family model.Family, items int, at time.Time) model.SnapshotMeta {
	return model.SnapshotMeta{
		ID:          uuid.NewString(),
		City:        city,
		UF:          "SC",
		Family:      family,
		CollectedAt: at,
		ItemCount:   items,
		Duration:    50 * time.Millisecond,
		SchemaVer:   model.SchemaVersion,
	}
}

func seedCity(t *testing.T, store *storage.Store, city string, members []model.Councilmember, proposals []model.Proposal, agenda []model.AgendaItem) {
	t.Helper()
	at := time.Now().UTC()
	if len(members) > 0 {
		require.NoError(t, store.SaveCouncilmemberSnapshot(snapshotMeta(city, model.FamilyCouncilmembers, len(members), at), members))
	}
	if len(proposals) > 0 {
		require.NoError(t, store.SaveProposalSnapshot(snapshotMeta(city, model.FamilyProposals, len(proposals), at), proposals))
	}
	if len(agenda) > 0 {
		require.NoError(t, store.SaveAgendaSnapshot(snapshotMeta(city, model.FamilyAgenda, len(agenda), at), agenda))
	}
}

// monthlyProposals builds one proposal per unit of count, filed on the
// 10th of each month, all authored by the given reference.
func monthlyProposals(author string, counts map[string]int) []model.Proposal {
	months := make([]string, 0, len(counts))
	for month := range counts {
		months = append(months, month)
	}
	sort.Strings(months)

	var out []model.Proposal
	for _, month := range months {
		for i := 0; i < counts[month]; i++ {
			out = append(out, model.Proposal{
				SourceID:  fmt.Sprintf("%s-%s-%d", author, month, i),
				Number:    fmt.Sprintf("%s-%s-%d", author, month, i),
				AuthorIDs: []string{author},
				FiledAt:   month + "-10",
			})
		}
	}
	return out
}

func TestRunIALAppendsOncePerMember(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(),
		[]model.Proposal{
			{SourceID: "p1", Number: "1", AuthorIDs: []string{"Ana Souza"}, RapporteurID: "1", FiledAt: "2024-02-01"},
			{SourceID: "p2", Number: "2", AuthorIDs: []string{"Ana Souza"}, FiledAt: "2024-02-10"},
			{SourceID: "p3", Number: "3", AuthorIDs: []string{"1"}, FiledAt: "2024-03-01"},
			{SourceID: "p4", Number: "4", AuthorIDs: []string{"2"}, FiledAt: "2024-03-02"},
		},
		[]model.AgendaItem{
			{SourceID: "a1", SessionDate: "2024-03-05", ProposalIDs: []string{"p1"}},
		})
	engine := NewEngine(store)

	scores, err := engine.RunIAL("florianopolis", PeriodAll, "1.0")
	require.NoError(t, err)
	require.Len(t, scores, 3)
	require.Equal(t, 100.0, scores[0].Score)
	require.Equal(t, model.StatusMissing, scores[2].Status)

	records, err := store.MetricRecords("florianopolis", MetricIAL, "1.0", PeriodAll)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Contains(t, records[0].Details, "percentile")

	var missingRecorded bool
	for _, r := range records {
		if r.CouncilmemberID == "3" {
			require.Equal(t, model.StatusMissing, r.Status)
			missingRecorded = true
		}
	}
	require.True(t, missingRecorded)

	again, err := engine.RunIAL("florianopolis", PeriodAll, "1.0")
	require.NoError(t, err)
	require.Equal(t, scores, again)

	records, err = store.MetricRecords("florianopolis", MetricIAL, "1.0", PeriodAll)
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestRunIALVersionsCoexistAndReproduce(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(),
		[]model.Proposal{
			{SourceID: "p1", Number: "1", AuthorIDs: []string{"1"}, FiledAt: "2024-02-01"},
			{SourceID: "p2", Number: "2", AuthorIDs: []string{"1"}, FiledAt: "2024-02-02"},
			{SourceID: "p3", Number: "3", AuthorIDs: []string{"1"}, FiledAt: "2024-02-03"},
			{SourceID: "p4", Number: "4", AuthorIDs: []string{"2"}, FiledAt: "2024-02-04"},
		},
		[]model.AgendaItem{
			{SourceID: "a1", SessionDate: "2024-03-05", ProposalIDs: []string{"4"}},
		})
	engine := NewEngine(store)

	v1First, err := engine.RunIAL("florianopolis", PeriodAll, "1.0")
	require.NoError(t, err)

	require.NoError(t, store.CreateWeightingVersion(storage.WeightingVersion{
		Version:     "2.0",
		Weights:     map[string]float64{SeriesProposals: 1},
		Description: "production output only",
		CreatedAt:   time.Now().UTC(),
	}))
	v2, err := engine.RunIAL("florianopolis", PeriodAll, "2.0")
	require.NoError(t, err)
	require.NotEqual(t, v1First, v2)

	v1Again, err := engine.RunIAL("florianopolis", PeriodAll, "1.0")
	require.NoError(t, err)
	require.Equal(t, v1First, v1Again)

	v1Records, err := store.MetricRecords("florianopolis", MetricIAL, "1.0", PeriodAll)
	require.NoError(t, err)
	v2Records, err := store.MetricRecords("florianopolis", MetricIAL, "2.0", PeriodAll)
	require.NoError(t, err)
	require.Len(t, v1Records, 3)
	require.Len(t, v2Records, 3)
}

func TestRunIALUnknownVersion(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(), nil, nil)
	engine := NewEngine(store)

	_, err := engine.RunIAL("florianopolis", PeriodAll, "9.9")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunIALInvalidPeriod(t *testing.T) {
	engine := NewEngine(openTestStore(t))

	_, err := engine.RunIAL("florianopolis", "Q1-2024", "1.0")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid period")
}

func TestRunZScoresOverMonthlySeries(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(),
		monthlyProposals("Ana Souza", map[string]int{
			"2024-01": 1, "2024-02": 2, "2024-03": 3, "2024-04": 7,
		}), nil)
	engine := NewEngine(store)

	results, err := engine.RunZScores("florianopolis", SeriesProposals)
	require.NoError(t, err)
	require.Len(t, results, 3)

	ana := results[0]
	require.Equal(t, "1", ana.CouncilmemberID)
	require.Equal(t, model.StatusOK, ana.Status)
	require.Equal(t, "2024-04", ana.Period)
	require.Equal(t, 7.0, ana.Observed)
	require.InDelta(t, 5.0, ana.Value, 1e-3)
	require.True(t, ana.Anomaly)

	for _, r := range results[1:] {
		require.Equal(t, model.StatusUndefined, r.Status)
	}

	records, err := store.MetricRecords("florianopolis", "zscore_proposals", "", "2024-04")
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestRunZScoresInsufficientHistory(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(),
		monthlyProposals("1", map[string]int{"2024-01": 1, "2024-02": 1}), nil)
	engine := NewEngine(store)

	results, err := engine.RunZScores("florianopolis", SeriesProposals)
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, model.StatusInsufficientHistory, r.Status)
	}
}

func TestRunZScoresParticipationSeries(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(),
		[]model.Proposal{
			{SourceID: "p1", Number: "77", AuthorIDs: []string{"1"}, FiledAt: "2024-01-02"},
		},
		[]model.AgendaItem{
			{SourceID: "a1", SessionDate: "2024-01-05", ProposalIDs: []string{"p1"}},
			{SourceID: "a2", SessionDate: "2024-02-05", ProposalIDs: []string{"unknown"}},
			{SourceID: "a3", SessionDate: "2024-03-05", ProposalIDs: []string{"77"}},
			{SourceID: "a4", SessionDate: "2024-03-20", ProposalIDs: []string{"p1"}},
		})
	engine := NewEngine(store)

	results, err := engine.RunZScores("florianopolis", SeriesParticipation)
	require.NoError(t, err)

	ana := results[0]
	require.Equal(t, model.StatusOK, ana.Status)
	require.Equal(t, "2024-03", ana.Period)
	require.Equal(t, 2.0, ana.Observed)
	require.InDelta(t, 2.1213, ana.Value, 1e-3)
	require.True(t, ana.Anomaly)
}

func TestRunZScoresUnknownSeries(t *testing.T) {
	engine := NewEngine(openTestStore(t))

	_, err := engine.RunZScores("florianopolis", "sentiment")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown activity series")
}

func TestMemberZScoreResolvesByName(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(),
		monthlyProposals("Ana Souza", map[string]int{
			"2024-01": 1, "2024-02": 2, "2024-03": 3, "2024-04": 7,
		}), nil)
	engine := NewEngine(store)

	res, err := engine.MemberZScore("florianopolis", "ana souza", SeriesProposals)
	require.NoError(t, err)
	require.Equal(t, "1", res.CouncilmemberID)
	require.InDelta(t, 5.0, res.Value, 1e-3)

	_, err = engine.MemberZScore("florianopolis", "nobody", SeriesProposals)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemberICG(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(),
		[]model.Proposal{
			{SourceID: "p1", AuthorIDs: []string{"1"}, District: "Centro", FiledAt: "2024-01-02"},
			{SourceID: "p2", AuthorIDs: []string{"1"}, District: "Centro", FiledAt: "2024-01-03"},
			{SourceID: "p3", AuthorIDs: []string{"1"}, District: "Trindade", FiledAt: "2024-01-04"},
			{SourceID: "p4", AuthorIDs: []string{"1"}, FiledAt: "2024-01-05"},
			{SourceID: "p5", AuthorIDs: []string{"2"}, District: "Estreito", FiledAt: "2024-01-06"},
			{SourceID: "p6", AuthorIDs: []string{"3"}, FiledAt: "2024-01-07"},
		}, nil)
	engine := NewEngine(store)

	ana, err := engine.MemberICG("florianopolis", "1")
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, ana.Status)
	require.InDelta(t, 5.0/9.0, ana.Value, 1e-3)
	require.Equal(t, BandHigh, ana.Band)

	bruno, err := engine.MemberICG("florianopolis", "Bruno Lima")
	require.NoError(t, err)
	require.Equal(t, 1.0, bruno.Value)

	carla, err := engine.MemberICG("florianopolis", "3")
	require.NoError(t, err)
	require.Equal(t, model.StatusUndefined, carla.Status)

	records, err := store.MemberMetrics("florianopolis", "1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, MetricICG, records[0].Metric)
	require.Equal(t, PeriodAll, records[0].Period)
}

func TestCityICG(t *testing.T) {
	store := openTestStore(t)
	seedCity(t, store, "florianopolis", testMembers(),
		[]model.Proposal{
			{SourceID: "p1", AuthorIDs: []string{"1"}, District: "Centro"},
			{SourceID: "p2", AuthorIDs: []string{"2"}, District: "Centro"},
			{SourceID: "p3", AuthorIDs: []string{"2"}, District: "Trindade"},
		}, nil)
	engine := NewEngine(store)

	icg, err := engine.CityICG("florianopolis")
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, icg.Status)
	require.InDelta(t, 5.0/9.0, icg.Value, 1e-3)
	require.Len(t, icg.Shares, 2)
}
