package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mfcoelho/plenario/internal/collector"
	"github.com/mfcoelho/plenario/internal/model"
	"github.com/mfcoelho/plenario/internal/source"
	"github.com/mfcoelho/plenario/internal/storage"
)

// fakeSource is a registered adapter for a city that only exists in tests.
// Collect commands run against it end to end, store and all.
type fakeSource struct{}

func (fakeSource) Identity() (string, string) { return "faketown", "SC" }

func (fakeSource) FetchCouncilmembers(ctx context.Context) ([]model.Councilmember, error) {
	return []model.Councilmember{
		{SourceID: "1", Name: "Ana Souza", Party: "ABC"},
		{SourceID: "2", Name: "Bruno Lima", Party: "DEF"},
	}, nil
}

func (fakeSource) FetchProposals(ctx context.Context, page int, typeFilter string) ([]model.Proposal, bool, error) {
	return []model.Proposal{
		{SourceID: "p1", Type: model.ProposalOrdinance, Number: "10/2024", Year: 2024, AuthorIDs: []string{"1"}, FiledAt: "2024-03-01"},
		{SourceID: "p2", Type: model.ProposalMotion, Number: "11/2024", Year: 2024, AuthorIDs: []string{"2"}, FiledAt: "2024-03-05"},
	}, false, nil
}

func (fakeSource) FetchAgenda(ctx context.Context, page int) ([]model.AgendaItem, bool, error) {
	return []model.AgendaItem{
		{SourceID: "s1", SessionDate: "2024-03-10", ProposalIDs: []string{"p1"}},
	}, false, nil
}

func (fakeSource) FetchNews(ctx context.Context, page int) ([]model.NewsItem, bool, error) {
	return []model.NewsItem{
		{SourceID: "n1", Title: "Session recap", PublishedAt: "2024-03-11"},
	}, false, nil
}

func init() {
	source.Register("faketown", func(opts source.Options) source.Source { return fakeSource{} })
}

// testEnv isolates a test behind its own data directory and a neutral
// config environment.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PLENARIO_CONFIG", "")
	t.Setenv("PLENARIO_STORAGE_DATA_DIR", dir)
	return dir
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	runErr := fn()
	w.Close()
	os.Stdout = old
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data), runErr
}

func TestCollectRequiresTarget(t *testing.T) {
	err := runCommand(t, "collect")
	if err == nil {
		t.Fatal("expected error without --city or --all")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestCollectUnknownCity(t *testing.T) {
	testEnv(t)
	err := runCommand(t, "collect", "--city", "atlantis")
	if err == nil {
		t.Fatal("expected error for unregistered city")
	}
	if !strings.Contains(err.Error(), "no source registered") {
		t.Errorf("error = %q, want it to mention registration", err.Error())
	}
}

func TestCollectWritesSnapshotsAndRawCopies(t *testing.T) {
	dir := testEnv(t)

	if err := runCommand(t, "collect", "--city", "faketown"); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	members, err := store.CurrentCouncilmembers("faketown")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("councilmembers = %d, want 2", len(members))
	}
	snaps, err := store.Snapshots("faketown", "", 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 4 {
		t.Errorf("snapshots = %d, want one per family", len(snaps))
	}

	rawFiles, err := os.ReadDir(filepath.Join(dir, "raw", "faketown", "proposals"))
	if err != nil {
		t.Fatalf("raw proposals dir: %v", err)
	}
	if len(rawFiles) != 1 {
		t.Errorf("raw files = %d, want 1", len(rawFiles))
	}
}

func TestCollectDryRunLeavesStoreEmpty(t *testing.T) {
	dir := testEnv(t)

	if err := runCommand(t, "collect", "--city", "faketown", "--dry-run"); err != nil {
		t.Fatalf("dry-run collect failed: %v", err)
	}

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	cities, err := store.Cities()
	if err != nil {
		t.Fatal(err)
	}
	if len(cities) != 0 {
		t.Errorf("cities = %v, want none after dry-run", cities)
	}
}

func TestCollectJSONReport(t *testing.T) {
	testEnv(t)

	out, err := captureStdout(t, func() error {
		return runCommand(t, "collect", "--city", "faketown", "--dry-run", "--json")
	})
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	var reports []*collector.Report
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, out)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	rep := reports[0]
	if rep.City != "faketown" || !rep.DryRun {
		t.Errorf("report = %+v, want faketown dry-run", rep)
	}
	if len(rep.Families) != len(model.Families) {
		t.Errorf("families = %d, want %d", len(rep.Families), len(model.Families))
	}
	for _, fr := range rep.Families {
		if fr.Status != collector.StatusOK {
			t.Errorf("family %s status = %s: %s", fr.Family, fr.Status, fr.Error)
		}
	}
}

func TestWeightsCreateRejectsZeroSum(t *testing.T) {
	err := runCommand(t, "weights", "create", "3.0")
	if err == nil {
		t.Fatal("expected error for zero weights")
	}
	if !strings.Contains(err.Error(), "positive") {
		t.Errorf("error = %q, want it to mention positive sum", err.Error())
	}
}

func TestWeightsCreateShowList(t *testing.T) {
	dir := testEnv(t)

	err := runCommand(t, "weights", "create", "2.0",
		"--proposals", "5", "--participation", "3", "--rapporteur", "2",
		"--description", "pilot split")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Same version again is an error, not an overwrite.
	if err := runCommand(t, "weights", "create", "2.0", "--proposals", "5", "--participation", "3", "--rapporteur", "2"); err == nil {
		t.Fatal("expected error on duplicate version")
	}

	if err := runCommand(t, "weights", "show", "2.0"); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if err := runCommand(t, "weights", "show", "9.9"); err == nil {
		t.Fatal("expected error for unknown version")
	}
	if err := runCommand(t, "weights", "list"); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	wv, err := store.GetWeightingVersion("2.0")
	if err != nil {
		t.Fatal(err)
	}
	if wv.Weights["proposals"] != 5 || wv.Description != "pilot split" {
		t.Errorf("stored version = %+v", wv)
	}
}

func seedMeta(city string, family model.Family, items int) model.SnapshotMeta {
	return model.SnapshotMeta{
		ID:          uuid.NewString(),
		City:        city,
		UF:          "SC",
		Family:      family,
		CollectedAt: time.Now().UTC(),
		ItemCount:   items,
		SchemaVer:   model.SchemaVersion,
	}
}

// seedCity writes a small but metric-complete history: three members, a
// monthly proposal series with a clear April spike for Ana, district tags
// and one session docket.
func seedCity(t *testing.T, dir, city string) {
	t.Helper()
	store, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	members := []model.Councilmember{
		{SourceID: "1", Name: "Ana Souza", Party: "ABC"},
		{SourceID: "2", Name: "Bruno Lima", Party: "DEF"},
		{SourceID: "3", Name: "Carla Reis", Party: "GHI"},
	}
	if err := store.SaveCouncilmemberSnapshot(seedMeta(city, model.FamilyCouncilmembers, len(members)), members); err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{"2024-01": 1, "2024-02": 2, "2024-03": 3, "2024-04": 7}
	months := make([]string, 0, len(counts))
	for m := range counts {
		months = append(months, m)
	}
	sort.Strings(months)

	var proposals []model.Proposal
	seq := 0
	for _, month := range months {
		for i := 0; i < counts[month]; i++ {
			seq++
			district := "Centro"
			if seq%3 == 0 {
				district = "Trindade"
			}
			proposals = append(proposals, model.Proposal{
				SourceID:  fmt.Sprintf("p%d", seq),
				Type:      model.ProposalOrdinance,
				Number:    fmt.Sprintf("%d/2024", seq),
				Year:      2024,
				AuthorIDs: []string{"1"},
				FiledAt:   month + "-10",
				District:  district,
			})
		}
	}
	proposals = append(proposals, model.Proposal{
		SourceID:  "pb1",
		Type:      model.ProposalRequest,
		Number:    "100/2024",
		Year:      2024,
		AuthorIDs: []string{"2"},
		FiledAt:   "2024-01-15",
	})
	if err := store.SaveProposalSnapshot(seedMeta(city, model.FamilyProposals, len(proposals)), proposals); err != nil {
		t.Fatal(err)
	}

	agenda := []model.AgendaItem{
		{SourceID: "s1", SessionDate: "2024-02-01", ProposalIDs: []string{"p1"}},
		{SourceID: "s2", SessionDate: "2024-03-01", ProposalIDs: []string{"pb1"}},
	}
	if err := store.SaveAgendaSnapshot(seedMeta(city, model.FamilyAgenda, len(agenda)), agenda); err != nil {
		t.Fatal(err)
	}
}

func TestMetricsIALCommand(t *testing.T) {
	dir := testEnv(t)
	seedCity(t, dir, "seedville")

	if err := runCommand(t, "metrics", "ial", "--city", "seedville"); err != nil {
		t.Fatalf("ial failed: %v", err)
	}

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	records, err := store.MetricRecords("seedville", "ial", "1.0", "all")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("ial records = %d, want one per member", len(records))
	}
}

func TestMetricsIALSummary(t *testing.T) {
	dir := testEnv(t)
	seedCity(t, dir, "seedville")

	out, err := captureStdout(t, func() error {
		return runCommand(t, "metrics", "ial", "--city", "seedville", "--summary", "--weights", "1.0")
	})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}

	for _, want := range []string{
		"# Legislative activity report: Seedville",
		"IAL weighting v1.0",
		"## Top 3 most active",
		"Ana Souza",
		"## Anomalies",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestMetricsIALUnknownWeights(t *testing.T) {
	dir := testEnv(t)
	seedCity(t, dir, "seedville")

	err := runCommand(t, "metrics", "ial", "--city", "seedville", "--weights", "9.9")
	if err == nil {
		t.Fatal("expected error for unknown weighting version")
	}
}

func TestMetricsZScoreCommand(t *testing.T) {
	dir := testEnv(t)
	seedCity(t, dir, "seedville")

	if err := runCommand(t, "metrics", "zscore", "--city", "seedville"); err != nil {
		t.Fatalf("zscore failed: %v", err)
	}

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	records, err := store.MetricRecords("seedville", "zscore_proposals", "", "2024-04")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("zscore records = %d, want one per member", len(records))
	}
}

func TestMetricsZScoreUnknownMember(t *testing.T) {
	dir := testEnv(t)
	seedCity(t, dir, "seedville")

	err := runCommand(t, "metrics", "zscore", "--city", "seedville", "--member", "nobody")
	if err == nil {
		t.Fatal("expected error for unknown member")
	}
}

func TestMetricsICGCommand(t *testing.T) {
	dir := testEnv(t)
	seedCity(t, dir, "seedville")

	if err := runCommand(t, "metrics", "icg", "--city", "seedville"); err != nil {
		t.Fatalf("icg failed: %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	dir := testEnv(t)

	if err := runCommand(t, "status"); err != nil {
		t.Fatalf("status on empty store failed: %v", err)
	}

	seedCity(t, dir, "seedville")
	if err := runCommand(t, "status"); err != nil {
		t.Fatalf("status after seed failed: %v", err)
	}
}

func TestRenderIALSummaryInsufficientData(t *testing.T) {
	wv := storage.WeightingVersion{Version: "1.0", Weights: map[string]float64{"proposals": 1}}
	out := renderIALSummary("nowhere", wv, nil, 0, 2.0)
	if !strings.Contains(out, "Insufficient data") {
		t.Errorf("summary = %q, want insufficient-data note", out)
	}
}

func TestFormatWeights(t *testing.T) {
	got := formatWeights(map[string]float64{
		"rapporteur":    0.2,
		"proposals":     0.5,
		"participation": 0.3,
	})
	want := "proposals=0.50 participation=0.30 rapporteur=0.20"
	if got != want {
		t.Errorf("formatWeights = %q, want %q", got, want)
	}
}
