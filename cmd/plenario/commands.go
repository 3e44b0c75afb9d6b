package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfcoelho/plenario/internal/collector"
	"github.com/mfcoelho/plenario/internal/config"
	"github.com/mfcoelho/plenario/internal/metrics"
	"github.com/mfcoelho/plenario/internal/model"
	"github.com/mfcoelho/plenario/internal/source"
	"github.com/mfcoelho/plenario/internal/storage"
)

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func newEngine(cfg config.Config, store *storage.Store) *metrics.Engine {
	eng := metrics.NewEngine(store)
	if cfg.Metrics.AnomalyThreshold > 0 {
		eng.Threshold = cfg.Metrics.AnomalyThreshold
	}
	return eng
}

// --- collect ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect snapshots from municipal sources",
	Long: `Collect councilmembers, proposals, agenda and news from registered
source adapters and append one snapshot per family.

Examples:
  plenario collect --city florianopolis
  plenario collect --all
  plenario collect --all --dry-run --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cityName, _ := cmd.Flags().GetString("city")
		all, _ := cmd.Flags().GetBool("all")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")

		if cityName == "" && !all {
			return fmt.Errorf("one of --city or --all is required (known cities: %s)",
				strings.Join(source.Cities(), ", "))
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		names := []string{cityName}
		if all {
			names = source.Cities()
		}

		sources := make([]source.Source, 0, len(names))
		for _, name := range names {
			src, err := source.New(name, sourceOptions(cfg, name))
			if err != nil {
				return err
			}
			sources = append(sources, src)
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		coll := collector.New(store, collectorConfig(cfg, dryRun))
		reports := coll.CollectCities(ctx, sources)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reports); err != nil {
				return err
			}
		} else {
			printReports(reports)
		}

		var failed, total int
		for _, rep := range reports {
			total += len(rep.Families)
			failed += len(rep.Failed())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d family collections failed", failed, total)
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().String("city", "", "collect a single city by its source key")
	collectCmd.Flags().Bool("all", false, "collect every registered city")
	collectCmd.Flags().Bool("dry-run", false, "fetch and report without writing anything")
	collectCmd.Flags().Bool("json", false, "print the collection report as JSON")
}

// sourceOptions maps a city's config block onto adapter options. Cities
// without a block run on the adapter's published defaults.
func sourceOptions(cfg config.Config, name string) source.Options {
	city, ok := cfg.City(name)
	if !ok {
		return source.Options{}
	}
	opts := source.Options{
		BaseURL:   city.BaseURL,
		Token:     city.Token,
		UserAgent: city.UserAgent,
	}
	if city.Timeout != "" {
		d, err := time.ParseDuration(city.Timeout)
		if err != nil {
			slog.Warn("invalid city timeout, using adapter default", "city", name, "value", city.Timeout, "error", err)
		} else {
			opts.Timeout = d
		}
	}
	return opts
}

func collectorConfig(cfg config.Config, dryRun bool) collector.Config {
	cc := collector.Config{
		MaxPages:    cfg.Collector.MaxPages,
		MaxRetries:  cfg.Collector.MaxRetries,
		Parallelism: cfg.Collector.Parallelism,
		RawDir:      cfg.Storage.RawPath(),
		DryRun:      dryRun,
	}
	if d, err := time.ParseDuration(cfg.Collector.BaseBackoff); err == nil {
		cc.BaseBackoff = d
	} else {
		slog.Warn("invalid collector backoff, using default 1s", "value", cfg.Collector.BaseBackoff, "error", err)
	}
	if d, err := time.ParseDuration(cfg.Collector.FetchTimeout); err == nil {
		cc.FetchTimeout = d
	} else {
		slog.Warn("invalid fetch timeout, using default 30s", "value", cfg.Collector.FetchTimeout, "error", err)
	}
	return cc
}

func printReports(reports []*collector.Report) {
	for _, rep := range reports {
		suffix := ""
		if rep.DryRun {
			suffix = " (dry-run)"
		}
		printStep("%s/%s%s", rep.City, rep.UF, suffix)
		for _, fr := range rep.Families {
			if fr.Status == collector.StatusOK {
				printSuccess("%-15s %4d items, %d pages in %s",
					fr.Family, fr.Items, fr.Pages, fr.Duration.Round(time.Millisecond))
			} else {
				printError("%-15s %s", fr.Family, fr.Error)
			}
		}
	}
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute activity metrics from stored history",
}

var metricsIALCmd = &cobra.Command{
	Use:   "ial",
	Short: "Rank councilmembers by the legislative activity index",
	Long: `Compute the legislative activity index for every sitting
councilmember of a city and append one record per member.

Examples:
  plenario metrics ial --city florianopolis
  plenario metrics ial --city florianopolis --period 2024 --weights 1.0
  plenario metrics ial --city florianopolis --summary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		city, _ := cmd.Flags().GetString("city")
		period, _ := cmd.Flags().GetString("period")
		weightsVersion, _ := cmd.Flags().GetString("weights")
		summary, _ := cmd.Flags().GetBool("summary")
		asJSON, _ := cmd.Flags().GetBool("json")

		if city == "" {
			return fmt.Errorf("--city is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		eng := newEngine(cfg, store)
		scores, err := eng.RunIAL(city, period, weightsVersion)
		if err != nil {
			return err
		}

		if summary {
			zscores, err := eng.RunZScores(city, metrics.SeriesProposals)
			if err != nil {
				return err
			}
			anomalies := 0
			for _, z := range zscores {
				if z.Anomaly {
					anomalies++
				}
			}
			wv, err := store.GetWeightingVersion(weightsVersion)
			if err != nil {
				return err
			}
			fmt.Print(renderIALSummary(city, wv, scores, anomalies, eng.Threshold))
			return nil
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(scores)
		}

		if len(scores) == 0 {
			printWarning("no councilmembers recorded for %s", city)
			return nil
		}
		for i, sc := range scores {
			if sc.Status != model.StatusOK {
				printWarning("%-26s %s", sc.Name, sc.Status)
				continue
			}
			fmt.Printf("%3d. %-26s %6.1f  p%-3d  %s\n", i+1, sc.Name, sc.Score, sc.Percentile, sc.Party)
		}
		return nil
	},
}

var metricsZScoreCmd = &cobra.Command{
	Use:   "zscore",
	Short: "Flag unusual monthly activity swings",
	Long: `Standardize the latest monthly observation of an activity series
against each councilmember's own history.

Examples:
  plenario metrics zscore --city florianopolis
  plenario metrics zscore --city florianopolis --series participation
  plenario metrics zscore --city florianopolis --member "Ana Souza"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		city, _ := cmd.Flags().GetString("city")
		series, _ := cmd.Flags().GetString("series")
		member, _ := cmd.Flags().GetString("member")
		asJSON, _ := cmd.Flags().GetBool("json")

		if city == "" {
			return fmt.Errorf("--city is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		eng := newEngine(cfg, store)

		if member != "" {
			z, err := eng.MemberZScore(city, member, series)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(z)
			}
			printZScore(memberNames(store, city), z)
			return nil
		}

		zscores, err := eng.RunZScores(city, series)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(zscores)
		}
		if len(zscores) == 0 {
			printWarning("no councilmembers recorded for %s", city)
			return nil
		}
		names := memberNames(store, city)
		for _, z := range zscores {
			printZScore(names, z)
		}
		return nil
	},
}

var metricsICGCmd = &cobra.Command{
	Use:   "icg",
	Short: "Measure geographic concentration of proposals",
	Long: `Compute the Herfindahl concentration of proposals across city
districts, city-wide or for one councilmember.

Examples:
  plenario metrics icg --city florianopolis
  plenario metrics icg --city florianopolis --member "Ana Souza"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		city, _ := cmd.Flags().GetString("city")
		member, _ := cmd.Flags().GetString("member")
		asJSON, _ := cmd.Flags().GetBool("json")

		if city == "" {
			return fmt.Errorf("--city is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		eng := newEngine(cfg, store)

		var icg metrics.ICG
		if member != "" {
			icg, err = eng.MemberICG(city, member)
		} else {
			icg, err = eng.CityICG(city)
		}
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(icg)
		}

		if icg.Status != model.StatusOK {
			printWarning("concentration is %s: no district-tagged proposals", icg.Status)
			return nil
		}
		printStatus("Concentration", "%.4f (%s)", icg.Value, icg.Band)
		for _, sh := range icg.Shares {
			fmt.Printf("  %-22s %4d proposals  %5.1f%%\n", sh.District, sh.Count, sh.Share*100)
		}
		return nil
	},
}

func init() {
	metricsIALCmd.Flags().String("city", "", "city to score")
	metricsIALCmd.Flags().String("period", metrics.PeriodAll, "period to score: YYYY, YYYY-MM or all")
	metricsIALCmd.Flags().String("weights", "1.0", "weighting version to apply")
	metricsIALCmd.Flags().Bool("summary", false, "render a markdown activity report")
	metricsIALCmd.Flags().Bool("json", false, "print scores as JSON")

	metricsZScoreCmd.Flags().String("city", "", "city to analyze")
	metricsZScoreCmd.Flags().String("series", metrics.SeriesProposals, "activity series: proposals, participation or rapporteur")
	metricsZScoreCmd.Flags().String("member", "", "restrict to one councilmember (id or name)")
	metricsZScoreCmd.Flags().Bool("json", false, "print results as JSON")

	metricsICGCmd.Flags().String("city", "", "city to analyze")
	metricsICGCmd.Flags().String("member", "", "restrict to one councilmember (id or name)")
	metricsICGCmd.Flags().Bool("json", false, "print the result as JSON")

	metricsCmd.AddCommand(metricsIALCmd)
	metricsCmd.AddCommand(metricsZScoreCmd)
	metricsCmd.AddCommand(metricsICGCmd)
}

func memberNames(store *storage.Store, city string) map[string]string {
	names := make(map[string]string)
	rows, err := store.CurrentCouncilmembers(city)
	if err != nil {
		return names
	}
	for _, r := range rows {
		names[r.SourceID] = r.Name
	}
	return names
}

func printZScore(names map[string]string, z metrics.ZScore) {
	name := names[z.CouncilmemberID]
	if name == "" {
		name = z.CouncilmemberID
	}
	if z.Status != model.StatusOK {
		printWarning("%-26s %s", name, z.Status)
		return
	}
	line := fmt.Sprintf("%-26s %s  z=%+.2f  (mean %.2f, sd %.2f, observed %.0f)",
		name, z.Period, z.Value, z.Mean, z.StdDev, z.Observed)
	if z.Anomaly {
		printWarning("%s  ANOMALY", line)
		return
	}
	fmt.Println(line)
}

// renderIALSummary builds the markdown activity report used as the base
// of periodic publications.
func renderIALSummary(city string, wv storage.WeightingVersion, scores []metrics.IALScore, anomalies int, threshold float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Legislative activity report: %s\n\n", titleCase(city))
	fmt.Fprintf(&b, "**IAL weighting v%s** (%s)\n\n", wv.Version, formatWeights(wv.Weights))

	var ranked []metrics.IALScore
	for _, sc := range scores {
		if sc.Status == model.StatusOK {
			ranked = append(ranked, sc)
		}
	}
	if len(ranked) == 0 {
		b.WriteString("Insufficient data for a ranking.\n")
		return b.String()
	}

	b.WriteString("## Top 3 most active\n\n")
	b.WriteString("| # | Councilmember | IAL | Percentile | Proposals |\n")
	b.WriteString("|--:|---------------|----:|-----------:|----------:|\n")
	for i, sc := range ranked {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "| %d | %s | %.1f | %d | %d |\n",
			i+1, sc.Name, sc.Score, sc.Percentile, sc.Components.Proposals)
	}

	fmt.Fprintf(&b, "\n## Anomalies\n\n%d unusual monthly proposal swings (|Z| >= %.1f).\n", anomalies, threshold)
	b.WriteString("\nThe index measures recorded output, not quality of representation.\n")
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatWeights(weights map[string]float64) string {
	order := []string{metrics.SeriesProposals, metrics.SeriesParticipation, metrics.SeriesRapporteur}
	known := make(map[string]bool, len(order))
	parts := make([]string, 0, len(weights))
	for _, k := range order {
		known[k] = true
		if v, ok := weights[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.2f", k, v))
		}
	}
	var extras []string
	for k := range weights {
		if !known[k] {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, weights[k]))
	}
	return strings.Join(parts, " ")
}

// --- weights ---

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Manage frozen IAL weighting versions",
}

var weightsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List weighting versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := store.ListWeightingVersions()
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Printf("%-8s %s  %s\n", v.Version, v.CreatedAt.Format("2006-01-02"), formatWeights(v.Weights))
			if v.Description != "" {
				fmt.Printf("         %s\n", v.Description)
			}
		}
		return nil
	},
}

var weightsShowCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Show one weighting version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		wv, err := store.GetWeightingVersion(args[0])
		if err != nil {
			return err
		}
		printStatus("Version", "%s", wv.Version)
		printStatus("Created", "%s", wv.CreatedAt.Format(time.RFC3339))
		printStatus("Weights", "%s", formatWeights(wv.Weights))
		if wv.Description != "" {
			printStatus("Description", "%s", wv.Description)
		}
		return nil
	},
}

var weightsCreateCmd = &cobra.Command{
	Use:   "create <version>",
	Short: "Freeze a new weighting version",
	Long: `Freeze a new IAL weighting version. Weights are normalized to sum
to one at computation time, so any positive scale works.

Example:
  plenario weights create 2.0 --proposals 5 --participation 3 --rapporteur 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proposals, _ := cmd.Flags().GetFloat64("proposals")
		participation, _ := cmd.Flags().GetFloat64("participation")
		rapporteur, _ := cmd.Flags().GetFloat64("rapporteur")
		description, _ := cmd.Flags().GetString("description")

		if proposals+participation+rapporteur <= 0 {
			return fmt.Errorf("weights must sum to a positive value")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		wv := storage.WeightingVersion{
			Version: args[0],
			Weights: map[string]float64{
				metrics.SeriesProposals:     proposals,
				metrics.SeriesParticipation: participation,
				metrics.SeriesRapporteur:    rapporteur,
			},
			Description: description,
			CreatedAt:   time.Now().UTC(),
		}
		if err := store.CreateWeightingVersion(wv); err != nil {
			return err
		}
		printSuccess("Created weighting %s (%s)", wv.Version, formatWeights(wv.Weights))
		return nil
	},
}

func init() {
	weightsCreateCmd.Flags().Float64("proposals", 0, "weight of authored proposals")
	weightsCreateCmd.Flags().Float64("participation", 0, "weight of session participation")
	weightsCreateCmd.Flags().Float64("rapporteur", 0, "weight of rapporteur assignments")
	weightsCreateCmd.Flags().String("description", "", "free-form note on the methodology change")

	weightsCmd.AddCommand(weightsListCmd)
	weightsCmd.AddCommand(weightsShowCmd)
	weightsCmd.AddCommand(weightsCreateCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored data coverage per city",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		printStatus("Database", "%s", cfg.Storage.DBPath())
		printStatus("Sources", "%s", strings.Join(source.Cities(), ", "))

		cities, err := store.Cities()
		if err != nil {
			return err
		}
		if len(cities) == 0 {
			printWarning("no collections recorded yet")
			return nil
		}

		for _, city := range cities {
			st, err := store.Stats(city)
			if err != nil {
				printError("%s: %v", city, err)
				continue
			}
			printStep("%s", city)
			printStatus("Councilmembers", "%d", st.Councilmembers)
			printStatus("Proposals", "%d", st.Proposals)
			printStatus("Agenda items", "%d", st.AgendaItems)
			printStatus("News items", "%d", st.NewsItems)
			printStatus("Snapshots", "%d", st.Snapshots)
			printStatus("Metric records", "%d", st.MetricRecords)
			last := "never"
			if !st.LastCollectedAt.IsZero() {
				last = st.LastCollectedAt.Format(time.RFC3339)
			}
			printStatus("Last collection", "%s", last)
		}
		return nil
	},
}
