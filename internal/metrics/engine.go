package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mfcoelho/plenario/internal/model"
	"github.com/mfcoelho/plenario/internal/storage"
)

// MetricStore is the slice of the storage API the engine reads from and
// appends results to.
type MetricStore interface {
	CurrentCouncilmembers(city string) ([]storage.CouncilmemberRow, error)
	CurrentProposals(city string) ([]storage.ProposalRow, error)
	CurrentAgendaItems(city string) ([]storage.AgendaItemRow, error)
	GetWeightingVersion(version string) (storage.WeightingVersion, error)
	AppendMetricRecord(r storage.MetricRecord) (bool, error)
}

// Engine runs metric computations over a city's current state and
// appends the results. Appends are idempotent, so re-running a
// computation over unchanged data changes nothing.
type Engine struct {
	store  MetricStore
	logger *slog.Logger

	// Threshold is the |Z| at or above which an observation is flagged
	// as an anomaly.
	Threshold float64
}

func NewEngine(store MetricStore) *Engine {
	return &Engine{
		store:     store,
		logger:    slog.Default(),
		Threshold: DefaultAnomalyThreshold,
	}
}

type ialDetails struct {
	Components IALComponents      `json:"components"`
	Percentile int                `json:"percentile"`
	Weights    map[string]float64 `json:"weights"`
}

type zscoreDetails struct {
	Observed  float64 `json:"observed"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stddev"`
	Anomaly   bool    `json:"anomaly"`
	Threshold float64 `json:"threshold"`
}

type icgDetails struct {
	Band   string          `json:"band,omitempty"`
	Shares []DistrictShare `json:"shares,omitempty"`
}

// RunIAL scores every councilmember of a city for a period under a
// frozen weighting version and appends one record per member, including
// the members whose result is missing.
func (e *Engine) RunIAL(city, period, version string) ([]IALScore, error) {
	if !validPeriod(period) {
		return nil, fmt.Errorf("invalid period %q: want YYYY, YYYY-MM or %q", period, PeriodAll)
	}
	wv, err := e.store.GetWeightingVersion(version)
	if err != nil {
		return nil, fmt.Errorf("loading weighting version %s: %w", version, err)
	}
	members, proposals, agenda, err := e.loadCity(city)
	if err != nil {
		return nil, err
	}

	scores := ComputeIAL(members, proposals, agenda, wv.Weights, period)

	appended := 0
	computedAt := time.Now().UTC()
	for _, sc := range scores {
		details, err := json.Marshal(ialDetails{
			Components: sc.Components,
			Percentile: sc.Percentile,
			Weights:    normalizeWeights(wv.Weights),
		})
		if err != nil {
			return nil, fmt.Errorf("encoding ial details for %s: %w", sc.CouncilmemberID, err)
		}
		ok, err := e.store.AppendMetricRecord(storage.MetricRecord{
			City:             city,
			CouncilmemberID:  sc.CouncilmemberID,
			Metric:           MetricIAL,
			WeightingVersion: version,
			Period:           period,
			Value:            sc.Score,
			Status:           sc.Status,
			ComputedAt:       computedAt,
			Details:          string(details),
		})
		if err != nil {
			return nil, fmt.Errorf("recording ial for %s: %w", sc.CouncilmemberID, err)
		}
		if ok {
			appended++
		}
	}

	e.logger.Info("ial computed",
		"city", city, "period", period, "version", version,
		"members", len(scores), "new_records", appended)
	return scores, nil
}

// RunZScores computes the latest-month deviation of every councilmember
// for one activity series and appends a record per member.
func (e *Engine) RunZScores(city, series string) ([]ZScore, error) {
	metric, err := seriesMetric(series)
	if err != nil {
		return nil, err
	}
	members, proposals, agenda, err := e.loadCity(city)
	if err != nil {
		return nil, err
	}
	ix := newMemberIndex(members)
	perMember, months := buildSeries(series, ix, proposals, agenda)

	results := make([]ZScore, 0, len(ix.ids))
	anomalies := 0
	for _, id := range ix.ids {
		res := e.memberZ(id, series, perMember, months)
		if res.Anomaly {
			anomalies++
		}
		if err := e.appendZScore(city, metric, res); err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	e.logger.Info("zscores computed",
		"city", city, "series", series, "members", len(results),
		"months", len(months), "anomalies", anomalies)
	return results, nil
}

// MemberZScore computes one councilmember's deviation for an activity
// series. The member may be referenced by source id or exact name.
func (e *Engine) MemberZScore(city, ref, series string) (ZScore, error) {
	metric, err := seriesMetric(series)
	if err != nil {
		return ZScore{}, err
	}
	members, proposals, agenda, err := e.loadCity(city)
	if err != nil {
		return ZScore{}, err
	}
	ix := newMemberIndex(members)
	id, ok := ix.resolve(ref)
	if !ok {
		return ZScore{}, fmt.Errorf("councilmember %q not recorded for %s: %w", ref, city, storage.ErrNotFound)
	}

	perMember, months := buildSeries(series, ix, proposals, agenda)
	res := e.memberZ(id, series, perMember, months)
	if err := e.appendZScore(city, metric, res); err != nil {
		return ZScore{}, err
	}
	return res, nil
}

// MemberICG measures how concentrated a councilmember's geo-tagged
// proposals are across districts and appends the record.
func (e *Engine) MemberICG(city, ref string) (ICG, error) {
	members, proposals, _, err := e.loadCity(city)
	if err != nil {
		return ICG{}, err
	}
	ix := newMemberIndex(members)
	id, ok := ix.resolve(ref)
	if !ok {
		return ICG{}, fmt.Errorf("councilmember %q not recorded for %s: %w", ref, city, storage.ErrNotFound)
	}

	var authored []model.Proposal
	for i := range proposals {
		for _, aref := range proposals[i].AuthorIDs {
			if resolved, ok := ix.resolve(aref); ok && resolved == id {
				authored = append(authored, proposals[i])
				break
			}
		}
	}

	icg := Herfindahl(districtCounts(authored))
	details, err := json.Marshal(icgDetails{Band: icg.Band, Shares: icg.Shares})
	if err != nil {
		return ICG{}, fmt.Errorf("encoding icg details for %s: %w", id, err)
	}
	if _, err := e.store.AppendMetricRecord(storage.MetricRecord{
		City:            city,
		CouncilmemberID: id,
		Metric:          MetricICG,
		Period:          PeriodAll,
		Value:           icg.Value,
		Status:          icg.Status,
		ComputedAt:      time.Now().UTC(),
		Details:         string(details),
	}); err != nil {
		return ICG{}, fmt.Errorf("recording icg for %s: %w", id, err)
	}
	return icg, nil
}

// CityICG measures geographic concentration over every geo-tagged
// proposal of a city, whoever authored it. City-wide readings are
// returned for reporting, not recorded per member.
func (e *Engine) CityICG(city string) (ICG, error) {
	_, proposals, _, err := e.loadCity(city)
	if err != nil {
		return ICG{}, err
	}
	icg := Herfindahl(districtCounts(proposals))
	e.logger.Info("city icg computed", "city", city, "status", icg.Status, "value", icg.Value, "districts", len(icg.Shares))
	return icg, nil
}

func (e *Engine) loadCity(city string) ([]model.Councilmember, []model.Proposal, []model.AgendaItem, error) {
	mrows, err := e.store.CurrentCouncilmembers(city)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading councilmembers for %s: %w", city, err)
	}
	prows, err := e.store.CurrentProposals(city)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading proposals for %s: %w", city, err)
	}
	arows, err := e.store.CurrentAgendaItems(city)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading agenda for %s: %w", city, err)
	}

	members := make([]model.Councilmember, len(mrows))
	for i, r := range mrows {
		members[i] = r.Councilmember
	}
	proposals := make([]model.Proposal, len(prows))
	for i, r := range prows {
		proposals[i] = r.Proposal
	}
	agenda := make([]model.AgendaItem, len(arows))
	for i, r := range arows {
		agenda[i] = r.AgendaItem
	}
	return members, proposals, agenda, nil
}

// buildSeries buckets one activity series into monthly observations per
// member. The month axis spans every month between the first and last
// dated row of the underlying family, so quiet months count as zeros
// instead of vanishing from a member's history.
func buildSeries(series string, ix *memberIndex, proposals []model.Proposal, agenda []model.AgendaItem) (map[string]map[string]float64, []string) {
	perMember := make(map[string]map[string]float64)
	bump := func(id, month string) {
		if perMember[id] == nil {
			perMember[id] = make(map[string]float64)
		}
		perMember[id][month]++
	}

	var first, last string
	observe := func(month string) {
		if first == "" || month < first {
			first = month
		}
		if month > last {
			last = month
		}
	}

	switch series {
	case SeriesProposals, SeriesRapporteur:
		for i := range proposals {
			p := &proposals[i]
			month, ok := monthOf(p.FiledAt)
			if !ok {
				continue
			}
			observe(month)
			if series == SeriesRapporteur {
				if p.RapporteurID == "" {
					continue
				}
				if id, ok := ix.resolve(p.RapporteurID); ok {
					bump(id, month)
				}
				continue
			}
			credited := make(map[string]bool)
			for _, ref := range p.AuthorIDs {
				if id, ok := ix.resolve(ref); ok && !credited[id] {
					credited[id] = true
					bump(id, month)
				}
			}
		}
	case SeriesParticipation:
		lookup := newProposalLookup(proposals)
		for i := range agenda {
			item := &agenda[i]
			month, ok := monthOf(item.SessionDate)
			if !ok {
				continue
			}
			observe(month)
			present := make(map[string]bool)
			for _, ref := range item.ProposalIDs {
				p, ok := lookup.find(ref)
				if !ok {
					continue
				}
				for _, aref := range p.AuthorIDs {
					if id, ok := ix.resolve(aref); ok {
						present[id] = true
					}
				}
			}
			for id := range present {
				bump(id, month)
			}
		}
	}

	if first == "" {
		return perMember, nil
	}
	return perMember, monthRange(first, last)
}

func (e *Engine) memberZ(id, series string, perMember map[string]map[string]float64, months []string) ZScore {
	values := make([]float64, len(months))
	for i, month := range months {
		values[i] = perMember[id][month]
	}

	z, mean, stddev, status := ComputeZScore(values)
	res := ZScore{
		CouncilmemberID: id,
		Series:          series,
		Status:          status,
		Mean:            round4(mean),
		StdDev:          round4(stddev),
	}
	if len(months) > 0 {
		res.Period = months[len(months)-1]
		res.Observed = values[len(values)-1]
	}
	if status == model.StatusOK {
		res.Anomaly = math.Abs(z) >= e.Threshold
		res.Value = round4(z)
	}
	return res
}

func (e *Engine) appendZScore(city, metric string, res ZScore) error {
	details, err := json.Marshal(zscoreDetails{
		Observed:  res.Observed,
		Mean:      res.Mean,
		StdDev:    res.StdDev,
		Anomaly:   res.Anomaly,
		Threshold: e.Threshold,
	})
	if err != nil {
		return fmt.Errorf("encoding zscore details for %s: %w", res.CouncilmemberID, err)
	}
	if _, err := e.store.AppendMetricRecord(storage.MetricRecord{
		City:            city,
		CouncilmemberID: res.CouncilmemberID,
		Metric:          metric,
		Period:          res.Period,
		Value:           res.Value,
		Status:          res.Status,
		ComputedAt:      time.Now().UTC(),
		Details:         string(details),
	}); err != nil {
		return fmt.Errorf("recording %s for %s: %w", metric, res.CouncilmemberID, err)
	}
	return nil
}
