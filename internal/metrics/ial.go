package metrics

import (
	"sort"

	"github.com/mfcoelho/plenario/internal/model"
)

// IALScore is one councilmember's legislative activity index for a
// period. Members with no recorded activity carry StatusMissing and no
// score; they never dilute the cohort.
type IALScore struct {
	CouncilmemberID string             `json:"councilmember_id"`
	Name            string             `json:"name"`
	Party           string             `json:"party,omitempty"`
	Status          model.MetricStatus `json:"status"`
	Score           float64            `json:"score"`
	Percentile      int                `json:"percentile"`
	Components      IALComponents      `json:"components"`
}

// IALComponents carries the raw activity counts and their cohort
// normalizations; published alongside the score so a reader can audit
// how it was produced.
type IALComponents struct {
	Proposals         int     `json:"proposals"`
	ParticipationRate float64 `json:"participation_rate"`
	Rapporteur        int     `json:"rapporteur"`
	ProposalsNorm     float64 `json:"proposals_norm"`
	ParticipationNorm float64 `json:"participation_norm"`
	RapporteurNorm    float64 `json:"rapporteur_norm"`
}

// ComputeIAL scores every councilmember's activity in a period.
//
// Three components feed the index: authored proposals, the share of
// sessions where one of the member's proposals was on the docket, and
// rapporteur assignments. Each component is min-max normalized within
// the cohort of members with any activity, weighted, and the sum is
// rescaled to [0, 100]. Results come back ordered best first, members
// without activity last with StatusMissing.
func ComputeIAL(members []model.Councilmember, proposals []model.Proposal, agenda []model.AgendaItem, weights map[string]float64, period string) []IALScore {
	weights = normalizeWeights(weights)
	ix := newMemberIndex(members)
	lookup := newProposalLookup(proposals)

	authored := make(map[string]int)
	rapporteur := make(map[string]int)
	for i := range proposals {
		p := &proposals[i]
		if !inPeriod(p.FiledAt, p.Year, period) {
			continue
		}
		credited := make(map[string]bool)
		for _, ref := range p.AuthorIDs {
			id, ok := ix.resolve(ref)
			if !ok || credited[id] {
				continue
			}
			credited[id] = true
			authored[id]++
		}
		if p.RapporteurID != "" {
			if id, ok := ix.resolve(p.RapporteurID); ok {
				rapporteur[id]++
			}
		}
	}

	sessions := 0
	onDocket := make(map[string]int)
	for i := range agenda {
		item := &agenda[i]
		if !inPeriod(item.SessionDate, 0, period) {
			continue
		}
		sessions++
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
			onDocket[id]++
		}
	}

	byID := make(map[string]model.Councilmember, len(members))
	for _, m := range members {
		byID[m.SourceID] = m
	}

	type activity struct {
		id   string
		prop int
		dock int
		rapp int
	}
	var active []activity
	var missing []string
	for _, id := range ix.ids {
		a := activity{id: id, prop: authored[id], dock: onDocket[id], rapp: rapporteur[id]}
		if a.prop == 0 && a.dock == 0 && a.rapp == 0 {
			missing = append(missing, id)
			continue
		}
		active = append(active, a)
	}

	props := make([]float64, len(active))
	rates := make([]float64, len(active))
	rapps := make([]float64, len(active))
	for i, a := range active {
		props[i] = float64(a.prop)
		if sessions > 0 {
			rates[i] = float64(a.dock) / float64(sessions)
		}
		rapps[i] = float64(a.rapp)
	}
	normProps := minMax(props)
	normRates := minMax(rates)
	normRapps := minMax(rapps)

	scores := make([]IALScore, 0, len(ix.ids))
	for i, a := range active {
		m := byID[a.id]
		raw := weights[SeriesProposals]*normProps[i] +
			weights[SeriesParticipation]*normRates[i] +
			weights[SeriesRapporteur]*normRapps[i]
		scores = append(scores, IALScore{
			CouncilmemberID: a.id,
			Name:            m.Name,
			Party:           m.Party,
			Status:          model.StatusOK,
			Score:           round1(raw * 100),
			Components: IALComponents{
				Proposals:         a.prop,
				ParticipationRate: round4(rates[i]),
				Rapporteur:        a.rapp,
				ProposalsNorm:     round4(normProps[i]),
				ParticipationNorm: round4(normRates[i]),
				RapporteurNorm:    round4(normRapps[i]),
			},
		})
	}

	ranked := make([]float64, len(scores))
	for i, s := range scores {
		ranked[i] = s.Score
	}
	for i, p := range percentiles(ranked) {
		scores[i].Percentile = p
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].CouncilmemberID < scores[j].CouncilmemberID
	})

	for _, id := range missing {
		m := byID[id]
		scores = append(scores, IALScore{
			CouncilmemberID: id,
			Name:            m.Name,
			Party:           m.Party,
			Status:          model.StatusMissing,
		})
	}
	return scores
}
