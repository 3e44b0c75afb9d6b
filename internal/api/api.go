// Package api serves the historical store over read-only JSON
// endpoints: current state and history per entity family, collection
// logs, snapshots, metric records and weighting versions. Collection
// and metric computation run out of band; nothing here writes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mfcoelho/plenario/internal/model"
	"github.com/mfcoelho/plenario/internal/storage"
)

// Deps wires the handlers to the store. Metrics, when set, is mounted
// at /metrics for Prometheus scrapes.
type Deps struct {
	Store   *storage.Store
	Metrics http.Handler
}

// NewHandler builds the API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cities", handleCities(deps))
		r.Get("/weightings", handleWeightings(deps))
		r.Get("/weightings/{version}", handleWeighting(deps))
		r.Get("/snapshots/{id}/payload", handleSnapshotPayload(deps))

		r.Route("/cities/{city}", func(r chi.Router) {
			r.Get("/stats", handleStats(deps))
			r.Get("/councilmembers", handleCouncilmembers(deps))
			r.Get("/councilmembers/{id}/history", handleCouncilmemberHistory(deps))
			r.Get("/councilmembers/{id}/metrics", handleMemberMetrics(deps))
			r.Get("/proposals", handleProposals(deps))
			r.Get("/proposals/{id}/history", handleProposalHistory(deps))
			r.Get("/agenda", handleAgenda(deps))
			r.Get("/news", handleNews(deps))
			r.Get("/districts", handleDistricts(deps))
			r.Get("/collections", handleCollections(deps))
			r.Get("/snapshots", handleSnapshots(deps))
			r.Get("/metrics/{metric}", handleMetricRecords(deps))
		})
	})

	return r
}

func handleCities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cities, err := deps.Store.Cities()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing cities: %v", err)
			return
		}
		if cities == nil {
			cities = []string{}
		}
		writeJSON(w, cities)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(chi.URLParam(r, "city"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

func handleCouncilmembers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members, err := deps.Store.CurrentCouncilmembers(chi.URLParam(r, "city"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing councilmembers: %v", err)
			return
		}
		if members == nil {
			members = []storage.CouncilmemberRow{}
		}
		writeJSON(w, members)
	}
}

func handleCouncilmemberHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		city, id := chi.URLParam(r, "city"), chi.URLParam(r, "id")
		history, err := deps.Store.CouncilmemberHistory(city, id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}
		if len(history) == 0 {
			httpError(w, http.StatusNotFound, "not_found", "no snapshots of councilmember %s in %s", id, city)
			return
		}
		writeJSON(w, history)
	}
}

func handleMemberMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Store.MemberMetrics(chi.URLParam(r, "city"), chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading member metrics: %v", err)
			return
		}
		if records == nil {
			records = []storage.MetricRecord{}
		}
		writeJSON(w, records)
	}
}

func handleProposals(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proposals, err := deps.Store.CurrentProposals(chi.URLParam(r, "city"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing proposals: %v", err)
			return
		}
		if proposals == nil {
			proposals = []storage.ProposalRow{}
		}
		writeJSON(w, proposals)
	}
}

func handleProposalHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		city, id := chi.URLParam(r, "city"), chi.URLParam(r, "id")
		history, err := deps.Store.ProposalHistory(city, id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}
		if len(history) == 0 {
			httpError(w, http.StatusNotFound, "not_found", "no snapshots of proposal %s in %s", id, city)
			return
		}
		writeJSON(w, history)
	}
}

func handleAgenda(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Store.CurrentAgendaItems(chi.URLParam(r, "city"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing agenda: %v", err)
			return
		}
		if items == nil {
			items = []storage.AgendaItemRow{}
		}
		writeJSON(w, items)
	}
}

func handleNews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		items, err := deps.Store.CurrentNews(chi.URLParam(r, "city"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing news: %v", err)
			return
		}
		if items == nil {
			items = []storage.NewsItemRow{}
		}
		writeJSON(w, items)
	}
}

func handleDistricts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		districts, err := deps.Store.Districts(chi.URLParam(r, "city"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing districts: %v", err)
			return
		}
		if districts == nil {
			districts = []model.District{}
		}
		writeJSON(w, districts)
	}
}

func handleCollections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		rows, err := deps.Store.RecentCollections(chi.URLParam(r, "city"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing collections: %v", err)
			return
		}
		if rows == nil {
			rows = []storage.CollectionRow{}
		}
		writeJSON(w, rows)
	}
}

func handleSnapshots(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		family := model.Family(r.URL.Query().Get("family"))
		snaps, err := deps.Store.Snapshots(chi.URLParam(r, "city"), family, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing snapshots: %v", err)
			return
		}
		if snaps == nil {
			snaps = []model.SnapshotMeta{}
		}
		writeJSON(w, snaps)
	}
}

func handleSnapshotPayload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		payload, err := deps.Store.SnapshotPayload(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "snapshot %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading payload: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}
}

func handleMetricRecords(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		city := chi.URLParam(r, "city")
		metric := chi.URLParam(r, "metric")
		version := r.URL.Query().Get("version")
		period := r.URL.Query().Get("period")
		if period == "" {
			period = "all"
		}

		records, err := deps.Store.MetricRecords(city, metric, version, period)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing metric records: %v", err)
			return
		}
		if records == nil {
			records = []storage.MetricRecord{}
		}
		writeJSON(w, records)
	}
}

func handleWeightings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versions, err := deps.Store.ListWeightingVersions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing weighting versions: %v", err)
			return
		}
		if versions == nil {
			versions = []storage.WeightingVersion{}
		}
		writeJSON(w, versions)
	}
}

func handleWeighting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := chi.URLParam(r, "version")
		wv, err := deps.Store.GetWeightingVersion(version)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "weighting version %s not found", version)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading weighting version: %v", err)
			return
		}
		writeJSON(w, wv)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
