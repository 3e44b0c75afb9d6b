package storage

import (
	"database/sql"
	"time"

	"github.com/mfcoelho/plenario/internal/model"
)

// --- Collection log ---

// RecordCollection appends one line to the collection log. Failed attempts
// are recorded the same way as successful ones; the log is the audit trail
// operational tooling reads for coverage analysis.
func (s *Store) RecordCollection(c CollectionRow) error {
	_, err := s.db.Exec(`
		INSERT INTO collections (city, family, started_at, finished_at, item_count, pages, retries, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.City, string(c.Family), formatTime(c.StartedAt), formatTime(c.FinishedAt),
		c.ItemCount, c.Pages, c.Retries, c.Status, c.Error,
	)
	return err
}

// RecentCollections returns the latest log lines for a city, newest first.
func (s *Store) RecentCollections(city string, limit int) ([]CollectionRow, error) {
	rows, err := s.db.Query(`
		SELECT id, city, family, started_at, finished_at, item_count, pages, retries, status, error
		FROM collections WHERE city = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, city, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CollectionRow
	for rows.Next() {
		var c CollectionRow
		var family, startedAt, finishedAt string
		if err := rows.Scan(&c.ID, &c.City, &family, &startedAt, &finishedAt,
			&c.ItemCount, &c.Pages, &c.Retries, &c.Status, &c.Error); err != nil {
			return nil, err
		}
		if c.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if c.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		c.Family = model.Family(family)
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Aggregate stats ---

// CityStats summarizes what the store holds for one city.
type CityStats struct {
	City            string
	Councilmembers  int // distinct source ids
	Proposals       int
	AgendaItems     int
	NewsItems       int
	Snapshots       int
	MetricRecords   int
	LastCollectedAt time.Time // zero when nothing was collected yet
}

func (s *Store) Stats(city string) (CityStats, error) {
	stats := CityStats{City: city}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(DISTINCT source_id) FROM councilmembers WHERE city = ?", &stats.Councilmembers},
		{"SELECT COUNT(DISTINCT source_id) FROM proposals WHERE city = ?", &stats.Proposals},
		{"SELECT COUNT(DISTINCT source_id) FROM agenda_items WHERE city = ?", &stats.AgendaItems},
		{"SELECT COUNT(DISTINCT source_id) FROM news_items WHERE city = ?", &stats.NewsItems},
		{"SELECT COUNT(*) FROM snapshots WHERE city = ?", &stats.Snapshots},
		{"SELECT COUNT(*) FROM metric_records WHERE city = ?", &stats.MetricRecords},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query, city).Scan(c.dest); err != nil {
			return CityStats{}, err
		}
	}

	var last sql.NullString
	if err := s.db.QueryRow("SELECT MAX(collected_at) FROM snapshots WHERE city = ?", city).Scan(&last); err != nil {
		return CityStats{}, err
	}
	if last.Valid {
		t, err := parseTime(last.String)
		if err != nil {
			return CityStats{}, err
		}
		stats.LastCollectedAt = t
	}
	return stats, nil
}

// CollectionStatusCounts tallies a city's collection log by outcome.
func (s *Store) CollectionStatusCounts(city string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM collections
		WHERE city = ? GROUP BY status`, city)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Cities lists every city the store has snapshots for.
func (s *Store) Cities() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT city FROM snapshots ORDER BY city")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}
