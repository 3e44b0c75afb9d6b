package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mfcoelho/plenario/internal/model"
)

// --- Metric records ---

// AppendMetricRecord appends one computed metric. The record key is
// (city, councilmember, metric, weighting version, period); appending an
// existing key is a no-op so batch recomputation over the same window is
// idempotent. Returns whether a new record was written.
func (s *Store) AppendMetricRecord(r MetricRecord) (bool, error) {
	var value any
	if r.Status == model.StatusOK {
		value = r.Value
	}
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO metric_records (city, councilmember_id, metric, weighting_version, period, value, status, computed_at, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.City, r.CouncilmemberID, r.Metric, r.WeightingVersion, r.Period,
		value, string(r.Status), formatTime(r.ComputedAt), r.Details,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MetricRecords returns all records for one (metric, weighting version,
// period) key of a city, ordered by councilmember id. An empty version
// matches metrics that carry none.
func (s *Store) MetricRecords(city, metric, weightingVersion, period string) ([]MetricRecord, error) {
	rows, err := s.db.Query(`
		SELECT city, councilmember_id, metric, weighting_version, period, value, status, computed_at, details_json
		FROM metric_records
		WHERE city = ? AND metric = ? AND weighting_version = ? AND period = ?
		ORDER BY councilmember_id`, city, metric, weightingVersion, period)
	if err != nil {
		return nil, err
	}
	return scanMetricRecords(rows)
}

// MemberMetrics returns every metric record of one councilmember, ordered
// by metric, then weighting version, then period.
func (s *Store) MemberMetrics(city, councilmemberID string) ([]MetricRecord, error) {
	rows, err := s.db.Query(`
		SELECT city, councilmember_id, metric, weighting_version, period, value, status, computed_at, details_json
		FROM metric_records
		WHERE city = ? AND councilmember_id = ?
		ORDER BY metric, weighting_version, period`, city, councilmemberID)
	if err != nil {
		return nil, err
	}
	return scanMetricRecords(rows)
}

func scanMetricRecords(rows *sql.Rows) ([]MetricRecord, error) {
	defer rows.Close()

	var results []MetricRecord
	for rows.Next() {
		var r MetricRecord
		var value sql.NullFloat64
		var status, computedAt string
		if err := rows.Scan(&r.City, &r.CouncilmemberID, &r.Metric, &r.WeightingVersion,
			&r.Period, &value, &status, &computedAt, &r.Details); err != nil {
			return nil, err
		}
		t, err := parseTime(computedAt)
		if err != nil {
			return nil, err
		}
		r.ComputedAt = t
		r.Status = model.MetricStatus(status)
		if value.Valid {
			r.Value = value.Float64
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Weighting versions ---

// CreateWeightingVersion freezes a new named weight set. Versions are
// immutable: reusing an existing id fails with ErrVersionExists even when
// the weights are identical.
func (s *Store) CreateWeightingVersion(v WeightingVersion) error {
	weights, err := json.Marshal(v.Weights)
	if err != nil {
		return fmt.Errorf("encoding weights: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning weighting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM weighting_versions WHERE version = ?", v.Version).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrVersionExists
	}

	if _, err := tx.Exec(`
		INSERT INTO weighting_versions (version, weights_json, description, created_at)
		VALUES (?, ?, ?, ?)`,
		v.Version, string(weights), v.Description, formatTime(v.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting weighting version %s: %w", v.Version, err)
	}
	return tx.Commit()
}

func (s *Store) GetWeightingVersion(version string) (WeightingVersion, error) {
	var v WeightingVersion
	var weightsJSON, createdAt string
	err := s.db.QueryRow(`
		SELECT version, weights_json, description, created_at
		FROM weighting_versions WHERE version = ?`, version,
	).Scan(&v.Version, &weightsJSON, &v.Description, &createdAt)
	if err == sql.ErrNoRows {
		return WeightingVersion{}, ErrNotFound
	}
	if err != nil {
		return WeightingVersion{}, err
	}
	if err := json.Unmarshal([]byte(weightsJSON), &v.Weights); err != nil {
		return WeightingVersion{}, fmt.Errorf("decoding weights of version %s: %w", version, err)
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return WeightingVersion{}, err
	}
	return v, nil
}

func (s *Store) ListWeightingVersions() ([]WeightingVersion, error) {
	rows, err := s.db.Query(`
		SELECT version, weights_json, description, created_at
		FROM weighting_versions ORDER BY created_at, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []WeightingVersion
	for rows.Next() {
		var v WeightingVersion
		var weightsJSON, createdAt string
		if err := rows.Scan(&v.Version, &weightsJSON, &v.Description, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(weightsJSON), &v.Weights); err != nil {
			return nil, fmt.Errorf("decoding weights of version %s: %w", v.Version, err)
		}
		if v.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}
