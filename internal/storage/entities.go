package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mfcoelho/plenario/internal/model"
)

// --- Snapshot writes ---
//
// Each Save*Snapshot call is one transaction: the snapshot header with the
// raw payload plus one history row per entity. A process interrupt between
// families therefore leaves only fully-committed families visible. Rows
// use INSERT OR REPLACE so an upstream page repeating a source id within
// one capture collapses to the last occurrence; rows from earlier
// snapshots are never touched.

func (s *Store) SaveCouncilmemberSnapshot(meta model.SnapshotMeta, members []model.Councilmember) error {
	raws := make([]map[string]any, len(members))
	for i, m := range members {
		raws[i] = m.Raw
	}
	tx, collectedAt, err := s.beginSnapshot(meta, raws)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range members {
		raw, err := json.Marshal(m.Raw)
		if err != nil {
			return fmt.Errorf("encoding councilmember %s: %w", m.SourceID, err)
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO councilmembers (city, uf, source_id, snapshot_id, collected_at, name, party, email, photo_url, mandate_start, mandate_end, raw_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meta.City, meta.UF, m.SourceID, meta.ID, collectedAt,
			m.Name, m.Party, m.Email, m.PhotoURL, m.MandateStart, m.MandateEnd, string(raw),
		); err != nil {
			return fmt.Errorf("inserting councilmember %s: %w", m.SourceID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SaveProposalSnapshot(meta model.SnapshotMeta, proposals []model.Proposal) error {
	raws := make([]map[string]any, len(proposals))
	for i, p := range proposals {
		raws[i] = p.Raw
	}
	tx, collectedAt, err := s.beginSnapshot(meta, raws)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range proposals {
		raw, err := json.Marshal(p.Raw)
		if err != nil {
			return fmt.Errorf("encoding proposal %s: %w", p.SourceID, err)
		}
		authors, err := json.Marshal(p.AuthorIDs)
		if err != nil {
			return fmt.Errorf("encoding authors of proposal %s: %w", p.SourceID, err)
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO proposals (city, uf, source_id, snapshot_id, collected_at, type, number, year, summary, authors_json, rapporteur, filed_at, district, status, raw_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meta.City, meta.UF, p.SourceID, meta.ID, collectedAt,
			string(p.Type), p.Number, p.Year, p.Summary, string(authors),
			p.RapporteurID, p.FiledAt, p.District, p.Status, string(raw),
		); err != nil {
			return fmt.Errorf("inserting proposal %s: %w", p.SourceID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SaveAgendaSnapshot(meta model.SnapshotMeta, items []model.AgendaItem) error {
	raws := make([]map[string]any, len(items))
	for i, it := range items {
		raws[i] = it.Raw
	}
	tx, collectedAt, err := s.beginSnapshot(meta, raws)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, it := range items {
		raw, err := json.Marshal(it.Raw)
		if err != nil {
			return fmt.Errorf("encoding agenda item %s: %w", it.SourceID, err)
		}
		proposalIDs, err := json.Marshal(it.ProposalIDs)
		if err != nil {
			return fmt.Errorf("encoding proposal refs of agenda item %s: %w", it.SourceID, err)
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO agenda_items (city, uf, source_id, snapshot_id, collected_at, session_date, session_type, title, description, proposal_ids_json, outcome, raw_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meta.City, meta.UF, it.SourceID, meta.ID, collectedAt,
			it.SessionDate, it.SessionType, it.Title, it.Description,
			string(proposalIDs), string(it.Outcome), string(raw),
		); err != nil {
			return fmt.Errorf("inserting agenda item %s: %w", it.SourceID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SaveNewsSnapshot(meta model.SnapshotMeta, items []model.NewsItem) error {
	raws := make([]map[string]any, len(items))
	for i, it := range items {
		raws[i] = it.Raw
	}
	tx, collectedAt, err := s.beginSnapshot(meta, raws)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, it := range items {
		raw, err := json.Marshal(it.Raw)
		if err != nil {
			return fmt.Errorf("encoding news item %s: %w", it.SourceID, err)
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO news_items (city, uf, source_id, snapshot_id, collected_at, title, published_at, url, raw_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meta.City, meta.UF, it.SourceID, meta.ID, collectedAt,
			it.Title, it.PublishedAt, it.URL, string(raw),
		); err != nil {
			return fmt.Errorf("inserting news item %s: %w", it.SourceID, err)
		}
	}
	return tx.Commit()
}

// beginSnapshot opens the family transaction and writes the snapshot header
// with the raw upstream payload. Callers must Commit or Rollback.
func (s *Store) beginSnapshot(meta model.SnapshotMeta, raws []map[string]any) (*sql.Tx, string, error) {
	payload, err := json.Marshal(raws)
	if err != nil {
		return nil, "", fmt.Errorf("encoding snapshot payload: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, "", fmt.Errorf("beginning snapshot transaction: %w", err)
	}

	collectedAt := formatTime(meta.CollectedAt)
	if _, err := tx.Exec(`
		INSERT INTO snapshots (id, city, uf, family, collected_at, item_count, duration_ms, schema_ver, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.City, meta.UF, string(meta.Family), collectedAt,
		meta.ItemCount, meta.Duration.Milliseconds(), meta.SchemaVer, string(payload),
	); err != nil {
		tx.Rollback()
		return nil, "", fmt.Errorf("inserting snapshot %s: %w", meta.ID, err)
	}
	return tx, collectedAt, nil
}

// --- Current state and history ---
//
// The current state of an entity is its row from the most recent snapshot
// that observed it; entities absent upstream simply stop receiving new
// rows and still surface with their last known state. Results are ordered
// by source id so batch consumers iterate deterministically.

const councilmemberCols = "city, uf, source_id, snapshot_id, collected_at, name, party, email, photo_url, mandate_start, mandate_end, raw_json"

func (s *Store) CurrentCouncilmembers(city string) ([]CouncilmemberRow, error) {
	rows, err := s.db.Query(`
		SELECT `+councilmemberCols+` FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY source_id ORDER BY collected_at DESC, snapshot_id DESC) AS rn
			FROM councilmembers WHERE city = ?
		) WHERE rn = 1
		ORDER BY source_id`, city)
	if err != nil {
		return nil, err
	}
	return scanCouncilmembers(rows)
}

func (s *Store) CouncilmemberHistory(city, sourceID string) ([]CouncilmemberRow, error) {
	rows, err := s.db.Query(`
		SELECT `+councilmemberCols+` FROM councilmembers
		WHERE city = ? AND source_id = ?
		ORDER BY collected_at ASC, snapshot_id ASC`, city, sourceID)
	if err != nil {
		return nil, err
	}
	return scanCouncilmembers(rows)
}

func scanCouncilmembers(rows *sql.Rows) ([]CouncilmemberRow, error) {
	defer rows.Close()

	var results []CouncilmemberRow
	for rows.Next() {
		var r CouncilmemberRow
		var collectedAt, rawJSON string
		if err := rows.Scan(&r.City, &r.UF, &r.SourceID, &r.SnapshotID, &collectedAt,
			&r.Name, &r.Party, &r.Email, &r.PhotoURL, &r.MandateStart, &r.MandateEnd, &rawJSON); err != nil {
			return nil, err
		}
		t, err := parseTime(collectedAt)
		if err != nil {
			return nil, err
		}
		r.CollectedAt = t
		if err := json.Unmarshal([]byte(rawJSON), &r.Raw); err != nil {
			return nil, fmt.Errorf("decoding councilmember %s raw row: %w", r.SourceID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const proposalCols = "city, uf, source_id, snapshot_id, collected_at, type, number, year, summary, authors_json, rapporteur, filed_at, district, status, raw_json"

func (s *Store) CurrentProposals(city string) ([]ProposalRow, error) {
	rows, err := s.db.Query(`
		SELECT `+proposalCols+` FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY source_id ORDER BY collected_at DESC, snapshot_id DESC) AS rn
			FROM proposals WHERE city = ?
		) WHERE rn = 1
		ORDER BY source_id`, city)
	if err != nil {
		return nil, err
	}
	return scanProposals(rows)
}

func (s *Store) ProposalHistory(city, sourceID string) ([]ProposalRow, error) {
	rows, err := s.db.Query(`
		SELECT `+proposalCols+` FROM proposals
		WHERE city = ? AND source_id = ?
		ORDER BY collected_at ASC, snapshot_id ASC`, city, sourceID)
	if err != nil {
		return nil, err
	}
	return scanProposals(rows)
}

func scanProposals(rows *sql.Rows) ([]ProposalRow, error) {
	defer rows.Close()

	var results []ProposalRow
	for rows.Next() {
		var r ProposalRow
		var collectedAt, typ, authorsJSON, rawJSON string
		if err := rows.Scan(&r.City, &r.UF, &r.SourceID, &r.SnapshotID, &collectedAt,
			&typ, &r.Number, &r.Year, &r.Summary, &authorsJSON,
			&r.RapporteurID, &r.FiledAt, &r.District, &r.Status, &rawJSON); err != nil {
			return nil, err
		}
		t, err := parseTime(collectedAt)
		if err != nil {
			return nil, err
		}
		r.CollectedAt = t
		r.Type = model.ProposalType(typ)
		if err := json.Unmarshal([]byte(authorsJSON), &r.AuthorIDs); err != nil {
			return nil, fmt.Errorf("decoding authors of proposal %s: %w", r.SourceID, err)
		}
		if err := json.Unmarshal([]byte(rawJSON), &r.Raw); err != nil {
			return nil, fmt.Errorf("decoding proposal %s raw row: %w", r.SourceID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const agendaCols = "city, uf, source_id, snapshot_id, collected_at, session_date, session_type, title, description, proposal_ids_json, outcome, raw_json"

func (s *Store) CurrentAgendaItems(city string) ([]AgendaItemRow, error) {
	rows, err := s.db.Query(`
		SELECT `+agendaCols+` FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY source_id ORDER BY collected_at DESC, snapshot_id DESC) AS rn
			FROM agenda_items WHERE city = ?
		) WHERE rn = 1
		ORDER BY session_date ASC, source_id ASC`, city)
	if err != nil {
		return nil, err
	}
	return scanAgendaItems(rows)
}

func scanAgendaItems(rows *sql.Rows) ([]AgendaItemRow, error) {
	defer rows.Close()

	var results []AgendaItemRow
	for rows.Next() {
		var r AgendaItemRow
		var collectedAt, outcome, proposalIDsJSON, rawJSON string
		if err := rows.Scan(&r.City, &r.UF, &r.SourceID, &r.SnapshotID, &collectedAt,
			&r.SessionDate, &r.SessionType, &r.Title, &r.Description,
			&proposalIDsJSON, &outcome, &rawJSON); err != nil {
			return nil, err
		}
		t, err := parseTime(collectedAt)
		if err != nil {
			return nil, err
		}
		r.CollectedAt = t
		r.Outcome = model.AgendaOutcome(outcome)
		if err := json.Unmarshal([]byte(proposalIDsJSON), &r.ProposalIDs); err != nil {
			return nil, fmt.Errorf("decoding proposal refs of agenda item %s: %w", r.SourceID, err)
		}
		if err := json.Unmarshal([]byte(rawJSON), &r.Raw); err != nil {
			return nil, fmt.Errorf("decoding agenda item %s raw row: %w", r.SourceID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const newsCols = "city, uf, source_id, snapshot_id, collected_at, title, published_at, url, raw_json"

func (s *Store) CurrentNews(city string, limit int) ([]NewsItemRow, error) {
	rows, err := s.db.Query(`
		SELECT `+newsCols+` FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY source_id ORDER BY collected_at DESC, snapshot_id DESC) AS rn
			FROM news_items WHERE city = ?
		) WHERE rn = 1
		ORDER BY published_at DESC, source_id ASC
		LIMIT ?`, city, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []NewsItemRow
	for rows.Next() {
		var r NewsItemRow
		var collectedAt, rawJSON string
		if err := rows.Scan(&r.City, &r.UF, &r.SourceID, &r.SnapshotID, &collectedAt,
			&r.Title, &r.PublishedAt, &r.URL, &rawJSON); err != nil {
			return nil, err
		}
		t, err := parseTime(collectedAt)
		if err != nil {
			return nil, err
		}
		r.CollectedAt = t
		if err := json.Unmarshal([]byte(rawJSON), &r.Raw); err != nil {
			return nil, fmt.Errorf("decoding news item %s raw row: %w", r.SourceID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Snapshots ---

// Snapshots lists capture headers for a city, most recent first. An empty
// family matches all families.
func (s *Store) Snapshots(city string, family model.Family, limit int) ([]model.SnapshotMeta, error) {
	query := `SELECT id, city, uf, family, collected_at, item_count, duration_ms, schema_ver
		FROM snapshots WHERE city = ?`
	args := []any{city}
	if family != "" {
		query += ` AND family = ?`
		args = append(args, string(family))
	}
	query += ` ORDER BY collected_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.SnapshotMeta
	for rows.Next() {
		var m model.SnapshotMeta
		var family, collectedAt string
		var durationMS int64
		if err := rows.Scan(&m.ID, &m.City, &m.UF, &family, &collectedAt, &m.ItemCount, &durationMS, &m.SchemaVer); err != nil {
			return nil, err
		}
		t, err := parseTime(collectedAt)
		if err != nil {
			return nil, err
		}
		m.CollectedAt = t
		m.Family = model.Family(family)
		m.Duration = durationFromMillis(durationMS)
		results = append(results, m)
	}
	return results, rows.Err()
}

// SnapshotPayload returns the raw upstream payload captured by a snapshot.
func (s *Store) SnapshotPayload(id string) ([]byte, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM snapshots WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// --- Districts ---

// SaveDistricts replaces the reference list of a city's subdivisions.
// Districts are reference data, not observations, and carry no history.
func (s *Store) SaveDistricts(city string, districts []model.District) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning districts transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range districts {
		if _, err := tx.Exec(`
			INSERT INTO districts (city, source_id, name) VALUES (?, ?, ?)
			ON CONFLICT(city, source_id) DO UPDATE SET name = excluded.name`,
			city, d.SourceID, d.Name,
		); err != nil {
			return fmt.Errorf("upserting district %s: %w", d.SourceID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Districts(city string) ([]model.District, error) {
	rows, err := s.db.Query("SELECT source_id, name FROM districts WHERE city = ? ORDER BY name", city)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.District
	for rows.Next() {
		var d model.District
		if err := rows.Scan(&d.SourceID, &d.Name); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}
