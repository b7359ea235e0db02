package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ppiankov/evidencegate/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements Store on PostgreSQL
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle. A nil handle yields ErrUnavailable on every call.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w: %w", ErrUnavailable, err)
	}
	return NewPostgres(db), nil
}

// Migrate creates tables, indexes and append-only triggers
func (p *Postgres) Migrate(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return wrap("migrate", err)
	}
	return nil
}

// Ping checks connectivity
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close closes the underlying pool
func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) ready() error {
	if p == nil || p.db == nil {
		return ErrUnavailable
	}
	return nil
}

// wrap classifies driver errors into the package sentinels
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "P0001" && strings.Contains(pqErr.Message, "append-only"):
			return fmt.Errorf("%s: %w", op, ErrImmutable)
		case pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "publication_id"):
			return fmt.Errorf("%s: %w", op, ErrImmutable)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08 is connection exception, 57P0x is operator intervention
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P0")
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return data, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullInt(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

// Evidence

func (p *Postgres) EvidenceForClaim(ctx context.Context, claimID int64) ([]model.EvidenceItem, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, claim_id, item_type, source_org, source_date, excerpt, page_ref, document_url, grade
		FROM evidence_items
		WHERE claim_id = $1
		ORDER BY id
	`
	rows, err := p.db.QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, wrap("query evidence", err)
	}
	defer rows.Close()

	var items []model.EvidenceItem
	for rows.Next() {
		var it model.EvidenceItem
		if err := rows.Scan(&it.ID, &it.ClaimID, &it.ItemType, &it.SourceOrg, &it.SourceDate,
			&it.Excerpt, &it.PageRef, &it.DocumentURL, &it.Grade); err != nil {
			return nil, wrap("scan evidence", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate evidence", err)
	}
	return items, nil
}

func (p *Postgres) AddEvidence(ctx context.Context, item *model.EvidenceItem) error {
	if err := p.ready(); err != nil {
		return err
	}

	query := `
		INSERT INTO evidence_items (claim_id, item_type, source_org, source_date, excerpt, page_ref, document_url, grade)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := p.db.QueryRowContext(ctx, query, item.ClaimID, item.ItemType, item.SourceOrg, item.SourceDate,
		item.Excerpt, item.PageRef, item.DocumentURL, string(item.Grade)).Scan(&item.ID)
	if err != nil {
		return wrap("insert evidence", err)
	}
	return nil
}

// Observations and contradictions

func (p *Postgres) AddObservation(ctx context.Context, obs *model.Observation) error {
	if err := p.ready(); err != nil {
		return err
	}

	query := `
		INSERT INTO observations (indicator_code, obs_date, regime_tag, source_id, value)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := p.db.QueryRowContext(ctx, query, obs.IndicatorCode, obs.Date, obs.RegimeTag, obs.SourceID, obs.Value).Scan(&obs.ID)
	if err != nil {
		return wrap("insert observation", err)
	}
	return nil
}

func (p *Postgres) Observations(ctx context.Context, indicatorCode string) ([]model.Observation, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, indicator_code, obs_date, regime_tag, source_id, value
		FROM observations
		WHERE indicator_code = $1
		ORDER BY obs_date, id
	`
	rows, err := p.db.QueryContext(ctx, query, indicatorCode)
	if err != nil {
		return nil, wrap("query observations", err)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		if err := rows.Scan(&o.ID, &o.IndicatorCode, &o.Date, &o.RegimeTag, &o.SourceID, &o.Value); err != nil {
			return nil, wrap("scan observation", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate observations", err)
	}
	return out, nil
}

const contradictionColumns = `id, indicator_code, obs_date, regime_tag, value1, source1_id, observation1_id,
	value2, source2_id, observation2_id, discrepancy_percent, discrepancy_type, plausible_reasons,
	description, status, resolution_notes, resolved_value, resolved_source, resolved_by, resolved_at,
	detected_at, updated_at`

func scanContradiction(s rowScanner) (*model.ContradictionRecord, error) {
	var rec model.ContradictionRecord
	var reasons pq.StringArray
	var resolvedValue sql.NullFloat64
	var resolvedAt sql.NullTime

	err := s.Scan(&rec.ID, &rec.IndicatorCode, &rec.Date, &rec.RegimeTag, &rec.Value1, &rec.Source1ID,
		&rec.Observation1ID, &rec.Value2, &rec.Source2ID, &rec.Observation2ID, &rec.DiscrepancyPercent,
		&rec.DiscrepancyType, &reasons, &rec.Description, &rec.Status, &rec.ResolutionNotes,
		&resolvedValue, &rec.ResolvedSource, &rec.ResolvedBy, &resolvedAt, &rec.DetectedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.PlausibleReasons = []string(reasons)
	rec.ResolvedValue = nullFloat(resolvedValue)
	rec.ResolvedAt = nullTime(resolvedAt)
	return &rec, nil
}

func (p *Postgres) InsertContradiction(ctx context.Context, rec *model.ContradictionRecord) error {
	if err := p.ready(); err != nil {
		return err
	}

	query := `
		INSERT INTO contradictions (indicator_code, obs_date, regime_tag, value1, source1_id, observation1_id,
			value2, source2_id, observation2_id, discrepancy_percent, discrepancy_type, plausible_reasons,
			description, status, detected_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	err := p.db.QueryRowContext(ctx, query, rec.IndicatorCode, rec.Date, rec.RegimeTag, rec.Value1, rec.Source1ID,
		rec.Observation1ID, rec.Value2, rec.Source2ID, rec.Observation2ID, rec.DiscrepancyPercent,
		string(rec.DiscrepancyType), pq.Array(rec.PlausibleReasons), rec.Description, string(rec.Status),
		rec.DetectedAt, rec.UpdatedAt).Scan(&rec.ID)
	if err != nil {
		return wrap("insert contradiction", err)
	}
	return nil
}

func (p *Postgres) Contradiction(ctx context.Context, id int64) (*model.ContradictionRecord, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ` + contradictionColumns + ` FROM contradictions WHERE id = $1`
	rec, err := scanContradiction(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrap("get contradiction", err)
	}
	return rec, nil
}

func (p *Postgres) Contradictions(ctx context.Context, filter ContradictionFilter) ([]model.ContradictionRecord, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ` + contradictionColumns + ` FROM contradictions WHERE 1=1`
	var args []any
	if filter.IndicatorCode != "" {
		args = append(args, filter.IndicatorCode)
		query += fmt.Sprintf(" AND indicator_code = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND detected_at >= $%d", len(args))
	}
	query += " ORDER BY detected_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query contradictions", err)
	}
	defer rows.Close()

	var out []model.ContradictionRecord
	for rows.Next() {
		rec, err := scanContradiction(rows)
		if err != nil {
			return nil, wrap("scan contradiction", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate contradictions", err)
	}
	return out, nil
}

func (p *Postgres) TransitionContradiction(ctx context.Context, id int64, from []model.ContradictionStatus, tr model.ContradictionTransition) (*model.ContradictionRecord, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	// The status guard in the WHERE clause makes the check-and-set a single statement
	query := `
		UPDATE contradictions SET
			status = $2,
			resolution_notes = COALESCE(NULLIF($3, ''), resolution_notes),
			resolved_value = COALESCE($4, resolved_value),
			resolved_source = COALESCE(NULLIF($5, ''), resolved_source),
			resolved_by = COALESCE(NULLIF($6, ''), resolved_by),
			resolved_at = CASE WHEN $2 = 'resolved' THEN $7 ELSE resolved_at END,
			updated_at = $7
		WHERE id = $1 AND status = ANY($8)
		RETURNING ` + contradictionColumns

	rec, err := scanContradiction(p.db.QueryRowContext(ctx, query, id, string(tr.To), tr.Notes, tr.ResolvedValue,
		tr.ResolvedSource, tr.ResolvedBy, tr.At, pq.Array(statusStrings(from))))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("transition contradiction", err)
	}

	// Nothing updated: either the record is missing or its status failed the guard
	if _, getErr := p.Contradiction(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrConflict
}

func statusStrings(statuses []model.ContradictionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Ratings and vintages

const ratingColumns = `id, data_point_type, data_point_id, grade, source_credibility, data_completeness,
	timeliness, consistency, methodology, overall_score, previous_rating_id, previous_grade,
	change_reason, display_warning, rated_by, rated_at`

func scanRating(s rowScanner) (*model.ConfidenceRating, error) {
	var r model.ConfidenceRating
	var prevID sql.NullInt64
	err := s.Scan(&r.ID, &r.DataPointType, &r.DataPointID, &r.Grade, &r.Criteria.SourceCredibility,
		&r.Criteria.DataCompleteness, &r.Criteria.Timeliness, &r.Criteria.Consistency, &r.Criteria.Methodology,
		&r.OverallScore, &prevID, &r.PreviousGrade, &r.ChangeReason, &r.DisplayWarning, &r.RatedBy, &r.RatedAt)
	if err != nil {
		return nil, err
	}
	r.PreviousRatingID = nullInt(prevID)
	return &r, nil
}

func (p *Postgres) InsertRating(ctx context.Context, r *model.ConfidenceRating) error {
	if err := p.ready(); err != nil {
		return err
	}
	if r.ID != 0 {
		return ErrImmutable
	}

	query := `
		INSERT INTO confidence_ratings (data_point_type, data_point_id, grade, source_credibility, data_completeness,
			timeliness, consistency, methodology, overall_score, previous_rating_id, previous_grade,
			change_reason, display_warning, rated_by, rated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	c := r.Criteria
	err := p.db.QueryRowContext(ctx, query, r.DataPointType, r.DataPointID, string(r.Grade), c.SourceCredibility,
		c.DataCompleteness, c.Timeliness, c.Consistency, c.Methodology, r.OverallScore, r.PreviousRatingID,
		string(r.PreviousGrade), r.ChangeReason, r.DisplayWarning, r.RatedBy, r.RatedAt).Scan(&r.ID)
	if err != nil {
		return wrap("insert rating", err)
	}
	return nil
}

func (p *Postgres) LatestRating(ctx context.Context, dataPointType string, dataPointID int64) (*model.ConfidenceRating, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ` + ratingColumns + ` FROM confidence_ratings
		WHERE data_point_type = $1 AND data_point_id = $2
		ORDER BY rated_at DESC, id DESC
		LIMIT 1`
	r, err := scanRating(p.db.QueryRowContext(ctx, query, dataPointType, dataPointID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrap("get latest rating", err)
	}
	return r, nil
}

func (p *Postgres) RatingHistory(ctx context.Context, dataPointType string, dataPointID int64) ([]model.ConfidenceRating, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ` + ratingColumns + ` FROM confidence_ratings
		WHERE data_point_type = $1 AND data_point_id = $2
		ORDER BY rated_at, id`
	rows, err := p.db.QueryContext(ctx, query, dataPointType, dataPointID)
	if err != nil {
		return nil, wrap("query rating history", err)
	}
	defer rows.Close()

	var out []model.ConfidenceRating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, wrap("scan rating", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate ratings", err)
	}
	return out, nil
}

func (p *Postgres) AppendVintage(ctx context.Context, v *model.DataVintage) error {
	if err := p.ready(); err != nil {
		return err
	}
	if v.ID != 0 {
		return ErrImmutable
	}

	// Insert only when no existing vintage is at or after the new date
	query := `
		INSERT INTO data_vintages (data_point_type, data_point_id, vintage_date, value, previous_value, change_type,
			change_magnitude, change_percent, change_reason, source_id, grade, created_at)
		SELECT $1::text, $2::bigint, $3::timestamptz, $4::double precision, $5::double precision, $6::text,
			$7::double precision, $8::double precision, $9::text, $10::bigint, $11::text, $12::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM data_vintages
			WHERE data_point_type = $1 AND data_point_id = $2 AND vintage_date >= $3
		)
		RETURNING id
	`
	err := p.db.QueryRowContext(ctx, query, v.DataPointType, v.DataPointID, v.VintageDate, v.Value, v.PreviousValue,
		string(v.ChangeType), v.ChangeMagnitude, v.ChangePercent, v.ChangeReason, v.SourceID, string(v.Grade),
		v.CreatedAt).Scan(&v.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOutOfOrder
		}
		return wrap("append vintage", err)
	}
	return nil
}

func (p *Postgres) Vintages(ctx context.Context, dataPointType string, dataPointID int64) ([]model.DataVintage, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, data_point_type, data_point_id, vintage_date, value, previous_value, change_type,
			change_magnitude, change_percent, change_reason, source_id, grade, created_at
		FROM data_vintages
		WHERE data_point_type = $1 AND data_point_id = $2
		ORDER BY vintage_date
	`
	rows, err := p.db.QueryContext(ctx, query, dataPointType, dataPointID)
	if err != nil {
		return nil, wrap("query vintages", err)
	}
	defer rows.Close()

	var out []model.DataVintage
	for rows.Next() {
		var v model.DataVintage
		var prev sql.NullFloat64
		if err := rows.Scan(&v.ID, &v.DataPointType, &v.DataPointID, &v.VintageDate, &v.Value, &prev,
			&v.ChangeType, &v.ChangeMagnitude, &v.ChangePercent, &v.ChangeReason, &v.SourceID, &v.Grade,
			&v.CreatedAt); err != nil {
			return nil, wrap("scan vintage", err)
		}
		v.PreviousValue = nullFloat(prev)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate vintages", err)
	}
	return out, nil
}

// Tribunal

const tribunalColumns = `id, claim_id, verdict, publishable_text, warnings, limitations, what_would_change,
	citation_coverage, contradiction_score, evidence_strength, uncertainty, reasoning, degraded_stages,
	role_outputs, duration_ms, created_at`

func scanTribunal(s rowScanner) (*model.TribunalResult, error) {
	var r model.TribunalResult
	var warnings, limitations, degraded, outputs []byte
	err := s.Scan(&r.ID, &r.ClaimID, &r.Verdict, &r.PublishableText, &warnings, &limitations, &r.WhatWouldChange,
		&r.Scores.CitationCoverage, &r.Scores.ContradictionScore, &r.Scores.EvidenceStrength, &r.Scores.Uncertainty,
		&r.Reasoning, &degraded, &outputs, &r.DurationMillis, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, col := range []struct {
		data []byte
		dest any
	}{
		{warnings, &r.Warnings},
		{limitations, &r.Limitations},
		{degraded, &r.DegradedStages},
		{outputs, &r.RoleOutputs},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dest); err != nil {
			return nil, fmt.Errorf("decode tribunal json column: %w", err)
		}
	}
	return &r, nil
}

func (p *Postgres) InsertTribunalRun(ctx context.Context, r *model.TribunalResult) error {
	if err := p.ready(); err != nil {
		return err
	}
	if r.ID != 0 {
		return ErrImmutable
	}

	warnings, err := marshalJSON(nonNil(r.Warnings))
	if err != nil {
		return err
	}
	limitations, err := marshalJSON(nonNil(r.Limitations))
	if err != nil {
		return err
	}
	degraded, err := marshalJSON(r.DegradedStages)
	if err != nil {
		return err
	}
	outputs, err := marshalJSON(r.RoleOutputs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tribunal_runs (claim_id, verdict, publishable_text, warnings, limitations, what_would_change,
			citation_coverage, contradiction_score, evidence_strength, uncertainty, reasoning, degraded_stages,
			role_outputs, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	err = p.db.QueryRowContext(ctx, query, r.ClaimID, string(r.Verdict), r.PublishableText, warnings, limitations,
		r.WhatWouldChange, r.Scores.CitationCoverage, r.Scores.ContradictionScore, r.Scores.EvidenceStrength,
		r.Scores.Uncertainty, r.Reasoning, degraded, outputs, r.DurationMillis, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return wrap("insert tribunal run", err)
	}
	return nil
}

func (p *Postgres) LatestTribunalRun(ctx context.Context, claimID int64, since time.Time) (*model.TribunalResult, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ` + tribunalColumns + ` FROM tribunal_runs
		WHERE claim_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	r, err := scanTribunal(p.db.QueryRowContext(ctx, query, claimID, since))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrap("get latest tribunal run", err)
	}
	return r, nil
}

func (p *Postgres) TribunalStats(ctx context.Context, recent int) (*model.TribunalStats, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	stats := &model.TribunalStats{RecentRuns: []model.TribunalResult{}}
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE verdict = 'PASS'),
			COUNT(*) FILTER (WHERE verdict = 'PASS_WARN'),
			COUNT(*) FILTER (WHERE verdict = 'FAIL'),
			COALESCE(AVG(citation_coverage), 0),
			COALESCE(AVG(contradiction_score), 0)
		FROM tribunal_runs
	`
	err := p.db.QueryRowContext(ctx, query).Scan(&stats.TotalRuns, &stats.PassCount, &stats.PassWarnCount,
		&stats.FailCount, &stats.AvgCoverage, &stats.AvgContradiction)
	if err != nil {
		return nil, wrap("tribunal stats", err)
	}
	stats.PassRate = passRate(stats.PassCount, stats.PassWarnCount, stats.TotalRuns)

	err = p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_gap_tickets WHERE status = 'open'`).Scan(&stats.OpenTickets)
	if err != nil {
		return nil, wrap("count open tickets", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT `+tribunalColumns+` FROM tribunal_runs ORDER BY created_at DESC, id DESC LIMIT $1`, recent)
	if err != nil {
		return nil, wrap("query recent tribunal runs", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanTribunal(rows)
		if err != nil {
			return nil, wrap("scan tribunal run", err)
		}
		stats.RecentRuns = append(stats.RecentRuns, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate tribunal runs", err)
	}
	return stats, nil
}

func (p *Postgres) InsertTickets(ctx context.Context, tickets []model.DataGapTicket) (err error) {
	if err := p.ready(); err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin tickets tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO data_gap_tickets (claim_id, missing_field, suggested_sources, priority, page_context, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`)
	if err != nil {
		return wrap("prepare ticket insert", err)
	}
	defer stmt.Close()

	for i := range tickets {
		t := &tickets[i]
		if err = stmt.QueryRowContext(ctx, t.ClaimID, t.MissingField, pq.Array(t.SuggestedSources), string(t.Priority),
			t.PageContext, t.Status, t.CreatedAt).Scan(&t.ID); err != nil {
			return wrap("insert ticket", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return wrap("commit tickets", err)
	}
	return nil
}

func (p *Postgres) OpenTickets(ctx context.Context, limit int) ([]model.DataGapTicket, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, claim_id, missing_field, suggested_sources, priority, page_context, status, created_at
		FROM data_gap_tickets
		WHERE status = 'open'
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, wrap("query tickets", err)
	}
	defer rows.Close()

	var out []model.DataGapTicket
	for rows.Next() {
		var t model.DataGapTicket
		var sources pq.StringArray
		if err := rows.Scan(&t.ID, &t.ClaimID, &t.MissingField, &sources, &t.Priority, &t.PageContext,
			&t.Status, &t.CreatedAt); err != nil {
			return nil, wrap("scan ticket", err)
		}
		t.SuggestedSources = []string(sources)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate tickets", err)
	}
	return out, nil
}

// Reliability

func (p *Postgres) UpsertReliabilityTests(ctx context.Context, tests []model.ReliabilityTest) (added int, err error) {
	if err := p.ready(); err != nil {
		return 0, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("begin tests tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reliability_tests (category, test_name, question, expected_pattern, expected_sources, difficulty, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (test_name) DO NOTHING
	`)
	if err != nil {
		return 0, wrap("prepare test insert", err)
	}
	defer stmt.Close()

	for _, t := range tests {
		res, execErr := stmt.ExecContext(ctx, t.Category, t.TestName, t.Question, t.ExpectedPattern,
			pq.Array(t.ExpectedSources), string(t.Difficulty))
		if execErr != nil {
			err = wrap("insert reliability test", execErr)
			return 0, err
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}

	if err = tx.Commit(); err != nil {
		return 0, wrap("commit tests", err)
	}
	return added, nil
}

func (p *Postgres) ActiveReliabilityTests(ctx context.Context) ([]model.ReliabilityTest, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, category, test_name, question, expected_pattern, expected_sources, difficulty, active
		FROM reliability_tests
		WHERE active
		ORDER BY id
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap("query reliability tests", err)
	}
	defer rows.Close()

	var out []model.ReliabilityTest
	for rows.Next() {
		var t model.ReliabilityTest
		var sources pq.StringArray
		if err := rows.Scan(&t.ID, &t.Category, &t.TestName, &t.Question, &t.ExpectedPattern, &sources,
			&t.Difficulty, &t.Active); err != nil {
			return nil, wrap("scan reliability test", err)
		}
		t.ExpectedSources = []string(sources)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate reliability tests", err)
	}
	return out, nil
}

func (p *Postgres) InsertReliabilityRun(ctx context.Context, run *model.ReliabilityRun) error {
	if err := p.ready(); err != nil {
		return err
	}
	if run.ID != 0 {
		return ErrImmutable
	}

	results, err := marshalJSON(nonNil(run.Results))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reliability_runs (run_type, total_tests, passed_tests, failed_tests, citation_coverage_avg,
			contradiction_resolution, hallucination_count, avg_latency_ms, reliability_score, pass_threshold,
			deployment_blocked, results, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	err = p.db.QueryRowContext(ctx, query, string(run.RunType), run.TotalTests, run.PassedTests, run.FailedTests,
		run.CitationCoverageAvg, run.ContradictionResolution, run.HallucinationCount, run.AvgLatencyMillis,
		run.ReliabilityScore, run.PassThreshold, run.DeploymentBlocked, results, run.StartedAt, run.CompletedAt).Scan(&run.ID)
	if err != nil {
		return wrap("insert reliability run", err)
	}
	return nil
}

func (p *Postgres) LatestReliabilityRun(ctx context.Context) (*model.ReliabilityRun, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, run_type, total_tests, passed_tests, failed_tests, citation_coverage_avg,
			contradiction_resolution, hallucination_count, avg_latency_ms, reliability_score, pass_threshold,
			deployment_blocked, results, started_at, completed_at
		FROM reliability_runs
		ORDER BY completed_at DESC, id DESC
		LIMIT 1
	`
	var run model.ReliabilityRun
	var results []byte
	err := p.db.QueryRowContext(ctx, query).Scan(&run.ID, &run.RunType, &run.TotalTests, &run.PassedTests,
		&run.FailedTests, &run.CitationCoverageAvg, &run.ContradictionResolution, &run.HallucinationCount,
		&run.AvgLatencyMillis, &run.ReliabilityScore, &run.PassThreshold, &run.DeploymentBlocked, &results, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrap("get latest reliability run", err)
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return nil, fmt.Errorf("decode reliability results: %w", err)
		}
	}
	return &run, nil
}

// Publication log

const publicationColumns = `id, publication_id, content_type, content_id, tribunal_run_id, verdict,
	citation_coverage, contradiction_score, evidence_strength, uncertainty, allowed, force_published,
	blocked_reason, justification, warnings, publishable_text, requested_by, forced_by, reliability_score, created_at`

func scanPublication(s rowScanner) (*model.PublicationLogEntry, error) {
	var e model.PublicationLogEntry
	var runID sql.NullInt64
	var reliability sql.NullFloat64
	var warnings []byte
	err := s.Scan(&e.ID, &e.PublicationID, &e.ContentType, &e.ContentID, &runID, &e.Verdict,
		&e.Scores.CitationCoverage, &e.Scores.ContradictionScore, &e.Scores.EvidenceStrength, &e.Scores.Uncertainty,
		&e.Allowed, &e.ForcePublished, &e.BlockedReason, &e.Justification, &warnings, &e.PublishableText,
		&e.RequestedBy, &e.ForcedBy, &reliability, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.TribunalRunID = nullInt(runID)
	e.ReliabilityScore = nullFloat(reliability)
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &e.Warnings); err != nil {
			return nil, fmt.Errorf("decode publication warnings: %w", err)
		}
	}
	return &e, nil
}

func (p *Postgres) AppendPublication(ctx context.Context, e *model.PublicationLogEntry) error {
	if err := p.ready(); err != nil {
		return err
	}
	if e.ID != 0 {
		return ErrImmutable
	}

	warnings, err := marshalJSON(nonNil(e.Warnings))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO publication_log (publication_id, content_type, content_id, tribunal_run_id, verdict,
			citation_coverage, contradiction_score, evidence_strength, uncertainty, allowed, force_published,
			blocked_reason, justification, warnings, publishable_text, requested_by, forced_by, reliability_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id
	`
	err = p.db.QueryRowContext(ctx, query, e.PublicationID, e.ContentType, e.ContentID, e.TribunalRunID,
		string(e.Verdict), e.Scores.CitationCoverage, e.Scores.ContradictionScore, e.Scores.EvidenceStrength,
		e.Scores.Uncertainty, e.Allowed, e.ForcePublished, e.BlockedReason, e.Justification, warnings,
		e.PublishableText, e.RequestedBy, e.ForcedBy, e.ReliabilityScore, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return wrap("append publication", err)
	}
	return nil
}

func (p *Postgres) PublicationHistory(ctx context.Context, contentType string, contentID int64) ([]model.PublicationLogEntry, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ` + publicationColumns + ` FROM publication_log
		WHERE content_type = $1 AND content_id = $2
		ORDER BY created_at, id`
	rows, err := p.db.QueryContext(ctx, query, contentType, contentID)
	if err != nil {
		return nil, wrap("query publication history", err)
	}
	defer rows.Close()

	var out []model.PublicationLogEntry
	for rows.Next() {
		e, err := scanPublication(rows)
		if err != nil {
			return nil, wrap("scan publication", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate publications", err)
	}
	return out, nil
}

func (p *Postgres) PublicationStats(ctx context.Context, recent int) (*model.PublicationStats, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	stats := &model.PublicationStats{RecentPublications: []model.PublicationLogEntry{}}
	var publishable int
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE allowed),
			COUNT(*) FILTER (WHERE NOT allowed),
			COUNT(*) FILTER (WHERE force_published),
			COUNT(*) FILTER (WHERE verdict IN ('PASS', 'PASS_WARN')),
			COALESCE(AVG(citation_coverage), 0)
		FROM publication_log
	`
	err := p.db.QueryRowContext(ctx, query).Scan(&stats.TotalRequests, &stats.TotalPublications, &stats.BlockedCount,
		&stats.ForcePublishCount, &publishable, &stats.AvgCitationCoverage)
	if err != nil {
		return nil, wrap("publication stats", err)
	}
	stats.PassRate = percent(publishable, stats.TotalRequests)

	rows, err := p.db.QueryContext(ctx, `SELECT `+publicationColumns+` FROM publication_log
		WHERE allowed ORDER BY created_at DESC, id DESC LIMIT $1`, recent)
	if err != nil {
		return nil, wrap("query recent publications", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanPublication(rows)
		if err != nil {
			return nil, wrap("scan publication", err)
		}
		stats.RecentPublications = append(stats.RecentPublications, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate publications", err)
	}
	return stats, nil
}

// Updates

const updateColumns = `id, title_en, title_ar, summary_en, summary_ar, source_id, source_url, evidence_pack_id,
	bundle, sensitivity_level, sectors, entities, confidence_grade, dqaf, status, visibility, reviewed_by,
	reviewed_at, created_at`

func (p *Postgres) UpdateItem(ctx context.Context, id int64) (*model.UpdateItem, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	var item model.UpdateItem
	var sourceID, packID sql.NullInt64
	var bundle, dqaf []byte
	var sectors, entities pq.StringArray
	var reviewedAt sql.NullTime

	query := `SELECT ` + updateColumns + ` FROM update_items WHERE id = $1`
	err := p.db.QueryRowContext(ctx, query, id).Scan(&item.ID, &item.TitleEn, &item.TitleAr, &item.SummaryEn,
		&item.SummaryAr, &sourceID, &item.SourceURL, &packID, &bundle, &item.Sensitivity, &sectors, &entities,
		&item.ConfidenceGrade, &dqaf, &item.Status, &item.Visibility, &item.ReviewedBy, &reviewedAt, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrap("get update item", err)
	}

	item.SourceID = nullInt(sourceID)
	item.EvidencePackID = nullInt(packID)
	item.Sectors = []string(sectors)
	item.Entities = []string(entities)
	item.ReviewedAt = nullTime(reviewedAt)
	if len(bundle) > 0 && string(bundle) != "null" {
		item.Bundle = &model.EvidenceBundle{}
		if err := json.Unmarshal(bundle, item.Bundle); err != nil {
			return nil, fmt.Errorf("decode evidence bundle: %w", err)
		}
	}
	if len(dqaf) > 0 {
		if err := json.Unmarshal(dqaf, &item.DQAF); err != nil {
			return nil, fmt.Errorf("decode dqaf: %w", err)
		}
	}
	return &item, nil
}

func (p *Postgres) SaveUpdateItem(ctx context.Context, item *model.UpdateItem) error {
	if err := p.ready(); err != nil {
		return err
	}

	var bundle, dqaf []byte
	var err error
	if item.Bundle != nil {
		if bundle, err = marshalJSON(item.Bundle); err != nil {
			return err
		}
	}
	if item.DQAF != nil {
		if dqaf, err = marshalJSON(item.DQAF); err != nil {
			return err
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	args := []any{item.TitleEn, item.TitleAr, item.SummaryEn, item.SummaryAr, item.SourceID, item.SourceURL,
		item.EvidencePackID, bundle, string(item.Sensitivity), pq.Array(item.Sectors), pq.Array(item.Entities),
		string(item.ConfidenceGrade), dqaf, string(item.Status), string(item.Visibility), item.CreatedAt}

	if item.ID == 0 {
		query := `
			INSERT INTO update_items (title_en, title_ar, summary_en, summary_ar, source_id, source_url,
				evidence_pack_id, bundle, sensitivity_level, sectors, entities, confidence_grade, dqaf, status,
				visibility, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id
		`
		if err := p.db.QueryRowContext(ctx, query, args...).Scan(&item.ID); err != nil {
			return wrap("insert update item", err)
		}
		return nil
	}

	query := `
		UPDATE update_items SET title_en = $1, title_ar = $2, summary_en = $3, summary_ar = $4, source_id = $5,
			source_url = $6, evidence_pack_id = $7, bundle = $8, sensitivity_level = $9, sectors = $10,
			entities = $11, confidence_grade = $12, dqaf = $13, status = $14, visibility = $15, created_at = $16
		WHERE id = $17
	`
	res, err := p.db.ExecContext(ctx, query, append(args, item.ID)...)
	if err != nil {
		return wrap("update update item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Source(ctx context.Context, id int64) (*model.Source, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	var src model.Source
	err := p.db.QueryRowContext(ctx, `SELECT id, name, url, category FROM sources WHERE id = $1`, id).
		Scan(&src.ID, &src.Name, &src.URL, &src.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrap("get source", err)
	}
	return &src, nil
}

func (p *Postgres) SaveSource(ctx context.Context, src *model.Source) error {
	if err := p.ready(); err != nil {
		return err
	}

	query := `INSERT INTO sources (name, url, category) VALUES ($1, $2, $3) RETURNING id`
	if err := p.db.QueryRowContext(ctx, query, src.Name, src.URL, src.Category).Scan(&src.ID); err != nil {
		return wrap("insert source", err)
	}
	return nil
}

func (p *Postgres) ApplyUpdateDecision(ctx context.Context, id int64, d UpdateDecision) error {
	if err := p.ready(); err != nil {
		return err
	}

	query := `
		UPDATE update_items
		SET status = $2, visibility = $3, reviewed_by = $4, reviewed_at = $5
		WHERE id = $1
	`
	res, err := p.db.ExecContext(ctx, query, id, string(d.Status), string(d.Visibility), d.ReviewedBy, d.ReviewedAt)
	if err != nil {
		return wrap("apply update decision", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertNotification(ctx context.Context, n *model.Notification) error {
	if err := p.ready(); err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (update_id, kind, message, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := p.db.QueryRowContext(ctx, query, n.UpdateID, n.Kind, n.Message, n.CreatedAt).Scan(&n.ID); err != nil {
		return wrap("insert notification", err)
	}
	return nil
}

func (p *Postgres) UpdateStats(ctx context.Context) (*model.UpdateStats, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `SELECT status, visibility, confidence_grade, COUNT(*) FROM update_items GROUP BY status, visibility, confidence_grade`)
	if err != nil {
		return nil, wrap("update stats", err)
	}
	defer rows.Close()

	stats := &model.UpdateStats{
		ByStatus:     make(map[model.UpdateStatus]int),
		ByVisibility: make(map[model.Visibility]int),
		ByGrade:      make(map[model.Grade]int),
	}
	for rows.Next() {
		var status model.UpdateStatus
		var visibility model.Visibility
		var grade model.Grade
		var n int
		if err := rows.Scan(&status, &visibility, &grade, &n); err != nil {
			return nil, wrap("scan update stats", err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		if visibility != "" {
			stats.ByVisibility[visibility] += n
		}
		stats.ByGrade[grade] += n
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate update stats", err)
	}
	return stats, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
