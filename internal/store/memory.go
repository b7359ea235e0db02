package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/evidencegate/internal/model"
)

// Memory is an in-process Store used for local runs and tests
type Memory struct {
	mu        sync.RWMutex
	available bool
	nextID    int64

	evidence       []model.EvidenceItem
	observations   []model.Observation
	contradictions map[int64]*model.ContradictionRecord
	ratings        []model.ConfidenceRating
	vintages       []model.DataVintage
	tribunalRuns   []model.TribunalResult
	tickets        []model.DataGapTicket
	tests          []model.ReliabilityTest
	runs           []model.ReliabilityRun
	publications   []model.PublicationLogEntry
	updates        map[int64]*model.UpdateItem
	sources        map[int64]*model.Source
	notifications  []model.Notification
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		available:      true,
		contradictions: make(map[int64]*model.ContradictionRecord),
		updates:        make(map[int64]*model.UpdateItem),
		sources:        make(map[int64]*model.Source),
	}
}

// SetAvailable toggles simulated connectivity; when false every call returns ErrUnavailable
func (m *Memory) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// Notifications returns the notifications written so far
func (m *Memory) Notifications() []model.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.notifications)
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// Ping reports simulated availability
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.available {
		return ErrUnavailable
	}
	return nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}

// lock takes the write lock and checks availability; callers must Unlock on success
func (m *Memory) lock() error {
	m.mu.Lock()
	if !m.available {
		m.mu.Unlock()
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) rlock() error {
	m.mu.RLock()
	if !m.available {
		m.mu.RUnlock()
		return ErrUnavailable
	}
	return nil
}

// Evidence

func (m *Memory) EvidenceForClaim(ctx context.Context, claimID int64) ([]model.EvidenceItem, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	var items []model.EvidenceItem
	for _, item := range m.evidence {
		if item.ClaimID == claimID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (m *Memory) AddEvidence(ctx context.Context, item *model.EvidenceItem) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	item.ID = m.id()
	m.evidence = append(m.evidence, *item)
	return nil
}

// Contradictions

func (m *Memory) AddObservation(ctx context.Context, obs *model.Observation) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	obs.ID = m.id()
	m.observations = append(m.observations, *obs)
	return nil
}

func (m *Memory) Observations(ctx context.Context, indicatorCode string) ([]model.Observation, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	var out []model.Observation
	for _, obs := range m.observations {
		if obs.IndicatorCode == indicatorCode {
			out = append(out, obs)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) InsertContradiction(ctx context.Context, rec *model.ContradictionRecord) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	rec.ID = m.id()
	stored := cloneContradiction(*rec)
	m.contradictions[rec.ID] = &stored
	return nil
}

func (m *Memory) Contradiction(ctx context.Context, id int64) (*model.ContradictionRecord, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	rec, ok := m.contradictions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneContradiction(*rec)
	return &out, nil
}

func (m *Memory) Contradictions(ctx context.Context, filter ContradictionFilter) ([]model.ContradictionRecord, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	var out []model.ContradictionRecord
	for _, rec := range m.contradictions {
		if filter.IndicatorCode != "" && rec.IndicatorCode != filter.IndicatorCode {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, rec.Status) {
			continue
		}
		if !filter.Since.IsZero() && rec.DetectedAt.Before(filter.Since) {
			continue
		}
		out = append(out, cloneContradiction(*rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) TransitionContradiction(ctx context.Context, id int64, from []model.ContradictionStatus, tr model.ContradictionTransition) (*model.ContradictionRecord, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	rec, ok := m.contradictions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(from, rec.Status) {
		return nil, ErrConflict
	}

	rec.Status = tr.To
	if tr.Notes != "" {
		rec.ResolutionNotes = tr.Notes
	}
	if tr.ResolvedValue != nil {
		v := *tr.ResolvedValue
		rec.ResolvedValue = &v
	}
	if tr.ResolvedSource != "" {
		rec.ResolvedSource = tr.ResolvedSource
	}
	if tr.ResolvedBy != "" {
		rec.ResolvedBy = tr.ResolvedBy
	}
	if tr.To == model.StatusResolved {
		at := tr.At
		rec.ResolvedAt = &at
	}
	rec.UpdatedAt = tr.At

	out := cloneContradiction(*rec)
	return &out, nil
}

func cloneContradiction(rec model.ContradictionRecord) model.ContradictionRecord {
	rec.PlausibleReasons = slices.Clone(rec.PlausibleReasons)
	if rec.ResolvedValue != nil {
		v := *rec.ResolvedValue
		rec.ResolvedValue = &v
	}
	if rec.ResolvedAt != nil {
		at := *rec.ResolvedAt
		rec.ResolvedAt = &at
	}
	return rec
}

// Ratings and vintages

func (m *Memory) InsertRating(ctx context.Context, r *model.ConfidenceRating) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if r.ID != 0 {
		return ErrImmutable
	}
	r.ID = m.id()
	m.ratings = append(m.ratings, *r)
	return nil
}

func (m *Memory) LatestRating(ctx context.Context, dataPointType string, dataPointID int64) (*model.ConfidenceRating, error) {
	history, err := m.RatingHistory(ctx, dataPointType, dataPointID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	latest := history[len(history)-1]
	return &latest, nil
}

func (m *Memory) RatingHistory(ctx context.Context, dataPointType string, dataPointID int64) ([]model.ConfidenceRating, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	var out []model.ConfidenceRating
	for _, r := range m.ratings {
		if r.DataPointType == dataPointType && r.DataPointID == dataPointID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) AppendVintage(ctx context.Context, v *model.DataVintage) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if v.ID != 0 {
		return ErrImmutable
	}
	for _, existing := range m.vintages {
		if existing.DataPointType == v.DataPointType && existing.DataPointID == v.DataPointID &&
			!v.VintageDate.After(existing.VintageDate) {
			return ErrOutOfOrder
		}
	}
	v.ID = m.id()
	m.vintages = append(m.vintages, *v)
	return nil
}

func (m *Memory) Vintages(ctx context.Context, dataPointType string, dataPointID int64) ([]model.DataVintage, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	var out []model.DataVintage
	for _, v := range m.vintages {
		if v.DataPointType == dataPointType && v.DataPointID == dataPointID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].VintageDate.Before(out[j].VintageDate) })
	return out, nil
}

// Tribunal

func (m *Memory) InsertTribunalRun(ctx context.Context, r *model.TribunalResult) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if r.ID != 0 {
		return ErrImmutable
	}
	r.ID = m.id()
	m.tribunalRuns = append(m.tribunalRuns, cloneTribunal(*r))
	return nil
}

func (m *Memory) LatestTribunalRun(ctx context.Context, claimID int64, since time.Time) (*model.TribunalResult, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	for i := len(m.tribunalRuns) - 1; i >= 0; i-- {
		r := m.tribunalRuns[i]
		if r.ClaimID == claimID && !r.CreatedAt.Before(since) {
			out := cloneTribunal(r)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) TribunalStats(ctx context.Context, recent int) (*model.TribunalStats, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	stats := &model.TribunalStats{TotalRuns: len(m.tribunalRuns), RecentRuns: []model.TribunalResult{}}
	var coverage, contradiction float64
	for _, r := range m.tribunalRuns {
		switch r.Verdict {
		case model.VerdictPass:
			stats.PassCount++
		case model.VerdictPassWarn:
			stats.PassWarnCount++
		default:
			stats.FailCount++
		}
		coverage += r.Scores.CitationCoverage
		contradiction += r.Scores.ContradictionScore
	}
	if stats.TotalRuns > 0 {
		stats.AvgCoverage = coverage / float64(stats.TotalRuns)
		stats.AvgContradiction = contradiction / float64(stats.TotalRuns)
	}
	stats.PassRate = passRate(stats.PassCount, stats.PassWarnCount, stats.TotalRuns)
	for _, t := range m.tickets {
		if t.Status == "open" {
			stats.OpenTickets++
		}
	}
	for i := len(m.tribunalRuns) - 1; i >= 0 && len(stats.RecentRuns) < recent; i-- {
		stats.RecentRuns = append(stats.RecentRuns, cloneTribunal(m.tribunalRuns[i]))
	}
	return stats, nil
}

func (m *Memory) InsertTickets(ctx context.Context, tickets []model.DataGapTicket) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	for i := range tickets {
		tickets[i].ID = m.id()
		t := tickets[i]
		t.SuggestedSources = slices.Clone(t.SuggestedSources)
		m.tickets = append(m.tickets, t)
	}
	return nil
}

func (m *Memory) OpenTickets(ctx context.Context, limit int) ([]model.DataGapTicket, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	var out []model.DataGapTicket
	for i := len(m.tickets) - 1; i >= 0; i-- {
		if m.tickets[i].Status != "open" {
			continue
		}
		out = append(out, m.tickets[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func cloneTribunal(r model.TribunalResult) model.TribunalResult {
	r.Warnings = slices.Clone(r.Warnings)
	r.Limitations = slices.Clone(r.Limitations)
	r.DegradedStages = slices.Clone(r.DegradedStages)
	r.DataGapTickets = slices.Clone(r.DataGapTickets)
	r.SupportingEvidence = slices.Clone(r.SupportingEvidence)
	return r
}

// Reliability

func (m *Memory) UpsertReliabilityTests(ctx context.Context, tests []model.ReliabilityTest) (int, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()

	added := 0
	for _, t := range tests {
		exists := slices.ContainsFunc(m.tests, func(existing model.ReliabilityTest) bool {
			return existing.TestName == t.TestName
		})
		if exists {
			continue
		}
		t.ID = m.id()
		t.Active = true
		t.ExpectedSources = slices.Clone(t.ExpectedSources)
		m.tests = append(m.tests, t)
		added++
	}
	return added, nil
}

func (m *Memory) ActiveReliabilityTests(ctx context.Context) ([]model.ReliabilityTest, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	var out []model.ReliabilityTest
	for _, t := range m.tests {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) InsertReliabilityRun(ctx context.Context, run *model.ReliabilityRun) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if run.ID != 0 {
		return ErrImmutable
	}
	run.ID = m.id()
	stored := *run
	stored.Results = slices.Clone(run.Results)
	m.runs = append(m.runs, stored)
	return nil
}

func (m *Memory) LatestReliabilityRun(ctx context.Context) (*model.ReliabilityRun, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	if len(m.runs) == 0 {
		return nil, ErrNotFound
	}
	latest := m.runs[0]
	for _, r := range m.runs[1:] {
		if !r.CompletedAt.Before(latest.CompletedAt) {
			latest = r
		}
	}
	latest.Results = slices.Clone(latest.Results)
	return &latest, nil
}

// Publication log

func (m *Memory) AppendPublication(ctx context.Context, e *model.PublicationLogEntry) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if e.ID != 0 {
		return ErrImmutable
	}
	for _, existing := range m.publications {
		if existing.PublicationID == e.PublicationID {
			return ErrImmutable
		}
	}
	e.ID = m.id()
	stored := *e
	stored.Warnings = slices.Clone(e.Warnings)
	m.publications = append(m.publications, stored)
	return nil
}

func (m *Memory) PublicationHistory(ctx context.Context, contentType string, contentID int64) ([]model.PublicationLogEntry, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	var out []model.PublicationLogEntry
	for _, e := range m.publications {
		if e.ContentType == contentType && e.ContentID == contentID {
			e.Warnings = slices.Clone(e.Warnings)
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) PublicationStats(ctx context.Context, recent int) (*model.PublicationStats, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	stats := &model.PublicationStats{TotalRequests: len(m.publications), RecentPublications: []model.PublicationLogEntry{}}
	var coverage float64
	publishable := 0
	for _, e := range m.publications {
		if e.Allowed {
			stats.TotalPublications++
		} else {
			stats.BlockedCount++
		}
		if e.ForcePublished {
			stats.ForcePublishCount++
		}
		if e.Verdict.Publishable() {
			publishable++
		}
		coverage += e.Scores.CitationCoverage
	}
	stats.PassRate = percent(publishable, stats.TotalRequests)
	if stats.TotalRequests > 0 {
		stats.AvgCitationCoverage = coverage / float64(stats.TotalRequests)
	}
	for i := len(m.publications) - 1; i >= 0 && len(stats.RecentPublications) < recent; i-- {
		if m.publications[i].Allowed {
			stats.RecentPublications = append(stats.RecentPublications, m.publications[i])
		}
	}
	return stats, nil
}

// Updates

func (m *Memory) UpdateItem(ctx context.Context, id int64) (*model.UpdateItem, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	item, ok := m.updates[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneUpdate(*item)
	return &out, nil
}

func (m *Memory) SaveUpdateItem(ctx context.Context, item *model.UpdateItem) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if item.ID == 0 {
		item.ID = m.id()
	} else if item.ID > m.nextID {
		m.nextID = item.ID
	}
	stored := cloneUpdate(*item)
	m.updates[item.ID] = &stored
	return nil
}

func (m *Memory) Source(ctx context.Context, id int64) (*model.Source, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	src, ok := m.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *src
	return &out, nil
}

func (m *Memory) SaveSource(ctx context.Context, src *model.Source) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if src.ID == 0 {
		src.ID = m.id()
	} else if src.ID > m.nextID {
		m.nextID = src.ID
	}
	stored := *src
	m.sources[src.ID] = &stored
	return nil
}

func (m *Memory) ApplyUpdateDecision(ctx context.Context, id int64, d UpdateDecision) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	item, ok := m.updates[id]
	if !ok {
		return ErrNotFound
	}
	item.Status = d.Status
	item.Visibility = d.Visibility
	item.ReviewedBy = d.ReviewedBy
	at := d.ReviewedAt
	item.ReviewedAt = &at
	return nil
}

func (m *Memory) InsertNotification(ctx context.Context, n *model.Notification) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	n.ID = m.id()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *Memory) UpdateStats(ctx context.Context) (*model.UpdateStats, error) {
	if err := m.rlock(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	stats := &model.UpdateStats{
		Total:        len(m.updates),
		ByStatus:     make(map[model.UpdateStatus]int),
		ByVisibility: make(map[model.Visibility]int),
		ByGrade:      make(map[model.Grade]int),
	}
	for _, item := range m.updates {
		stats.ByStatus[item.Status]++
		if item.Visibility != "" {
			stats.ByVisibility[item.Visibility]++
		}
		stats.ByGrade[item.ConfidenceGrade]++
	}
	return stats, nil
}

func cloneUpdate(item model.UpdateItem) model.UpdateItem {
	item.Sectors = slices.Clone(item.Sectors)
	item.Entities = slices.Clone(item.Entities)
	if item.Bundle != nil {
		b := model.EvidenceBundle{Citations: slices.Clone(item.Bundle.Citations)}
		item.Bundle = &b
	}
	if item.DQAF != nil {
		dqaf := make(map[string]string, len(item.DQAF))
		for k, v := range item.DQAF {
			dqaf[strings.ToLower(k)] = v
		}
		item.DQAF = dqaf
	}
	return item
}
