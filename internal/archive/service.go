package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxzi/letterbox/internal/metrics"
)

// DateLayout is the format of SentDate
const DateLayout = "2006-01-02"

// Service implements archive queries and recording
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an archive service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// List returns all records in insertion order
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	return s.store.List(ctx)
}

// Get returns a record by id
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	return s.store.Get(ctx, id)
}

// Search returns records whose subject or preview contains term,
// case-insensitively. An empty term matches everything.
func (s *Service) Search(ctx context.Context, term string) ([]*Record, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if term == "" {
		return all, nil
	}

	needle := strings.ToLower(term)
	result := make([]*Record, 0, len(all))
	for _, rec := range all {
		if strings.Contains(strings.ToLower(rec.Subject), needle) ||
			strings.Contains(strings.ToLower(rec.Preview), needle) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// Stats aggregates over sent records only. Averages are zero when
// nothing has been sent.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return Aggregate(all), nil
}

// Aggregate computes Stats for records
func Aggregate(records []*Record) *Stats {
	st := &Stats{}
	var openSum, clickSum float64
	for _, rec := range records {
		if rec.Status != StatusSent {
			continue
		}
		st.TotalSent++
		st.TotalRecipients += rec.Recipients
		openSum += rec.OpenRate
		clickSum += rec.ClickRate
	}
	if st.TotalSent > 0 {
		st.AvgOpenRate = openSum / float64(st.TotalSent)
		st.AvgClickRate = clickSum / float64(st.TotalSent)
	}
	return st
}

// RecordDraft archives a saved draft
func (s *Service) RecordDraft(ctx context.Context, draftID, subject, preview string) (*Record, error) {
	rec := &Record{
		Subject:  subject,
		SentDate: s.now().Format(DateLayout),
		Status:   StatusDraft,
		Preview:  preview,
		DraftID:  draftID,
	}
	if err := s.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to archive draft: %w", err)
	}
	metrics.IncNewsletters(string(StatusDraft))
	s.logger.Info("draft archived", "id", rec.ID, "draft_id", draftID)
	return rec, nil
}

// UpdateDraft refreshes the subject, preview and date of an archived draft.
// Sent records are immutable.
func (s *Service) UpdateDraft(ctx context.Context, id int64, subject, preview string) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusDraft {
		return nil, fmt.Errorf("%w: record %d is %s", ErrNotDraft, id, rec.Status)
	}

	rec.Subject = subject
	rec.Preview = preview
	rec.SentDate = s.now().Format(DateLayout)
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update draft: %w", err)
	}
	s.logger.Info("archived draft updated", "id", rec.ID, "draft_id", rec.DraftID)
	return rec, nil
}

// RecordSent archives a sent newsletter. Engagement metrics start at zero.
func (s *Service) RecordSent(ctx context.Context, draftID, subject, preview string, recipients int) (*Record, error) {
	rec := &Record{
		Subject:    subject,
		SentDate:   s.now().Format(DateLayout),
		Status:     StatusSent,
		Recipients: recipients,
		Preview:    preview,
		DraftID:    draftID,
	}
	if err := s.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to archive newsletter: %w", err)
	}
	metrics.IncNewsletters(string(StatusSent))
	s.logger.Info("newsletter archived", "id", rec.ID, "draft_id", draftID, "recipients", recipients)
	return rec, nil
}

// Seed appends records when the archive is empty. It reports how many were added.
func (s *Service) Seed(ctx context.Context, records []Record) (int, error) {
	existing, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for i := range records {
		rec := records[i]
		if err := s.store.Append(ctx, &rec); err != nil {
			return i, fmt.Errorf("failed to seed archive: %w", err)
		}
	}
	return len(records), nil
}
