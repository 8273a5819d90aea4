package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/foxzi/letterbox/internal/metrics"
)

// Service implements audience operations on top of a Store
type Service struct {
	store  Store
	mirror Mirror
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a subscriber service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetMirror registers a provider notified after local changes
func (s *Service) SetMirror(m Mirror) {
	s.mirror = m
}

// Add creates a subscribed member. The email is trimmed and must be unique
// (exact, case-sensitive match). A blank name becomes DefaultName.
func (s *Service) Add(ctx context.Context, email, name string) (*Subscriber, error) {
	sub, err := s.add(ctx, email, name, StatusSubscribed, "")
	if err != nil {
		return nil, err
	}
	metrics.IncSubscribersAdded("manual")
	return sub, nil
}

func (s *Service) add(ctx context.Context, email, name string, status Status, joinDate string) (*Subscriber, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	// The address is written into the To: header of every send
	if strings.ContainsFunc(email, unicode.IsControl) {
		return nil, ErrInvalidEmail
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	if joinDate == "" {
		joinDate = s.now().Format(DateLayout)
	}

	sub := &Subscriber{
		Email:    email,
		Name:     name,
		Status:   status,
		JoinDate: joinDate,
	}
	if err := s.store.Insert(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscriber added", "id", sub.ID, "email", sub.Email)

	if s.mirror != nil && sub.Status == StatusSubscribed {
		if err := s.mirror.Subscribed(ctx, sub); err != nil {
			s.logger.Warn("failed to mirror subscriber", "email", sub.Email, "error", err)
		}
	}

	return sub, nil
}

// Seed inserts subscribers when the audience is empty. Seeded subscribers
// are not mirrored. It reports how many were added.
func (s *Service) Seed(ctx context.Context, subs []Subscriber) (int, error) {
	existing, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for i := range subs {
		sub := subs[i]
		if err := s.store.Insert(ctx, &sub); err != nil {
			return i, fmt.Errorf("failed to seed audience: %w", err)
		}
	}
	return len(subs), nil
}

// Remove deletes the subscriber with id. Removing an unknown id is not an error.
func (s *Service) Remove(ctx context.Context, id int64) error {
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to remove subscriber: %w", err)
	}
	if removed == nil {
		return nil
	}

	metrics.IncSubscribersRemoved()
	s.logger.Info("subscriber removed", "id", id, "email", removed.Email)

	if s.mirror != nil {
		if err := s.mirror.Removed(ctx, removed); err != nil {
			s.logger.Warn("failed to mirror removal", "email", removed.Email, "error", err)
		}
	}
	return nil
}

// SetStatus changes a subscriber's status
func (s *Service) SetStatus(ctx context.Context, id int64, status Status) (*Subscriber, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	sub, err := s.store.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	if s.mirror != nil {
		var merr error
		if status == StatusSubscribed {
			merr = s.mirror.Subscribed(ctx, sub)
		} else {
			merr = s.mirror.Removed(ctx, sub)
		}
		if merr != nil {
			s.logger.Warn("failed to mirror status change", "email", sub.Email, "error", merr)
		}
	}
	return sub, nil
}

// List returns every subscriber in insertion order
func (s *Service) List(ctx context.Context) ([]*Subscriber, error) {
	return s.store.List(ctx)
}

// Search returns subscribers whose email or name contains term,
// case-insensitively. An empty term matches everything.
func (s *Service) Search(ctx context.Context, term string) ([]*Subscriber, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if term == "" {
		return all, nil
	}

	needle := strings.ToLower(term)
	result := make([]*Subscriber, 0, len(all))
	for _, sub := range all {
		if strings.Contains(strings.ToLower(sub.Email), needle) ||
			strings.Contains(strings.ToLower(sub.Name), needle) {
			result = append(result, sub)
		}
	}
	return result, nil
}

// Counts tallies the audience by status
func (s *Service) Counts(ctx context.Context) (*Counts, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	c := &Counts{Total: len(all)}
	for _, sub := range all {
		switch sub.Status {
		case StatusSubscribed:
			c.Subscribed++
		case StatusUnsubscribed:
			c.Unsubscribed++
		}
	}
	return c, nil
}

// Recipients returns the subscribed members
func (s *Service) Recipients(ctx context.Context) ([]*Subscriber, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*Subscriber, 0, len(all))
	for _, sub := range all {
		if sub.Status == StatusSubscribed {
			result = append(result, sub)
		}
	}
	return result, nil
}
