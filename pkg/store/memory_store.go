package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"wellnest/pkg/domain"
)

// MemoryStore is a process-local Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	entries  []domain.JournalEntry
	payments map[string]domain.Payment
	events   []domain.PaymentEvent
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		payments: make(map[string]domain.Payment),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.userByEmailLocked(email)
	return ok, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.userByEmailLocked(email)
	return u, ok, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, id string, patch UserPatch) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.IsPremium != nil {
		u.IsPremium = *patch.IsPremium
	}
	if patch.ProfilePicture != nil {
		u.ProfilePicture = *patch.ProfilePicture
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, true, nil
}

func (s *MemoryStore) SaveEntry(_ context.Context, e domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Analysis != nil {
		analysis := *e.Analysis
		analysis.Emotions = append([]domain.Emotion(nil), e.Analysis.Emotions...)
		e.Analysis = &analysis
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) ListEntriesByUser(_ context.Context, userID string) ([]domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]domain.JournalEntry, 0)
	for _, e := range s.entries {
		if e.UserID == userID {
			items = append(items, e)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) SavePendingPayment(_ context.Context, p domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.Reference]; ok {
		return nil
	}
	s.payments[p.Reference] = p
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, reference string) (domain.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	return p, ok, nil
}

func (s *MemoryStore) SettlePayment(_ context.Context, in Settlement) (SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(in.Email))
	now := time.Now().UTC()
	p, ok := s.payments[in.Reference]
	if !ok {
		p = domain.Payment{Reference: in.Reference, CreatedAt: now}
	}
	if p.Status == domain.PaymentSuccess {
		return SettleResult{Payment: p, AlreadySettled: true}, nil
	}
	if email != "" {
		p.Email = email
	}
	if in.Amount != "" {
		p.Amount = in.Amount
	}
	if in.Currency != "" {
		p.Currency = in.Currency
	}
	p.Status = domain.PaymentSuccess
	p.UpdatedAt = now

	var result SettleResult
	if u, found := s.userByEmailLocked(email); found && email != "" {
		u.IsPremium = true
		u.UpdatedAt = now
		s.users[u.ID] = u
		p.UserID = u.ID
		result.Credited = true
	}
	s.payments[in.Reference] = p
	result.Payment = p
	return result, nil
}

func (s *MemoryStore) SavePaymentEvent(_ context.Context, ev domain.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Payload = append([]byte(nil), ev.Payload...)
	s.events = append(s.events, ev)
	return nil
}

// PaymentEvents returns a copy of the recorded webhook deliveries.
func (s *MemoryStore) PaymentEvents() []domain.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PaymentEvent(nil), s.events...)
}

func (s *MemoryStore) userByEmailLocked(email string) (domain.User, bool) {
	for _, u := range s.users {
		if u.Email == email {
			return u, true
		}
	}
	return domain.User{}, false
}
