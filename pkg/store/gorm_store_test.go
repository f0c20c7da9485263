package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"wellnest/pkg/domain"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig())
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return NewGormStoreFromDB(db), mock
}

func TestGormStoreGetUserByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE email = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "name", "is_premium", "profile_picture", "created_at", "updated_at"}).
			AddRow("user_1", "a@x.io", "$2a$10$hash", "Ada", true, "", created, created))

	u, ok, err := s.GetUserByEmail(context.Background(), "a@x.io")
	if err != nil || !ok {
		t.Fatalf("get user: ok=%v err=%v", ok, err)
	}
	if u.ID != "user_1" || u.Name != "Ada" || !u.IsPremium || u.PasswordHash != "$2a$10$hash" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormStoreGetUserByEmailMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE email = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := s.GetUserByEmail(context.Background(), "nobody@x.io")
	if err != nil || ok {
		t.Fatalf("expected not found without error, ok=%v err=%v", ok, err)
	}
}

func TestGormStoreListEntriesDecodesAnalysis(t *testing.T) {
	s, mock := newMockStore(t)
	newer := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	older := newer.Add(-24 * time.Hour)
	analysis := `{"overallSentiment":"Positive","emotions":[{"emotion":"joy","score":8}],"summary":"good day","affirmation":"keep going"}`
	mock.ExpectQuery(`SELECT \* FROM "journal_entry" WHERE user_id = \$1 ORDER BY date DESC,\s*id DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "date", "content", "analysis_json"}).
			AddRow("entry_2", "user_1", newer, "today", analysis).
			AddRow("entry_1", "user_1", older, "yesterday", nil).
			AddRow("entry_0", "user_1", older, "broken", "{not json"))

	entries, err := s.ListEntriesByUser(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.ID != "entry_2" || first.Analysis == nil {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first.Analysis.OverallSentiment != domain.SentimentPositive || first.Analysis.Emotions[0].Score != 8 {
		t.Fatalf("analysis decoded wrong: %+v", first.Analysis)
	}
	if entries[1].Analysis != nil || entries[2].Analysis != nil {
		t.Fatalf("null and corrupt analysis should decode as absent")
	}
}

func TestGormStoreGetPayment(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "payments" WHERE reference = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"reference", "email", "amount", "currency", "status", "user_id", "created_at", "updated_at"}).
			AddRow("REF1", "a@x.io", "500", "KES", "success", "user_1", now, now))

	p, ok, err := s.GetPayment(context.Background(), "REF1")
	if err != nil || !ok {
		t.Fatalf("get payment: ok=%v err=%v", ok, err)
	}
	if p.Status != domain.PaymentSuccess || p.UserID != "user_1" {
		t.Fatalf("unexpected payment: %+v", p)
	}
}

func TestEntryModelRoundTrip(t *testing.T) {
	entry := domain.JournalEntry{
		ID:      "entry_1",
		UserID:  "user_1",
		Date:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Content: "a calm morning",
		Analysis: &domain.Analysis{
			OverallSentiment: domain.SentimentNeutral,
			Emotions:         []domain.Emotion{{Emotion: "calm", Score: 6.5}},
			Summary:          "calm",
			Affirmation:      "breathe",
		},
	}
	model, err := entryToModel(entry)
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	got := entryFromModel(model)
	if got.Content != entry.Content || got.Analysis == nil || got.Analysis.Emotions[0].Score != 6.5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	entry.Analysis = nil
	model, err = entryToModel(entry)
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if model.AnalysisJSON != nil {
		t.Fatalf("absent analysis must be stored as NULL")
	}
}
