package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"wellnest/pkg/domain"
)

const migrateLockID int64 = 51730917

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and creates missing tables and constraints.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already opened connection without migrating.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	}
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&UserModel{}, &JournalEntryModel{}, &PaymentModel{}, &PaymentEventModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'journal_entry'
				AND constraint_name = 'journal_entry_user_id_fkey'
			) THEN
				ALTER TABLE journal_entry
				ADD CONSTRAINT journal_entry_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'payments'
				AND constraint_name = 'payments_user_id_fkey'
			) THEN
				ALTER TABLE payments
				ADD CONSTRAINT payments_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE SET NULL;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure foreign keys: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user. A unique index violation on email maps to
// ErrDuplicateEmail.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UpdateUser applies the non-nil fields of patch and returns the fresh row.
func (s *GormStore) UpdateUser(ctx context.Context, id string, patch UserPatch) (domain.User, bool, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.IsPremium != nil {
		updates["is_premium"] = *patch.IsPremium
	}
	if patch.ProfilePicture != nil {
		updates["profile_picture"] = *patch.ProfilePicture
	}
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.User{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.User{}, false, nil
	}
	return s.GetUserByID(ctx, id)
}

// SaveEntry inserts a journal entry.
func (s *GormStore) SaveEntry(ctx context.Context, e domain.JournalEntry) error {
	model, err := entryToModel(e)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListEntriesByUser returns the user's entries newest first.
func (s *GormStore) ListEntriesByUser(ctx context.Context, userID string) ([]domain.JournalEntry, error) {
	var models []JournalEntryModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.JournalEntry, 0, len(models))
	for _, m := range models {
		items = append(items, entryFromModel(m))
	}
	return items, nil
}

// SavePendingPayment records a checkout. An existing reference is left as is.
func (s *GormStore) SavePendingPayment(ctx context.Context, p domain.Payment) error {
	model := paymentToModel(p)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
		Create(&model).Error
}

// GetPayment returns a payment by reference.
func (s *GormStore) GetPayment(ctx context.Context, reference string) (domain.Payment, bool, error) {
	var model PaymentModel
	if err := s.db.WithContext(ctx).First(&model, "reference = ?", reference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Payment{}, false, nil
		}
		return domain.Payment{}, false, err
	}
	return paymentFromModel(model), true, nil
}

// SettlePayment marks the reference as paid and grants premium to the user
// owning the email, in one transaction. The payment row is locked first, so
// concurrent settlements of one reference credit at most once.
func (s *GormStore) SettlePayment(ctx context.Context, in Settlement) (SettleResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	now := time.Now().UTC()
	var result SettleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := PaymentModel{
			Reference: in.Reference,
			Email:     email,
			Amount:    in.Amount,
			Currency:  in.Currency,
			Status:    string(domain.PaymentPending),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
			Create(&seed).Error; err != nil {
			return fmt.Errorf("seed payment: %w", err)
		}
		var model PaymentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "reference = ?", in.Reference).Error; err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if model.Status == string(domain.PaymentSuccess) {
			result = SettleResult{Payment: paymentFromModel(model), AlreadySettled: true}
			return nil
		}

		updates := map[string]any{
			"status":     string(domain.PaymentSuccess),
			"updated_at": now,
		}
		if email != "" {
			updates["email"] = email
		}
		if in.Amount != "" {
			updates["amount"] = in.Amount
		}
		if in.Currency != "" {
			updates["currency"] = in.Currency
		}
		if email != "" {
			var user UserModel
			err := tx.Where("email = ?", email).First(&user).Error
			switch {
			case err == nil:
				if err := tx.Model(&UserModel{}).Where("id = ?", user.ID).
					Updates(map[string]any{"is_premium": true, "updated_at": now}).Error; err != nil {
					return fmt.Errorf("grant premium: %w", err)
				}
				updates["user_id"] = user.ID
				result.Credited = true
			case errors.Is(err, gorm.ErrRecordNotFound):
			default:
				return fmt.Errorf("find payer: %w", err)
			}
		}
		if err := tx.Model(&PaymentModel{}).Where("reference = ?", in.Reference).Updates(updates).Error; err != nil {
			return fmt.Errorf("mark payment: %w", err)
		}
		if err := tx.First(&model, "reference = ?", in.Reference).Error; err != nil {
			return fmt.Errorf("reload payment: %w", err)
		}
		result.Payment = paymentFromModel(model)
		return nil
	})
	if err != nil {
		return SettleResult{}, err
	}
	return result, nil
}

// SavePaymentEvent stores one webhook delivery.
func (s *GormStore) SavePaymentEvent(ctx context.Context, ev domain.PaymentEvent) error {
	model := eventToModel(ev)
	return s.db.WithContext(ctx).Create(&model).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:             u.ID,
		Email:          u.Email,
		PasswordHash:   u.PasswordHash,
		Name:           u.Name,
		IsPremium:      u.IsPremium,
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:             m.ID,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		Name:           m.Name,
		IsPremium:      m.IsPremium,
		ProfilePicture: m.ProfilePicture,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func entryToModel(e domain.JournalEntry) (JournalEntryModel, error) {
	model := JournalEntryModel{
		ID:      e.ID,
		UserID:  e.UserID,
		Date:    e.Date,
		Content: e.Content,
	}
	if e.Analysis != nil {
		raw, err := json.Marshal(e.Analysis)
		if err != nil {
			return JournalEntryModel{}, fmt.Errorf("encode analysis: %w", err)
		}
		text := string(raw)
		model.AnalysisJSON = &text
	}
	return model, nil
}

// entryFromModel treats an undecodable analysis column as absent so one bad
// row cannot break the whole listing.
func entryFromModel(m JournalEntryModel) domain.JournalEntry {
	entry := domain.JournalEntry{
		ID:      m.ID,
		UserID:  m.UserID,
		Date:    m.Date.UTC(),
		Content: m.Content,
	}
	if m.AnalysisJSON != nil && strings.TrimSpace(*m.AnalysisJSON) != "" {
		var analysis domain.Analysis
		if err := json.Unmarshal([]byte(*m.AnalysisJSON), &analysis); err == nil {
			entry.Analysis = &analysis
		}
	}
	return entry
}

func paymentToModel(p domain.Payment) PaymentModel {
	model := PaymentModel{
		Reference: p.Reference,
		Email:     p.Email,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.UserID != "" {
		userID := p.UserID
		model.UserID = &userID
	}
	return model
}

func paymentFromModel(m PaymentModel) domain.Payment {
	p := domain.Payment{
		Reference: m.Reference,
		Email:     m.Email,
		Amount:    m.Amount,
		Currency:  m.Currency,
		Status:    domain.PaymentStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.UserID != nil {
		p.UserID = *m.UserID
	}
	return p
}

func eventToModel(ev domain.PaymentEvent) PaymentEventModel {
	return PaymentEventModel{
		ID:         ev.ID,
		InvoiceID:  ev.InvoiceID,
		State:      ev.State,
		APIRef:     ev.APIRef,
		Payload:    datatypes.JSON(ev.Payload),
		ReceivedAt: ev.ReceivedAt,
	}
}
