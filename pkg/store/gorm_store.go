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

	"bananastore/pkg/domain"
)

const migrateLockID int64 = 51720431

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("store: database dsn is required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AttemptModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
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

// SaveAttempt records or updates a checkout attempt.
func (s *GormStore) SaveAttempt(ctx context.Context, attempt domain.CheckoutAttempt) error {
	if strings.TrimSpace(attempt.ID) == "" {
		return ErrInvalidAttempt
	}
	model, err := attemptToModel(attempt)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"order_id", "status", "checkout_url", "error", "updated_at"}),
	}).Create(&model).Error
}

// GetAttempt returns an attempt by id.
func (s *GormStore) GetAttempt(ctx context.Context, id string) (domain.CheckoutAttempt, bool, error) {
	var model AttemptModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CheckoutAttempt{}, false, nil
		}
		return domain.CheckoutAttempt{}, false, err
	}
	attempt, err := attemptFromModel(model)
	if err != nil {
		return domain.CheckoutAttempt{}, false, err
	}
	return attempt, true, nil
}

// ListAttemptsByUser returns a user's attempts, newest first.
func (s *GormStore) ListAttemptsByUser(ctx context.Context, userID string, limit int) ([]domain.CheckoutAttempt, error) {
	var models []AttemptModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(clampLimit(limit)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CheckoutAttempt, 0, len(models))
	for _, m := range models {
		attempt, err := attemptFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, attempt)
	}
	return out, nil
}

func attemptToModel(a domain.CheckoutAttempt) (AttemptModel, error) {
	items, err := json.Marshal(a.Items)
	if err != nil {
		return AttemptModel{}, fmt.Errorf("encode attempt items: %w", err)
	}
	return AttemptModel{
		ID:          a.ID,
		UserID:      a.UserID,
		OrderID:     a.OrderID,
		Method:      string(a.Method),
		Status:      string(a.Status),
		Total:       a.Total,
		Items:       datatypes.JSON(items),
		CheckoutURL: a.CheckoutURL,
		Error:       a.Error,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}, nil
}

func attemptFromModel(m AttemptModel) (domain.CheckoutAttempt, error) {
	var items []domain.CartItem
	if len(m.Items) > 0 {
		if err := json.Unmarshal(m.Items, &items); err != nil {
			return domain.CheckoutAttempt{}, fmt.Errorf("decode attempt items: %w", err)
		}
	}
	return domain.CheckoutAttempt{
		ID:          m.ID,
		UserID:      m.UserID,
		OrderID:     m.OrderID,
		Method:      domain.PaymentMethod(m.Method),
		Status:      domain.AttemptStatus(m.Status),
		Total:       m.Total,
		Items:       items,
		CheckoutURL: m.CheckoutURL,
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}
