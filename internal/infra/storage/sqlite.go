package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"swapbook/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLite is the durable OrderStore backed by gorm over a pure-Go SQLite driver.
type SQLite struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLite opens (or creates) the database at path and migrates the schema.
// An empty path resolves to the per-user data directory.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		var err error
		if path, err = DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions serialized.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&OrderModel{}, &RetiredOrderModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// DefaultDBPath resolves the database file path based on OS
func DefaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "SwapBook", "data", "swapbook.db"), nil
}

// Close releases the underlying connection pool.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLite) notFound(tx *gorm.DB, id domain.OrderID, op string) error {
	var n int64
	if err := tx.Model(&RetiredOrderModel{}).Where("id = ?", uint64(id)).Count(&n).Error; err == nil && n > 0 {
		return domain.NewOrderError(domain.KindNotFound, id, op, domain.ErrOrderRetired)
	}
	return domain.NewOrderError(domain.KindNotFound, id, op, nil)
}

// unstorable reports ids the driver cannot bind. No such order can exist.
func unstorable(id domain.OrderID) bool {
	return uint64(id) > math.MaxInt64
}

func storageError(id domain.OrderID, op string, err error) error {
	var oe *domain.OrderError
	if errors.As(err, &oe) {
		return err
	}
	return domain.NewNetworkError(fmt.Sprintf("sqlite %s order %d", op, id), err)
}

// ======================================================================================
// Order Operations
// ======================================================================================

// Get implements domain.OrderStore.
func (s *SQLite) Get(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	if unstorable(id) {
		return domain.Order{}, domain.NewOrderError(domain.KindNotFound, id, "get_order", nil)
	}
	var row OrderModel
	err := s.db.WithContext(ctx).First(&row, "id = ?", uint64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Order{}, s.notFound(s.db.WithContext(ctx), id, "get_order")
	}
	if err != nil {
		return domain.Order{}, storageError(id, "get_order", err)
	}
	return row.toDomain()
}

// InsertNew implements domain.OrderStore. Ids above MaxInt64 cannot be
// stored by the driver and are reported as allocator exhaustion.
func (s *SQLite) InsertNew(ctx context.Context, order domain.Order) (domain.OrderID, error) {
	const op = "create_order"
	if unstorable(order.ID) {
		return 0, domain.NewOrderError(domain.KindAllocatorExhausted, order.ID, op, nil)
	}
	if err := order.VerifyInvariants(); err != nil {
		return 0, &domain.OrderError{Kind: domain.KindInvalidOrder, OrderID: order.ID, Op: op, Reason: domain.ErrInvariantViolated, Err: err}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&RetiredOrderModel{}).Where("id = ?", uint64(order.ID)).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.NewOrderError(domain.KindConflict, order.ID, op, domain.ErrOrderRetired)
		}
		if err := tx.Model(&OrderModel{}).Where("id = ?", uint64(order.ID)).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.NewOrderError(domain.KindConflict, order.ID, op, domain.ErrDuplicateID)
		}
		row := toModel(order)
		return tx.Create(&row).Error
	})
	if err != nil {
		return 0, storageError(order.ID, op, err)
	}
	return order.ID, nil
}

// Update implements domain.OrderStore. The write is guarded by
// "WHERE id = ? AND status = ?" so a concurrent writer turns into a Conflict.
func (s *SQLite) Update(ctx context.Context, id domain.OrderID, expected domain.Status, mutate func(*domain.Order) error) (domain.Order, error) {
	const op = "update_order"
	if unstorable(id) {
		return domain.Order{}, domain.NewOrderError(domain.KindNotFound, id, op, nil)
	}
	var (
		result    domain.Order
		mutateErr error
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row OrderModel
		err := tx.First(&row, "id = ?", uint64(id)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.notFound(tx, id, op)
		}
		if err != nil {
			return err
		}
		prev, err := row.toDomain()
		if err != nil {
			return err
		}
		result = prev
		if prev.Status != expected {
			return domain.NewOrderError(domain.KindConflict, id, op, domain.ErrStaleStatus)
		}

		next := prev
		if mutateErr = mutate(&next); mutateErr != nil {
			return mutateErr
		}
		next.UpdatedAt = s.now()
		if err := domain.VerifySuccessor(&prev, &next); err != nil {
			return &domain.OrderError{Kind: domain.KindInvalidTransition, OrderID: id, Op: op, Reason: domain.ErrInvariantViolated, Err: err}
		}

		nextRow := toModel(next)
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ?", uint64(id), expected.String()).
			Select("*").
			Updates(&nextRow)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.NewOrderError(domain.KindConflict, id, op, domain.ErrStaleStatus)
		}
		result = next
		return nil
	})
	if mutateErr != nil {
		return result, mutateErr
	}
	if err != nil {
		return result, storageError(id, op, err)
	}
	return result, nil
}

// Remove implements domain.OrderStore.
func (s *SQLite) Remove(ctx context.Context, id domain.OrderID, expected domain.Status) error {
	const op = "remove_order"
	if unstorable(id) {
		return domain.NewOrderError(domain.KindNotFound, id, op, nil)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status = ?", uint64(id), expected.String()).Delete(&OrderModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&OrderModel{}).Where("id = ?", uint64(id)).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return s.notFound(tx, id, op)
			}
			return domain.NewOrderError(domain.KindConflict, id, op, domain.ErrStaleStatus)
		}
		return tx.Create(&RetiredOrderModel{ID: uint64(id), RetiredAt: s.now()}).Error
	})
	if err != nil {
		return storageError(id, op, err)
	}
	return nil
}

// IsRetired implements domain.OrderStore.
func (s *SQLite) IsRetired(ctx context.Context, id domain.OrderID) (bool, error) {
	if unstorable(id) {
		return false, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&RetiredOrderModel{}).Where("id = ?", uint64(id)).Count(&n).Error; err != nil {
		return false, storageError(id, "is_retired", err)
	}
	return n > 0, nil
}

// List implements domain.OrderStore. Results are sorted by id.
func (s *SQLite) List(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	q := s.db.WithContext(ctx).Model(&OrderModel{}).Order("id ASC")
	if filter.Status != 0 {
		q = q.Where("status = ?", filter.Status.String())
	}
	if filter.Creator != "" {
		q = q.Where("creator = ?", string(filter.Creator))
	}
	if filter.AfterID != nil {
		if unstorable(*filter.AfterID) {
			return []domain.Order{}, nil
		}
		q = q.Where("id > ?", uint64(*filter.AfterID))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []OrderModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, domain.NewNetworkError("sqlite list_orders", err)
	}
	out := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		o, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// HighWatermark implements domain.OrderStore.
func (s *SQLite) HighWatermark(ctx context.Context) (domain.OrderID, bool, error) {
	var live, retired sql.NullInt64
	db := s.db.WithContext(ctx)
	if err := db.Model(&OrderModel{}).Select("MAX(id)").Scan(&live).Error; err != nil {
		return 0, false, domain.NewNetworkError("sqlite high_watermark", err)
	}
	if err := db.Model(&RetiredOrderModel{}).Select("MAX(id)").Scan(&retired).Error; err != nil {
		return 0, false, domain.NewNetworkError("sqlite high_watermark", err)
	}
	if !live.Valid && !retired.Valid {
		return 0, false, nil
	}
	hw := live.Int64
	if retired.Valid && (!live.Valid || retired.Int64 > hw) {
		hw = retired.Int64
	}
	return domain.OrderID(hw), true, nil
}
