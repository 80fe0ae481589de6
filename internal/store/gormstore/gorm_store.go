package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aegis/internal/store"
	storemodel "aegis/internal/store/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type signalModel = storemodel.SignalHistoryModel
type riskStateModel = storemodel.RiskStateModel

// Options 打开存储所需参数。
type Options struct {
	Driver       string // sqlite | postgres
	Path         string
	DSN          string
	MaxOpenConns int
	// Now 用于租约比较，测试可注入。
	Now func() time.Time
}

// Store 基于 Gorm 实现 SignalStore 与 RiskStateStore。
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ store.SignalStore    = (*Store)(nil)
	_ store.RiskStateStore = (*Store)(nil)
)

// Open 按 driver 打开数据库并迁移表结构。
func Open(opts Options) (*Store, error) {
	cfg := &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	}
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "sqlite":
		path := strings.TrimSpace(opts.Path)
		if path == "" {
			return nil, fmt.Errorf("gorm store: sqlite path 不能为空")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, classify(err)
		}
		if sqlDB, derr := db.DB(); derr == nil {
			// SQLite 单写者：所有写入串行化，避免 database is locked。
			sqlDB.SetMaxOpenConns(1)
		}
	case "postgres":
		if strings.TrimSpace(opts.DSN) == "" {
			return nil, fmt.Errorf("gorm store: postgres dsn 不能为空")
		}
		db, err = gorm.Open(postgres.Open(opts.DSN), cfg)
		if err != nil {
			return nil, classify(err)
		}
		if sqlDB, derr := db.DB(); derr == nil && opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
			sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
		}
	default:
		return nil, fmt.Errorf("gorm store: unsupported driver %q", opts.Driver)
	}
	return newStore(db, opts.Now)
}

// NewFromDB 复用已有连接（测试或共享连接池）。
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newStore(db, nil)
}

func newStore(db *gorm.DB, now func() time.Time) (*Store, error) {
	if err := db.AutoMigrate(&signalModel{}, &riskStateModel{}); err != nil {
		return nil, classify(err)
	}
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}, nil
}

// CloseDB closes the underlying database connection.
func (s *Store) CloseDB() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *Store) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.SQLDB()
	if err != nil {
		return classify(err)
	}
	return classify(sqlDB.PingContext(ctx))
}

// classify 把驱动错误统一为 store 哨兵；上下文取消原样返回。
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}
