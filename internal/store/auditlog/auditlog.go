package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aegis/internal/store"

	_ "modernc.org/sqlite"
)

// Store 是被拒绝/跳过信号的审计日志，独立于信号库。
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

var _ store.AuditLog = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS aegis_signal_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	tick_id TEXT,
	stock_code TEXT NOT NULL,
	kind TEXT NOT NULL,
	tag TEXT,
	detail TEXT,
	payload TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON aegis_signal_audit(ts);
CREATE INDEX IF NOT EXISTS idx_audit_stock ON aegis_signal_audit(stock_code, ts);
`

// Open 初始化 SQLite 审计库。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, e store.AuditEntry) error {
	if s == nil || s.db == nil {
		return nil
	}
	if e.TS.IsZero() {
		e.TS = time.Now()
	}
	var payload sql.NullString
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aegis_signal_audit (ts, tick_id, stock_code, kind, tag, detail, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TS.UnixMilli(), e.TickID, e.StockCode, e.Kind, e.Tag, e.Detail, payload)
	if err != nil {
		return fmt.Errorf("%w: audit insert: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

// Recent 按时间倒序返回审计记录。
func (s *Store) Recent(ctx context.Context, q store.AuditQuery) ([]store.AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		where []string
		args  []any
	)
	if code := strings.TrimSpace(q.StockCode); code != "" {
		where = append(where, "stock_code = ?")
		args = append(args, code)
	}
	if kind := strings.TrimSpace(q.Kind); kind != "" {
		where = append(where, "kind = ?")
		args = append(args, kind)
	}
	query := `SELECT id, ts, tick_id, stock_code, kind, tag, detail, payload FROM aegis_signal_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: audit query: %v", store.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []store.AuditEntry
	for rows.Next() {
		var (
			e                   store.AuditEntry
			ts                  int64
			tickID, tag, detail sql.NullString
			payload             sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &tickID, &e.StockCode, &e.Kind, &tag, &detail, &payload); err != nil {
			return nil, err
		}
		e.TS = time.UnixMilli(ts)
		e.TickID, e.Tag, e.Detail = tickID.String, tag.String, detail.String
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
