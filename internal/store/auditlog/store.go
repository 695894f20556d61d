// Package auditlog 把每一条收到的信号及其处理结果写入 SQLite，便于事后排查。
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"betexec/internal/pkg/text"
	"betexec/internal/signal"

	_ "modernc.org/sqlite"
)

// Store 信号审计日志。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Record 查询返回的一行。
type Record struct {
	ID          int64     `json:"id"`
	ReceivedAt  time.Time `json:"received_at"`
	Channel     string    `json:"channel"`
	Kind        string    `json:"kind"`
	SignalID    string    `json:"signal_id"`
	MarketID    string    `json:"market_id"`
	Disposition string    `json:"disposition"`
	Reason      string    `json:"reason,omitempty"`
	Orders      int       `json:"orders"`
	Payload     string    `json:"payload,omitempty"`
}

// Query 用于筛选审计日志。
type Query struct {
	Disposition string
	Kind        string
	MarketID    string
	Since       time.Time
	Limit       int
	Offset      int
}

// NewStore 初始化 SQLite 存储。
func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("audit log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close 关闭底层 DB。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("audit log store 未初始化")
	}
	return s.db, nil
}

// 超长原始报文只保留前缀。
const (
	maxPayloadBytes = 8 << 10
	maxReasonBytes  = 512
)

// RecordSignal 写入一条审计记录。
func (s *Store) RecordSignal(ctx context.Context, e signal.AuditEntry) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	ts := e.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO signal_audit
			(ts, channel, kind, signal_id, market_id, disposition, reason, orders, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(), e.Channel, e.Kind, e.SignalID, e.MarketID,
		string(e.Disposition), text.Truncate(e.Reason, maxReasonBytes), e.Orders,
		text.Truncate(e.Payload, maxPayloadBytes), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert signal audit: %w", err)
	}
	return nil
}

// List 按时间倒序返回审计记录。
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	var (
		conds []string
		args  []any
	)
	if q.Disposition != "" {
		conds = append(conds, "disposition = ?")
		args = append(args, q.Disposition)
	}
	if q.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.MarketID != "" {
		conds = append(conds, "market_id = ?")
		args = append(args, q.MarketID)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	query := `SELECT id, ts, channel, kind, signal_id, market_id, disposition, reason, orders, payload FROM signal_audit`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r  Record
			ts int64
		)
		if err := rows.Scan(&r.ID, &ts, &r.Channel, &r.Kind, &r.SignalID, &r.MarketID, &r.Disposition, &r.Reason, &r.Orders, &r.Payload); err != nil {
			return nil, err
		}
		r.ReceivedAt = time.UnixMilli(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByDisposition 统计 since 之后各处理结果的数量。
func (s *Store) CountByDisposition(ctx context.Context, since time.Time) (map[string]int64, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT disposition, COUNT(1) FROM signal_audit WHERE ts >= ? GROUP BY disposition`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			d string
			n int64
		)
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		out[d] = n
	}
	return out, rows.Err()
}

// Prune 删除 before 之前的记录，返回删除行数。
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM signal_audit WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ signal.AuditSink = (*Store)(nil)
