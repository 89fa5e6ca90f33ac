package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"

	// 注册 MySQL 驱动。
	_ "github.com/go-sql-driver/mysql"
)

// SQLRepository 把运行记录写入 MySQL 的 triage_runs 表。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 建立连接池并执行内置迁移。
func NewSQLRepository(ctx context.Context, dsn string) (*SQLRepository, error) {
	db, err := openDatabase(ctx, dsn)
	if err != nil {
		return nil, err
	}
	repo, err := newSQLRepository(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func newSQLRepository(ctx context.Context, db *sql.DB) (*SQLRepository, error) {
	repo := &SQLRepository{db: db}
	if err := runMigrations(ctx, db); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化运行记录表失败")
	}
	return repo, nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 MySQL 失败")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

// Save 写入一条运行记录。
func (s *SQLRepository) Save(ctx context.Context, record Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO triage_runs
        (id, trace_id, query, route, agent, output, error, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.TraceID, record.Query, record.Route, record.Agent,
		record.Output, record.Error, record.DurationMS, record.CreatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行记录失败",
			xerrors.WithMetadata("id", record.ID))
	}
	return nil
}

// ListLatest 按创建时间倒序返回最近的记录。
func (s *SQLRepository) ListLatest(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, trace_id, query, route, agent, output, error, duration_ms, created_at
        FROM triage_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行记录失败")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.TraceID, &r.Query, &r.Route, &r.Agent, &r.Output, &r.Error, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析运行记录失败")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历运行记录失败")
	}
	return records, nil
}

// Close 关闭连接池。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
