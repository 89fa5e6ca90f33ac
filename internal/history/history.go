// Package history 持久化每次路由执行的结果，支持 JSON 行文件与 MySQL。
package history

import (
	"context"
	"fmt"
	"strings"

	"OpenMCP-Triage/internal/config"
	xerrors "OpenMCP-Triage/internal/errors"
)

// Record 表示一次查询的路由与执行结果。
type Record struct {
	ID         string `json:"id"`
	TraceID    string `json:"trace_id,omitempty"`
	Query      string `json:"query"`
	Route      string `json:"route"`
	Agent      string `json:"agent"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  int64  `json:"created_at"`
}

// Repository 抽象运行记录的持久化接口。
type Repository interface {
	Save(ctx context.Context, record Record) error
	ListLatest(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// New 根据配置创建仓库。driver 为 none 时返回 nil，表示不记录。
func New(ctx context.Context, cfg config.HistoryConfig, dataDir string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "file":
		repo, err := NewFileRepository(dataDir)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "mysql":
		repo, err := NewSQLRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的历史存储驱动: %s", cfg.Driver))
	}
}
