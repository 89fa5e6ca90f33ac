// Package toolserver 通过 MCP SSE 传输对外暴露交易查询工具。
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/internal/ledger"
	"OpenMCP-Triage/internal/observability/metrics"
	"OpenMCP-Triage/pkg/logger"

	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

// ToolName 是对外注册的工具名称。
const ToolName = "get_latest_transactions"

// Lookup 抽象交易查询服务，便于测试替换。
type Lookup interface {
	Latest(ctx context.Context, walletID string) ([]ledger.Transfer, error)
}

// Config 描述 SSE 服务的监听参数。
type Config struct {
	Name        string
	Version     string
	Address     string
	SSEPath     string
	MessagePath string
}

// Server 负责注册工具并驱动 SSE 服务的生命周期。
type Server struct {
	cfg    Config
	lookup Lookup
	sse    *mcp.SSEServer
	logger *slog.Logger
}

// TransferView 是工具结果中单条转账的 JSON 形态，金额保持为十进制字符串。
type TransferView struct {
	BlockTimestamp  string `json:"block_timestamp"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	TokenAddress    string `json:"token_address"`
	Value           string `json:"value"`
	TransactionHash string `json:"transaction_hash"`
}

// New 构造工具服务并注册 get_latest_transactions。
func New(cfg Config, lookup Lookup) *Server {
	if cfg.Name == "" {
		cfg.Name = "usdc-transactions"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.Address == "" {
		cfg.Address = "localhost:8000"
	}
	if cfg.SSEPath == "" {
		cfg.SSEPath = "/sse"
	}
	if cfg.MessagePath == "" {
		cfg.MessagePath = "/messages"
	}

	s := &Server{
		cfg:    cfg,
		lookup: lookup,
		logger: logger.Named("toolserver"),
	}
	s.sse = mcp.NewSSEServer(cfg.Name, cfg.Version,
		mcp.WithSSEEndpoint(cfg.SSEPath),
		mcp.WithMessageEndpoint(cfg.MessagePath),
	)
	s.sse.RegisterTool(Tool(), s.HandleGetLatestTransactions)
	return s
}

// Tool 返回工具的声明，wallet_id 为必填字符串。
func Tool() *mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription("Get all the latest USDC transactions for a given Ethereum wallet address."),
		mcp.WithString("wallet_id",
			mcp.Description("The Ethereum wallet address to query"),
			mcp.Required(),
		),
	)
}

// HandleGetLatestTransactions 处理一次工具调用。参数错误以工具错误结果返回，查询错误直接上抛。
func (s *Server) HandleGetLatestTransactions(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	walletID, _ := req.Params.Arguments["wallet_id"].(string)
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		metrics.ObserveToolCall(ToolName, 0, time.Since(started), xerrors.New(xerrors.CodeInvalidArgument, "missing wallet_id"))
		return mcp.NewErrorResult("wallet_id parameter is required and must be a string"), nil
	}

	transfers, err := s.lookup.Latest(ctx, walletID)
	metrics.ObserveToolCall(ToolName, len(transfers), time.Since(started), err)
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
			s.logger.Warn("工具参数非法", slog.String("wallet_id", walletID), slog.Any("error", err))
			return mcp.NewErrorResult(err.Error()), nil
		}
		s.logger.Error("交易查询失败", slog.String("wallet_id", walletID), slog.Any("error", err))
		return nil, err
	}

	payload, err := json.Marshal(Views(transfers))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolFailure, err, "序列化查询结果失败")
	}
	s.logger.Info("工具调用完成",
		slog.String("wallet_id", walletID),
		slog.Int("records", len(transfers)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return mcp.NewTextResult(string(payload)), nil
}

// Views 把转账记录转换为结果中的 JSON 形态。
func Views(transfers []ledger.Transfer) []TransferView {
	views := make([]TransferView, 0, len(transfers))
	for _, t := range transfers {
		value := "0"
		if t.Value != nil {
			value = t.Value.String()
		}
		views = append(views, TransferView{
			BlockTimestamp:  t.BlockTimestamp.UTC().Format(time.RFC3339),
			FromAddress:     t.FromAddress,
			ToAddress:       t.ToAddress,
			TokenAddress:    t.TokenAddress,
			Value:           value,
			TransactionHash: t.TransactionHash,
		})
	}
	return views
}

// URL 返回客户端连接使用的 SSE 地址。
func (s *Server) URL() string {
	return "http://" + s.cfg.Address + s.cfg.SSEPath
}

// Start 启动 SSE 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s.lookup == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "交易查询服务未配置")
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.sse.Start(s.cfg.Address); err != nil && !isServerClosed(err) {
			errCh <- err
		}
	}()
	s.logger.Info("MCP SSE 服务已启动",
		slog.String("address", s.cfg.Address),
		slog.String("sse_path", s.cfg.SSEPath),
		slog.String("message_path", s.cfg.MessagePath),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sse.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("关闭 SSE 服务失败", slog.Any("error", err))
		}
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "SSE 服务异常退出")
	}
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
