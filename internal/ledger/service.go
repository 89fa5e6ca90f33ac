package ledger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/pkg/logger"
)

// Service answers "latest USDC transfers for a wallet" lookups.
type Service struct {
	source Source
	window time.Duration
	limit  int
	report io.Writer
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWindow overrides the trailing timestamp window.
func WithWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithLimit overrides the result cap; values above MaxResults are ignored.
func WithLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 && limit <= MaxResults {
			s.limit = limit
		}
	}
}

// WithReportWriter redirects the textual report. A nil writer disables it.
func WithReportWriter(w io.Writer) Option {
	return func(s *Service) {
		s.report = w
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wraps a transfer source.
func NewService(source Source, opts ...Option) *Service {
	s := &Service{
		source: source,
		window: DefaultWindow,
		limit:  MaxResults,
		report: os.Stdout,
		now:    time.Now,
		logger: logger.Named("ledger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Window returns the trailing window the service applies.
func (s *Service) Window() time.Duration {
	return s.window
}

// Latest returns up to the configured limit of USDC transfers sent or
// received by the wallet inside the trailing window, newest first.
func (s *Service) Latest(ctx context.Context, walletID string) ([]Transfer, error) {
	if s.source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "transfer source not configured")
	}
	wallet, err := NormalizeWallet(walletID)
	if err != nil {
		return nil, err
	}

	q := Query{
		Wallet: wallet,
		Token:  USDCContract,
		Since:  s.now().Add(-s.window),
		Limit:  s.limit,
	}
	raw, err := s.source.Transfers(ctx, q)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueryFailure, err, "查询 USDC 转账失败",
			xerrors.WithMetadata("wallet", wallet))
	}

	transfers := Select(raw, q)
	if len(raw) != len(transfers) {
		s.logger.Debug("数据源返回了窗口外或无关的记录",
			slog.Int("raw", len(raw)), slog.Int("kept", len(transfers)))
	}

	if s.report != nil {
		if err := WriteReport(s.report, transfers, s.window); err != nil {
			s.logger.Warn("写出交易报告失败", slog.Any("error", err))
		}
	}
	return transfers, nil
}
