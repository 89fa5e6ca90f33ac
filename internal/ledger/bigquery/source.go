package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/internal/ledger"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// DefaultTable 是公共以太坊数据集中的代币转账表。
const DefaultTable = "bigquery-public-data.crypto_ethereum.token_transfers"

var tablePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+){1,2}$`)

const queryTemplate = "SELECT block_timestamp, from_address, to_address, token_address, value, transaction_hash\n" +
	"FROM `%s`\n" +
	"WHERE token_address = LOWER(@token)\n" +
	"  AND (LOWER(from_address) = @wallet OR LOWER(to_address) = @wallet)\n" +
	"  AND block_timestamp >= @since\n" +
	"ORDER BY block_timestamp DESC\n" +
	"LIMIT @limit"

// Config 描述 BigQuery 数据源。
type Config struct {
	ProjectID string
	Table     string
}

// row 与查询列一一对应，value 在数据集中是 STRING。
type row struct {
	BlockTimestamp  time.Time `bigquery:"block_timestamp"`
	FromAddress     string    `bigquery:"from_address"`
	ToAddress       string    `bigquery:"to_address"`
	TokenAddress    string    `bigquery:"token_address"`
	Value           string    `bigquery:"value"`
	TransactionHash string    `bigquery:"transaction_hash"`
}

type rowIterator interface {
	Next(dst interface{}) error
}

type queryFunc func(ctx context.Context, sql string, params []bq.QueryParameter) (rowIterator, error)

// Source 通过一次参数化查询读取 USDC 转账记录。
type Source struct {
	client *bq.Client
	sql    string
	run    queryFunc
}

// NewSource 为指定项目创建 BigQuery 客户端。凭据由 Application Default Credentials 提供。
func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	if project == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 BigQuery 项目")
	}
	sql, err := buildQuery(cfg.Table)
	if err != nil {
		return nil, err
	}

	client, err := bq.NewClient(ctx, project)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 BigQuery 客户端失败")
	}

	s := &Source{client: client, sql: sql}
	s.run = func(ctx context.Context, sql string, params []bq.QueryParameter) (rowIterator, error) {
		q := client.Query(sql)
		q.Parameters = params
		return q.Read(ctx)
	}
	return s, nil
}

func buildQuery(table string) (string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultTable
	}
	if !tablePattern.MatchString(table) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "非法的 BigQuery 表名",
			xerrors.WithMetadata("table", table))
	}
	return fmt.Sprintf(queryTemplate, table), nil
}

// Close 释放底层客户端。
func (s *Source) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Transfers 执行查询并把结果行转换为 ledger.Transfer。
func (s *Source) Transfers(ctx context.Context, q ledger.Query) ([]ledger.Transfer, error) {
	if s == nil || s.run == nil {
		return nil, errors.New("BigQuery 数据源未初始化")
	}
	limit := q.Limit
	if limit <= 0 || limit > ledger.MaxResults {
		limit = ledger.MaxResults
	}

	params := []bq.QueryParameter{
		{Name: "token", Value: strings.ToLower(q.Token)},
		{Name: "wallet", Value: strings.ToLower(q.Wallet)},
		{Name: "since", Value: q.Since.UTC()},
		{Name: "limit", Value: int64(limit)},
	}
	it, err := s.run(ctx, s.sql, params)
	if err != nil {
		return nil, fmt.Errorf("执行 BigQuery 查询失败: %w", err)
	}
	return collect(it)
}

func collect(it rowIterator) ([]ledger.Transfer, error) {
	transfers := make([]ledger.Transfer, 0)
	for {
		var r row
		err := it.Next(&r)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取 BigQuery 结果失败: %w", err)
		}
		t, err := r.toTransfer()
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

func (r row) toTransfer() (ledger.Transfer, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(r.Value), 10)
	if !ok {
		return ledger.Transfer{}, fmt.Errorf("无法解析转账金额 %q (tx %s)", r.Value, r.TransactionHash)
	}
	return ledger.Transfer{
		BlockTimestamp:  r.BlockTimestamp.UTC(),
		FromAddress:     strings.ToLower(r.FromAddress),
		ToAddress:       strings.ToLower(r.ToAddress),
		TokenAddress:    strings.ToLower(r.TokenAddress),
		Value:           value,
		TransactionHash: r.TransactionHash,
	}, nil
}
