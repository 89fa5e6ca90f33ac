package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/internal/ledger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// TransferTopic is the ERC-20 Transfer(address,address,uint256) event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Config describes how to reach an EVM node and how wide each log scan may be.
type Config struct {
	RPCURL        string
	BlockTime     time.Duration
	MaxBlockRange uint64
}

// chainReader mirrors the subset of ethclient used by the source.
type chainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error)
}

// Source reads USDC transfers straight from Transfer event logs.
type Source struct {
	rpcClient  *gethrpc.Client
	eth        *ethclient.Client
	reader     chainReader
	blockTime  time.Duration
	blockRange uint64

	mu      sync.Mutex
	headers map[uint64]time.Time
}

// NewSource dials the configured RPC endpoint.
func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败")
	}
	eth := ethclient.NewClient(rpcClient)
	s := newSource(eth, cfg)
	s.rpcClient = rpcClient
	s.eth = eth
	return s, nil
}

func newSource(reader chainReader, cfg Config) *Source {
	s := &Source{
		reader:     reader,
		blockTime:  cfg.BlockTime,
		blockRange: cfg.MaxBlockRange,
		headers:    make(map[uint64]time.Time),
	}
	if s.blockTime <= 0 {
		s.blockTime = 12 * time.Second
	}
	if s.blockRange == 0 {
		s.blockRange = 2000
	}
	return s
}

// Close releases network connections held by the source.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eth != nil {
		s.eth.Close()
		s.eth = nil
	}
	s.rpcClient = nil
}

// Transfers scans the estimated block range of the window, newest chunk first,
// and stops once the limit is reached.
func (s *Source) Transfers(ctx context.Context, q ledger.Query) ([]ledger.Transfer, error) {
	if s == nil || s.reader == nil {
		return nil, errors.New("未初始化的以太坊数据源")
	}
	if !common.IsHexAddress(q.Wallet) || !common.IsHexAddress(q.Token) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "钱包或代币地址非法")
	}
	limit := q.Limit
	if limit <= 0 || limit > ledger.MaxResults {
		limit = ledger.MaxResults
	}

	head, err := s.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块失败: %w", err)
	}
	latest := head.Number.Uint64()
	s.remember(latest, head.Time)
	earliest := s.estimateStart(latest, time.Unix(int64(head.Time), 0), q.Since)

	token := common.HexToAddress(q.Token)
	walletTopic := common.BytesToHash(common.HexToAddress(q.Wallet).Bytes())

	seen := make(map[string]struct{})
	transfers := make([]ledger.Transfer, 0)
	for to := latest; ; {
		from := earliest
		if to-earliest+1 > s.blockRange {
			from = to - s.blockRange + 1
		}

		logs, err := s.scan(ctx, token, walletTopic, from, to)
		if err != nil {
			return nil, err
		}
		for _, lg := range logs {
			key := fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			t, ok, err := s.decode(ctx, lg)
			if err != nil {
				return nil, err
			}
			if ok && !t.BlockTimestamp.Before(q.Since) {
				transfers = append(transfers, t)
			}
		}

		if len(transfers) >= limit || from == earliest {
			break
		}
		to = from - 1
	}
	return transfers, nil
}

func (s *Source) estimateStart(latest uint64, headTime, since time.Time) uint64 {
	span := headTime.Sub(since)
	if span <= 0 {
		return latest
	}
	blocks := uint64(span/s.blockTime) + 1
	blocks += blocks / 10
	if blocks > latest {
		return 0
	}
	return latest - blocks
}

func (s *Source) scan(ctx context.Context, token common.Address, wallet common.Hash, from, to uint64) ([]coretypes.Log, error) {
	queries := []gethcore.FilterQuery{
		{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{token},
			Topics:    [][]common.Hash{{TransferTopic}, {wallet}},
		},
		{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{token},
			Topics:    [][]common.Hash{{TransferTopic}, nil, {wallet}},
		},
	}

	var logs []coretypes.Log
	for _, fq := range queries {
		batch, err := s.reader.FilterLogs(ctx, fq)
		if err != nil {
			return nil, fmt.Errorf("查询转账日志失败 [%d, %d]: %w", from, to, err)
		}
		logs = append(logs, batch...)
	}
	return logs, nil
}

func (s *Source) decode(ctx context.Context, lg coretypes.Log) (ledger.Transfer, bool, error) {
	if lg.Removed || len(lg.Topics) < 3 || lg.Topics[0] != TransferTopic {
		return ledger.Transfer{}, false, nil
	}
	ts, err := s.blockTimestamp(ctx, lg.BlockNumber)
	if err != nil {
		return ledger.Transfer{}, false, err
	}
	return ledger.Transfer{
		BlockTimestamp:  ts,
		FromAddress:     strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
		ToAddress:       strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
		TokenAddress:    strings.ToLower(lg.Address.Hex()),
		Value:           new(big.Int).SetBytes(lg.Data),
		TransactionHash: lg.TxHash.Hex(),
	}, true, nil
}

func (s *Source) blockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	s.mu.Lock()
	ts, ok := s.headers[number]
	s.mu.Unlock()
	if ok {
		return ts, nil
	}

	header, err := s.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("获取区块 %d 失败: %w", number, err)
	}
	return s.remember(number, header.Time), nil
}

func (s *Source) remember(number, unix uint64) time.Time {
	ts := time.Unix(int64(unix), 0).UTC()
	s.mu.Lock()
	s.headers[number] = ts
	s.mu.Unlock()
	return ts
}
