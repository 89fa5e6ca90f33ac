package ledger

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// USDCContract is the mainnet USDC token contract, lowercase.
	USDCContract = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	// USDCDecimals is the number of base-unit decimals of USDC.
	USDCDecimals = 6
	// MaxResults bounds every lookup.
	MaxResults = 100
	// DefaultWindow is the trailing window applied to block timestamps.
	DefaultWindow = 48 * time.Hour
)

// Transfer is one ERC-20 token transfer row.
type Transfer struct {
	BlockTimestamp  time.Time `json:"block_timestamp"`
	FromAddress     string    `json:"from_address"`
	ToAddress       string    `json:"to_address"`
	TokenAddress    string    `json:"token_address"`
	Value           *big.Int  `json:"value"`
	TransactionHash string    `json:"transaction_hash"`
}

// Query selects the transfers of a single wallet for a single token.
type Query struct {
	Wallet string
	Token  string
	Since  time.Time
	Limit  int
}

// Source fetches raw transfers. Implementations may return more than the
// query asks for; Select narrows the result.
type Source interface {
	Transfers(ctx context.Context, q Query) ([]Transfer, error)
}

// NormalizeWallet trims and lowercases a hex wallet address.
func NormalizeWallet(raw string) (string, error) {
	wallet := strings.TrimSpace(raw)
	if !common.IsHexAddress(wallet) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "invalid wallet address",
			xerrors.WithMetadata("wallet_id", raw))
	}
	if !strings.HasPrefix(wallet, "0x") && !strings.HasPrefix(wallet, "0X") {
		wallet = "0x" + wallet
	}
	return strings.ToLower(wallet), nil
}

// Matches reports whether t belongs to the result set of q.
func (q Query) Matches(t Transfer) bool {
	if !strings.EqualFold(t.TokenAddress, q.Token) {
		return false
	}
	if !strings.EqualFold(t.FromAddress, q.Wallet) && !strings.EqualFold(t.ToAddress, q.Wallet) {
		return false
	}
	return !t.BlockTimestamp.Before(q.Since)
}

// Select keeps the matching transfers, newest first, capped at the query
// limit and never above MaxResults.
func Select(transfers []Transfer, q Query) []Transfer {
	limit := q.Limit
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}

	selected := make([]Transfer, 0, len(transfers))
	for _, t := range transfers {
		if q.Matches(t) {
			selected = append(selected, t)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].BlockTimestamp.After(selected[j].BlockTimestamp)
	})
	if len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}
