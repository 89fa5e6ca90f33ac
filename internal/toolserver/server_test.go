package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

type fakeLookup struct {
	transfers []ledger.Transfer
	err       error
	calls     []string
}

func (f *fakeLookup) Latest(_ context.Context, walletID string) ([]ledger.Transfer, error) {
	f.calls = append(f.calls, walletID)
	return f.transfers, f.err
}

func callRequest(args map[string]interface{}) *mcp.CallToolRequest {
	req := &mcp.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestHandleReturnsTransfersAsJSON(t *testing.T) {
	lookup := &fakeLookup{transfers: []ledger.Transfer{{
		BlockTimestamp:  time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		FromAddress:     "0x37305b1cd40574e4c5ce33f8e8306be057fd7341",
		ToAddress:       "0xbeef",
		TokenAddress:    ledger.USDCContract,
		Value:           big.NewInt(1_500_000),
		TransactionHash: "0xhash",
	}}}
	srv := New(Config{}, lookup)

	res, err := srv.HandleGetLatestTransactions(context.Background(), callRequest(map[string]interface{}{
		"wallet_id": " 0x37305b1cd40574e4c5ce33f8e8306be057fd7341 ",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"0x37305b1cd40574e4c5ce33f8e8306be057fd7341"}, lookup.calls)

	var views []TransferView
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "1500000", views[0].Value)
	assert.Equal(t, "2025-06-01T11:00:00Z", views[0].BlockTimestamp)
	assert.Equal(t, "0xhash", views[0].TransactionHash)
}

func TestHandleEmptyResultIsEmptyArray(t *testing.T) {
	srv := New(Config{}, &fakeLookup{})
	res, err := srv.HandleGetLatestTransactions(context.Background(), callRequest(map[string]interface{}{"wallet_id": "0x37305b1cd40574e4c5ce33f8e8306be057fd7341"}))
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, res))
}

func TestHandleRejectsMissingWallet(t *testing.T) {
	lookup := &fakeLookup{}
	srv := New(Config{}, lookup)

	res, err := srv.HandleGetLatestTransactions(context.Background(), callRequest(map[string]interface{}{"wallet_id": 42}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, lookup.calls)
}

func TestHandleInvalidWalletIsToolError(t *testing.T) {
	srv := New(Config{}, &fakeLookup{err: xerrors.New(xerrors.CodeInvalidArgument, "invalid wallet address")})

	res, err := srv.HandleGetLatestTransactions(context.Background(), callRequest(map[string]interface{}{"wallet_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandlePropagatesQueryFailure(t *testing.T) {
	cause := xerrors.Wrap(xerrors.CodeQueryFailure, errors.New("permission denied"), "查询 USDC 转账失败")
	srv := New(Config{}, &fakeLookup{err: cause})

	res, err := srv.HandleGetLatestTransactions(context.Background(), callRequest(map[string]interface{}{"wallet_id": "0x37305b1cd40574e4c5ce33f8e8306be057fd7341"}))
	assert.Nil(t, res)
	assert.True(t, xerrors.IsCode(err, xerrors.CodeQueryFailure))
}

func TestToolDeclaration(t *testing.T) {
	tool := Tool()
	assert.Equal(t, ToolName, tool.Name)
	assert.NotEmpty(t, tool.Description)
}

func TestServerURL(t *testing.T) {
	srv := New(Config{Address: "127.0.0.1:9000"}, &fakeLookup{})
	assert.Equal(t, "http://127.0.0.1:9000/sse", srv.URL())
}
