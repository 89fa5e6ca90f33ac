package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"
)

const (
	wallet     = "0x37305b1cd40574e4c5ce33f8e8306be057fd7341"
	otherToken = "0xdac17f958d2ee523a2206206994597c13d831ec7"
)

type stubSource struct {
	transfers []Transfer
	err       error
	got       Query
}

func (s *stubSource) Transfers(_ context.Context, q Query) ([]Transfer, error) {
	s.got = q
	return s.transfers, s.err
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func transfer(token string, from, to string, age time.Duration, value int64, hash string) Transfer {
	return Transfer{
		BlockTimestamp:  fixedNow().Add(-age),
		FromAddress:     from,
		ToAddress:       to,
		TokenAddress:    token,
		Value:           big.NewInt(value),
		TransactionHash: hash,
	}
}

func TestSelectFiltersTokenWalletAndWindow(t *testing.T) {
	q := Query{Wallet: wallet, Token: USDCContract, Since: fixedNow().Add(-DefaultWindow), Limit: MaxResults}
	input := []Transfer{
		transfer(USDCContract, wallet, "0xbeef", time.Hour, 1, "keep-old"),
		transfer(otherToken, wallet, "0xbeef", time.Minute, 2, "drop-token"),
		transfer(strings.ToUpper(USDCContract[2:]), "0xbeef", wallet, time.Minute, 3, "drop-malformed-token"),
		transfer(USDCContract, "0xbeef", strings.ToUpper(wallet), time.Minute, 4, "keep-new"),
		transfer(USDCContract, "0xbeef", "0xcafe", time.Minute, 5, "drop-wallet"),
		transfer(USDCContract, wallet, "0xcafe", 72*time.Hour, 6, "drop-window"),
	}

	got := Select(input, q)
	if len(got) != 2 {
		t.Fatalf("expected 2 transfers, got %d: %+v", len(got), got)
	}
	if got[0].TransactionHash != "keep-new" || got[1].TransactionHash != "keep-old" {
		t.Fatalf("unexpected order: %s, %s", got[0].TransactionHash, got[1].TransactionHash)
	}
}

func TestSelectCapsAndOrders(t *testing.T) {
	q := Query{Wallet: wallet, Token: USDCContract, Since: fixedNow().Add(-DefaultWindow), Limit: 500}
	input := make([]Transfer, 0, 250)
	for i := 0; i < 250; i++ {
		// Spread ages so the input is unsorted.
		age := time.Duration((i*37)%250) * time.Minute
		input = append(input, transfer(USDCContract, wallet, "0xbeef", age, int64(i), fmt.Sprintf("tx-%d", i)))
	}

	got := Select(input, q)
	if len(got) != MaxResults {
		t.Fatalf("expected %d transfers, got %d", MaxResults, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].BlockTimestamp.After(got[i-1].BlockTimestamp) {
			t.Fatalf("order violated at %d: %v after %v", i, got[i].BlockTimestamp, got[i-1].BlockTimestamp)
		}
	}
}

func TestNormalizeWallet(t *testing.T) {
	got, err := NormalizeWallet("  0x37305B1cD40574E4C5Ce33f8e8306Be057fD7341 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != wallet {
		t.Fatalf("unexpected wallet: %s", got)
	}

	if _, err := NormalizeWallet("0x123' OR 1=1 --"); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestFormatUSDC(t *testing.T) {
	cases := map[int64]string{
		1_500_000:     "1.50",
		0:             "0.00",
		1:             "0.00",
		12_345:        "0.01",
		15_000:        "0.02",
		25_000:        "0.03",
		2_000_000_000: "2000.00",
	}
	for value, want := range cases {
		if got := FormatUSDC(big.NewInt(value)); got != want {
			t.Fatalf("FormatUSDC(%d) = %s, want %s", value, got, want)
		}
	}
}

func TestServiceLatestWritesReport(t *testing.T) {
	source := &stubSource{transfers: []Transfer{
		transfer(USDCContract, wallet, "0xbeef", time.Hour, 1_500_000, "0xhash"),
		transfer(otherToken, wallet, "0xbeef", time.Hour, 9, "0xother"),
	}}
	var report bytes.Buffer
	svc := NewService(source, WithClock(fixedNow), WithReportWriter(&report))

	got, err := svc.Latest(context.Background(), strings.ToUpper(wallet[2:]))
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 1 || got[0].TransactionHash != "0xhash" {
		t.Fatalf("unexpected transfers: %+v", got)
	}
	if source.got.Wallet != wallet || source.got.Token != USDCContract || source.got.Limit != MaxResults {
		t.Fatalf("unexpected query: %+v", source.got)
	}
	if !source.got.Since.Equal(fixedNow().Add(-DefaultWindow)) {
		t.Fatalf("unexpected window start: %v", source.got.Since)
	}

	text := report.String()
	for _, want := range []string{"last 2 days", "Transaction Hash: 0xhash", "Value: 1.50 USDC", "Timestamp: 2025-06-01 11:00:00+00:00"} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "0xother") {
		t.Fatalf("report must not include filtered transfers")
	}
}

func TestServiceLatestPropagatesQueryFailure(t *testing.T) {
	cause := errors.New("bigquery: access denied")
	svc := NewService(&stubSource{err: cause}, WithReportWriter(nil))

	_, err := svc.Latest(context.Background(), wallet)
	if !errors.Is(err, cause) || !xerrors.IsCode(err, xerrors.CodeQueryFailure) {
		t.Fatalf("expected wrapped query failure, got %v", err)
	}
}
