package ledger

import (
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var rule = strings.Repeat("-", 80)

// FormatUSDC renders a base-unit amount as a two-decimal USDC figure.
// Exact half cents round away from zero: 15000 base units is "0.02".
func FormatUSDC(value *big.Int) string {
	if value == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(value, -USDCDecimals).StringFixed(2)
}

// WriteReport prints a human-readable summary of the transfers.
func WriteReport(w io.Writer, transfers []Transfer, window time.Duration) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\nRecent USDC Transactions (last %s):\n", describeWindow(window))
	b.WriteString(rule + "\n")
	for _, tx := range transfers {
		fmt.Fprintf(&b, "Transaction Hash: %s\n", tx.TransactionHash)
		fmt.Fprintf(&b, "From: %s\n", tx.FromAddress)
		fmt.Fprintf(&b, "To: %s\n", tx.ToAddress)
		fmt.Fprintf(&b, "Value: %s USDC\n", FormatUSDC(tx.Value))
		fmt.Fprintf(&b, "Timestamp: %s\n", tx.BlockTimestamp.UTC().Format("2006-01-02 15:04:05-07:00"))
		b.WriteString(rule + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func describeWindow(window time.Duration) string {
	if window <= 0 {
		window = DefaultWindow
	}
	if window%(24*time.Hour) == 0 {
		days := int(window / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return window.String()
}
