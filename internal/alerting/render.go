package alerting

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/perchlabs-io/balance-bot/internal/feed"
)

const addressPrefixLen = 10

// FormatADA renders an amount with two decimals and comma-grouped thousands.
func FormatADA(d decimal.Decimal) string {
	return groupThousands(d.StringFixed(2))
}

// FormatGrouped renders a decimal with comma-grouped thousands, keeping the
// decimal's own precision.
func FormatGrouped(d decimal.Decimal) string {
	return groupThousands(d.String())
}

func groupThousands(fixed string) string {
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac, hasFrac := strings.Cut(fixed, ".")

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return sign + fixed
	}
	out := sign + humanize.Comma(whole)
	if hasFrac {
		out += "." + frac
	}
	return out
}

func shortAddress(addr string) string {
	if len(addr) <= addressPrefixLen {
		return addr
	}
	return addr[:addressPrefixLen]
}

// RenderBlocks announces a new forged-block count for an epoch.
func RenderBlocks(row feed.BlockRow, slotsAssigned int) string {
	return fmt.Sprintf("⚒️   %d / %d  blocks forged for epoch  %d", row.Forged, slotsAssigned, row.Epoch)
}

// RenderDeparture announces a delegator leaving the pool.
func RenderDeparture(d feed.AddressDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌   %s ₳  Delegation Departing   🙏\n", FormatADA(d.ADAValue))
	fmt.Fprintf(&b, "    ▫️  Stake Address  %s\n", shortAddress(d.StakeAddress))
	fmt.Fprintf(&b, "    ▫️  To  %s", d.ToPool)
	return b.String()
}

// RenderArrival announces a delegator joining the pool, naming the previous
// pool for re-delegations.
func RenderArrival(d feed.AddressDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅   %s ₳  Delegation Arriving   👏\n", FormatADA(d.ADAValue))
	fmt.Fprintf(&b, "    ▫️  Stake Address  %s", shortAddress(d.StakeAddress))
	if d.FromPool != "" {
		fmt.Fprintf(&b, "\n    ▫️  From  %s", d.FromPool)
	}
	return b.String()
}

// RenderStakeMove announces a live stake change. The arrow carries the sign.
func RenderStakeMove(change decimal.Decimal) string {
	if change.Sign() < 0 {
		return fmt.Sprintf("❌   Live Stake   ⬇️   %s ₳", FormatADA(change.Abs()))
	}
	return fmt.Sprintf("✅   Live Stake   ⬆️   %s ₳", FormatADA(change))
}

// PoolStats is the ad-hoc statistics answer to the status command.
type PoolStats struct {
	LiveStake      decimal.Decimal
	LiveSaturation decimal.Decimal
	DelegatorCount int64
}

// RenderPoolStats formats pool statistics for chat.
func RenderPoolStats(s PoolStats) string {
	var b strings.Builder
	b.WriteString("⚖️    BALNC Pool Statistics   🧐\n")
	fmt.Fprintf(&b, "    ▫️  Stake            %s ₳\n", FormatGrouped(s.LiveStake))
	fmt.Fprintf(&b, "    ▫️  Saturation    %s %%\n", FormatGrouped(s.LiveSaturation))
	fmt.Fprintf(&b, "    ▫️  Delegates     %d", s.DelegatorCount)
	return b.String()
}
