package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/executor"
	"github.com/alanyoungcy/polyarb/internal/risk"
)

// BreakerTrip formats a breaker trip.
func BreakerTrip(st risk.Status) (title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Reason: %s\n", st.TripReason)
	if st.TripDetail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", st.TripDetail)
	}
	fmt.Fprintf(&b, "Daily loss: $%.2f\n", float64(st.DailyLossCents)/100)
	fmt.Fprintf(&b, "Open contracts: %d\n", st.TotalPosition)
	if !st.CooldownUntil.IsZero() {
		fmt.Fprintf(&b, "Cooldown until: %s", st.CooldownUntil.UTC().Format("15:04:05 MST"))
	} else {
		b.WriteString("Halted until manual reset")
	}
	return "Circuit breaker tripped", b.String()
}

// UnwindFailed formats an unwind that left exposure behind.
func UnwindFailed(pairID string, side domain.Side, remaining int, err error) (title, message string) {
	msg := fmt.Sprintf("Pair: %s\nSide: %s\nUnsold contracts: %d", pairID, strings.ToUpper(side.String()), remaining)
	if err != nil {
		msg += "\nError: " + err.Error()
	}
	return "Unwind failed, manual action needed", msg
}

// ArbExecuted formats a completed execution.
func ArbExecuted(desc string, res executor.Result) (title, message string) {
	return "Arb executed", fmt.Sprintf("%s\nContracts: %d\nProfit: $%.2f\nLatency: %s",
		desc, res.Matched, float64(res.ProfitCents)/100, res.Latency)
}
