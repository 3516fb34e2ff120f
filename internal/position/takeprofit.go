package position

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/volkv/snipebot/internal/domain"
)

// takeProfitPrefix builds sell reasons like "take_profit_2" so the executed
// level can be recovered from the completed order.
const takeProfitPrefix = "take_profit_"

// TakeProfitPolicy scales out of winners along a fixed ladder. Each rung
// fires once; whatever the ladder never sells stays as the moonbag.
type TakeProfitPolicy struct {
	params ExitParams
}

// NewTakeProfitPolicy creates the policy.
func NewTakeProfitPolicy(params ExitParams) *TakeProfitPolicy {
	return &TakeProfitPolicy{params: params}
}

// Evaluate returns the lowest unhit rung whose target the position's PnL has
// reached. At most one rung fires per cycle; a fast runner hits the next
// rung on the next sweep.
func (t *TakeProfitPolicy) Evaluate(p domain.Position) (ExitDecision, bool) {
	for i, lvl := range t.params.TakeProfits {
		if i >= domain.TakeProfitLevels {
			break
		}
		if p.TakeProfitHits[i] {
			continue
		}
		if p.PnLPercent < lvl.TargetPercent {
			// Ladder is ascending; nothing further can be due.
			break
		}
		return ExitDecision{
			SellPercent: lvl.SellPercent,
			Urgency:     domain.UrgencyNormal,
			Reason:      fmt.Sprintf("%s%d", takeProfitPrefix, i),
			Level:       i,
		}, true
	}
	return ExitDecision{}, false
}

// TakeProfitLevelFromReason recovers the ladder index from a sell reason.
// Returns -1 for non-ladder reasons.
func TakeProfitLevelFromReason(reason string) int {
	if !strings.HasPrefix(reason, takeProfitPrefix) {
		return -1
	}
	lvl, err := strconv.Atoi(strings.TrimPrefix(reason, takeProfitPrefix))
	if err != nil || lvl < 0 || lvl >= domain.TakeProfitLevels {
		return -1
	}
	return lvl
}
