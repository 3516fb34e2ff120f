package position

import (
	"testing"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

func TestStopLossBreach(t *testing.T) {
	policy := NewStopLossPolicy(testExitParams())
	now := time.Now()

	cases := []struct {
		name       string
		pos        domain.Position
		wantExit   bool
		wantReason string
		wantUrg    domain.Urgency
	}{
		{
			name: "hard stop breach",
			pos: domain.Position{
				CurrentPrice:  74,
				StopLossPrice: 75,
				EntryTime:     now.Add(-time.Minute),
			},
			wantExit:   true,
			wantReason: "stop_loss",
			wantUrg:    domain.UrgencyUrgent,
		},
		{
			name: "trailing stop breach reports trailing reason",
			pos: domain.Position{
				CurrentPrice:   140,
				StopLossPrice:  140.8,
				TrailingActive: true,
				EntryTime:      now.Add(-time.Minute),
			},
			wantExit:   true,
			wantReason: "trailing_stop",
			wantUrg:    domain.UrgencyUrgent,
		},
		{
			name: "above stop holds",
			pos: domain.Position{
				CurrentPrice:  80,
				StopLossPrice: 75,
				EntryTime:     now.Add(-time.Minute),
			},
		},
		{
			name: "no price sample yet",
			pos: domain.Position{
				CurrentPrice:  0,
				StopLossPrice: 75,
				EntryTime:     now.Add(-time.Minute),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec, ok := policy.Evaluate(tc.pos, now)
			if ok != tc.wantExit {
				t.Fatalf("exit = %v, want %v", ok, tc.wantExit)
			}
			if !ok {
				return
			}
			if dec.Reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", dec.Reason, tc.wantReason)
			}
			if dec.Urgency != tc.wantUrg {
				t.Fatalf("urgency = %v, want %v", dec.Urgency, tc.wantUrg)
			}
			if dec.SellPercent != 100 {
				t.Fatalf("sell pct = %v, want 100", dec.SellPercent)
			}
		})
	}
}

func TestTimeStopFlatWindow(t *testing.T) {
	policy := NewStopLossPolicy(testExitParams())
	now := time.Now()

	cases := []struct {
		name     string
		age      time.Duration
		pnl      float64
		wantExit bool
	}{
		{"flat and old", 4 * time.Hour, 3, true},
		{"flat lower edge", 5 * time.Hour, -5, true},
		{"flat upper edge", 5 * time.Hour, 10, true},
		{"winning and old", 5 * time.Hour, 15, false},
		{"losing and old", 5 * time.Hour, -8, false},
		{"flat but young", time.Hour, 3, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := domain.Position{
				CurrentPrice:  100,
				StopLossPrice: 75,
				EntryTime:     now.Add(-tc.age),
				PnLPercent:    tc.pnl,
			}
			dec, ok := policy.Evaluate(pos, now)
			if ok != tc.wantExit {
				t.Fatalf("exit = %v, want %v", ok, tc.wantExit)
			}
			if ok {
				if dec.Reason != "time_stop" {
					t.Fatalf("reason = %q, want time_stop", dec.Reason)
				}
				if dec.Urgency != domain.UrgencyNormal {
					t.Fatalf("urgency = %v, want normal", dec.Urgency)
				}
			}
		})
	}
}

func TestTakeProfitLadderFiresLowestUnhitRung(t *testing.T) {
	policy := NewTakeProfitPolicy(testExitParams())

	pos := domain.Position{PnLPercent: 65}

	dec, ok := policy.Evaluate(pos)
	if !ok {
		t.Fatal("expected rung 0 to fire at +65%")
	}
	if dec.Level != 0 || dec.SellPercent != 20 || dec.Reason != "take_profit_0" {
		t.Fatalf("got level=%d pct=%v reason=%q", dec.Level, dec.SellPercent, dec.Reason)
	}

	// With rung 0 hit, the next sweep fires rung 1 for the same price.
	pos.TakeProfitHits[0] = true
	dec, ok = policy.Evaluate(pos)
	if !ok || dec.Level != 1 || dec.SellPercent != 25 {
		t.Fatalf("got ok=%v level=%d pct=%v, want rung 1 at 25%%", ok, dec.Level, dec.SellPercent)
	}

	// Rung 2 targets +100%; at +65% nothing further is due.
	pos.TakeProfitHits[1] = true
	if _, ok := policy.Evaluate(pos); ok {
		t.Fatal("rung above current PnL fired")
	}
}

func TestTakeProfitLadderIsOneShot(t *testing.T) {
	policy := NewTakeProfitPolicy(testExitParams())

	pos := domain.Position{PnLPercent: 250}
	var total float64
	for i := 0; i < 10; i++ {
		dec, ok := policy.Evaluate(pos)
		if !ok {
			break
		}
		total += dec.SellPercent
		pos.TakeProfitHits[dec.Level] = true
	}

	// All four rungs fire exactly once: 20+25+25+20 leaves a 10% moonbag.
	if total != 90 {
		t.Fatalf("ladder sold %v%% of entry, want 90", total)
	}
	if _, ok := policy.Evaluate(pos); ok {
		t.Fatal("exhausted ladder fired again")
	}
}

func TestTakeProfitLevelFromReason(t *testing.T) {
	cases := []struct {
		reason string
		want   int
	}{
		{"take_profit_0", 0},
		{"take_profit_3", 3},
		{"take_profit_4", -1},
		{"take_profit_x", -1},
		{"stop_loss", -1},
		{"", -1},
	}
	for _, tc := range cases {
		if got := TakeProfitLevelFromReason(tc.reason); got != tc.want {
			t.Errorf("TakeProfitLevelFromReason(%q) = %d, want %d", tc.reason, got, tc.want)
		}
	}
}
