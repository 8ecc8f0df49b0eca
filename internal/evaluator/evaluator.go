// Package evaluator holds the pure decision logic of the alert engine: given
// one observation and the Active alerts matching its series key, decide which
// alerts fire. It never mutates anything and never fails; persistence and
// concurrency live in the ingestion pipeline and registry.
package evaluator

import "mandiwatch/internal/model"

// Decision is the outcome for a single alert. Every decision advances the
// alert's cursor to the observation's seq; Triggered additionally moves the
// alert to the Triggered state.
type Decision struct {
	Alert     *model.Alert
	Triggered bool
}

// Evaluate applies the direction/target predicate to each matching alert.
// Alerts already evaluated at or past the observation (per-market cursor) are
// skipped entirely, so replays and out-of-order deliveries are no-ops. The
// target boundary is inclusive.
func Evaluate(obs model.Observation, alerts []*model.Alert) []Decision {
	if len(alerts) == 0 {
		return nil
	}

	key := obs.Key()
	decisions := make([]Decision, 0, len(alerts))
	for _, alert := range alerts {
		if alert == nil || alert.State != model.StateActive || !alert.Matches(key) {
			continue
		}
		if obs.Seq <= alert.Cursor(key.Market) {
			continue
		}
		decisions = append(decisions, Decision{
			Alert:     alert,
			Triggered: alert.Direction.Satisfied(obs.Price, alert.Target),
		})
	}
	return decisions
}
