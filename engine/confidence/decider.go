package confidence

import "fmt"

// Verdict is the escalation decision. It is advisory metadata for the
// caller; this subsystem never opens tickets or notifies anyone itself.
type Verdict struct {
	Escalated bool    `json:"escalated"`
	Threshold float64 `json:"threshold"`
	Reason    string  `json:"reason,omitempty"`
}

// Decide applies the escalation policy. A score at or above the threshold
// does not escalate; the boundary is inclusive on the passing side.
// Routing and upstream-error overrides escalate regardless of score.
func Decide(score, threshold float64, directEscalation bool, upstreamErr error) Verdict {
	switch {
	case directEscalation:
		return Verdict{
			Escalated: true,
			Threshold: threshold,
			Reason:    "query routed to direct escalation",
		}
	case upstreamErr != nil:
		return Verdict{
			Escalated: true,
			Threshold: threshold,
			Reason:    fmt.Sprintf("unrecovered pipeline error: %v", upstreamErr),
		}
	case score < threshold:
		return Verdict{
			Escalated: true,
			Threshold: threshold,
			Reason:    fmt.Sprintf("confidence %.2f below threshold %.2f", score, threshold),
		}
	default:
		return Verdict{Threshold: threshold}
	}
}
