package saga

import (
	"fmt"

	"fundswap/pkg/types"
)

// Step is a position in a transfer. Steps only move forward.
type Step int

const (
	StepIdle Step = iota
	StepShieldPending
	StepShieldConfirmed
	StepRelayUnshieldPending
	StepRelayUnshieldConfirmed
	StepOutboundBridgePending
	StepOutboundBridgeConfirmed
	StepInboundQuotePending
	StepInboundBridgePending
	StepCompleted
	StepFailed
	StepRefundIssued
)

var stepNames = map[Step]string{
	StepIdle:                    "idle",
	StepShieldPending:           "shield_pending",
	StepShieldConfirmed:         "shield_confirmed",
	StepRelayUnshieldPending:    "relay_unshield_pending",
	StepRelayUnshieldConfirmed:  "relay_unshield_confirmed",
	StepOutboundBridgePending:   "outbound_bridge_pending",
	StepOutboundBridgeConfirmed: "outbound_bridge_confirmed",
	StepInboundQuotePending:     "inbound_quote_pending",
	StepInboundBridgePending:    "inbound_bridge_pending",
	StepCompleted:               "completed",
	StepFailed:                  "failed",
	StepRefundIssued:            "refund_issued",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

func (s Step) MarshalText() ([]byte, error) {
	name, ok := stepNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid step %d", int(s))
	}
	return []byte(name), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	for step, name := range stepNames {
		if name == string(b) {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", string(b))
}

var (
	fastTrackSequence = []Step{
		StepIdle,
		StepShieldPending,
		StepShieldConfirmed,
		StepRelayUnshieldPending,
		StepRelayUnshieldConfirmed,
	}
	anonymousSequence = []Step{
		StepIdle,
		StepShieldPending,
		StepShieldConfirmed,
		StepRelayUnshieldPending,
		StepRelayUnshieldConfirmed,
		StepOutboundBridgePending,
		StepOutboundBridgeConfirmed,
		StepInboundQuotePending,
		StepInboundBridgePending,
		StepCompleted,
	}
)

// Sequence returns the happy-path steps of mode, Idle first and the terminal success last
func Sequence(mode types.PrivacyMode) []Step {
	if mode == types.Anonymous {
		return anonymousSequence
	}
	return fastTrackSequence
}

// Progress returns the 1-based position of step in mode's sequence and the sequence length,
// not counting Idle. Terminal failure steps report the position of last.
func Progress(mode types.PrivacyMode, step, last Step) (index, total int) {
	seq := Sequence(mode)
	total = len(seq) - 1
	if step == StepFailed || step == StepRefundIssued {
		step = last
	}
	for i, s := range seq {
		if s == step {
			return i, total
		}
	}
	return 0, total
}

// Succeeded reports whether step ends mode's happy path
func Succeeded(mode types.PrivacyMode, step Step) bool {
	seq := Sequence(mode)
	return step == seq[len(seq)-1]
}

// Terminal reports whether no handler runs from step for mode
func Terminal(mode types.PrivacyMode, step Step) bool {
	return step == StepFailed || step == StepRefundIssued || Succeeded(mode, step)
}

// inFlight steps wait on a submission or a provider; reaching one proves nothing landed yet
func (s Step) inFlight() bool {
	switch s {
	case StepShieldPending, StepRelayUnshieldPending, StepOutboundBridgePending, StepInboundQuotePending, StepInboundBridgePending:
		return true
	default:
		return false
	}
}

// compensable steps come after custody left the relay's private balance
func compensable(step Step) bool {
	switch step {
	case StepOutboundBridgePending, StepOutboundBridgeConfirmed, StepInboundQuotePending, StepInboundBridgePending:
		return true
	default:
		return false
	}
}
