package saga

import (
	"fmt"

	"fundswap/pkg/fee"
	"fundswap/pkg/types"
)

// Event is one status update for the projection
type Event struct {
	TransferID string
	Step       Step
	// LastSuccessfulStep is the furthest confirmed step; it survives a failure
	LastSuccessfulStep Step
	Index              int
	Total              int
	Status             string
	Err                error
}

// Observer receives events in order from the goroutine running the saga
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}

func statusText(step Step, req types.TransferRequest) string {
	switch step {
	case StepIdle:
		return "Preparing transfer"
	case StepShieldPending:
		return "Shielding funds to the relay"
	case StepShieldConfirmed:
		return "Waiting for the relay balance to update"
	case StepRelayUnshieldPending:
		return "Relay is unshielding funds"
	case StepRelayUnshieldConfirmed:
		if req.Mode == types.FastTrack {
			return fmt.Sprintf("Delivered to %s", req.DestinationAddress)
		}
		return "Funds unshielded at the relay"
	case StepOutboundBridgePending:
		return "Bridging out through the relay"
	case StepOutboundBridgeConfirmed:
		return "Bridge settled on the second chain"
	case StepInboundQuotePending:
		return "Fetching the return quote"
	case StepInboundBridgePending:
		return fmt.Sprintf("Bridging to %s", req.DestinationChain)
	case StepCompleted:
		return fmt.Sprintf("Delivered to %s", req.DestinationAddress)
	case StepRefundIssued:
		return "Refund issued to the source address"
	default:
		return "Transfer failed"
	}
}

func refundText(net uint64) string {
	return fmt.Sprintf("Refunding %s SOL to the source address", fee.FormatLamports(net))
}
