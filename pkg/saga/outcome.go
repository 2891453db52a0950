package saga

// OutcomeKind is the closed set of ways a transfer ends
type OutcomeKind string

const (
	OutcomeSucceeded    OutcomeKind = "succeeded"
	OutcomeRefundIssued OutcomeKind = "refund_issued"
	OutcomeFailed       OutcomeKind = "failed"
)

// Outcome is what the caller learns when a transfer ends.
// TxIDs is set for OutcomeSucceeded, RefundTxID for OutcomeRefundIssued,
// Reason for OutcomeRefundIssued and OutcomeFailed.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	TxIDs      []string    `json:"tx_ids,omitempty"`
	RefundTxID string      `json:"refund_tx_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

func succeeded(txIDs []string) *Outcome {
	return &Outcome{Kind: OutcomeSucceeded, TxIDs: txIDs}
}

func refundIssued(refundTxID, reason string) *Outcome {
	return &Outcome{Kind: OutcomeRefundIssued, RefundTxID: refundTxID, Reason: reason}
}

func failed(reason string) *Outcome {
	return &Outcome{Kind: OutcomeFailed, Reason: reason}
}
