package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"fundswap/pkg/fee"
	"fundswap/pkg/quote"
	"fundswap/pkg/saga"
)

// progress renders saga events on a spinner. In JSON mode events are printed as lines.
type progress struct {
	spinner    *spinner.Spinner
	jsonOutput bool
}

func newProgress(jsonOutput bool) *progress {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	return &progress{spinner: s, jsonOutput: jsonOutput}
}

func (p *progress) OnEvent(e saga.Event) {
	if p.jsonOutput {
		line := map[string]interface{}{
			"transfer": e.TransferID,
			"step":     e.Step.String(),
			"progress": fmt.Sprintf("%d/%d", e.Index, e.Total),
			"status":   e.Status,
		}
		if e.Err != nil {
			line["error"] = e.Err.Error()
		}
		printJSON(line)
		return
	}

	p.spinner.Lock()
	p.spinner.Suffix = fmt.Sprintf(" [%d/%d] %s", e.Index, e.Total, e.Status)
	p.spinner.Unlock()

	if e.Err != nil {
		p.spinner.Stop()
		color.Yellow("  ! %s: %v", e.Step, e.Err)
		p.spinner.Start()
	}
}

func (p *progress) Start() {
	if !p.jsonOutput {
		p.spinner.Start()
	}
}

func (p *progress) Stop() {
	if !p.jsonOutput {
		p.spinner.Stop()
	}
}

// renderPreview prints one display quote refresh
func renderPreview(preview quote.Preview) {
	if preview.Err != nil {
		color.Yellow("  Quote unavailable: %v", preview.Err)
		return
	}
	q := preview.Quote
	line := fmt.Sprintf("  Estimated output: ~%s", q.AmountOutFormatted)
	if preview.Price != "" {
		line += fmt.Sprintf(" (rate %s)", preview.Price)
	}
	if q.TimeEstimate > 0 {
		line += fmt.Sprintf(", about %.0f seconds", q.TimeEstimate)
	}
	fmt.Println(color.CyanString(line))
}

func displayPlan(plan fee.Plan, destination string) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    TRANSFER PLAN")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Mode:              %s\n", color.YellowString(plan.Mode.String()))
	fmt.Printf("  Amount:            %s SOL\n", fee.FormatLamports(plan.Amount))
	fmt.Printf("  Fee:               %s SOL\n", fee.FormatLamports(plan.Fee))
	fmt.Printf("  Delivered:         %s SOL\n", color.GreenString(fee.FormatLamports(plan.Net)))
	if plan.EstimatedBridgeFee > 0 {
		fmt.Printf("  Bridge fees:       ~%s SOL (estimate, charged by the bridge)\n", fee.FormatLamports(plan.EstimatedBridgeFee))
	}
	fmt.Printf("  Destination:       %s\n", color.CyanString(destination))

	fmt.Println("\n" + strings.Repeat("=", 60))
}

func displayOutcome(st *saga.State, outcome *saga.Outcome) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	switch outcome.Kind {
	case saga.OutcomeSucceeded:
		color.Green("                  TRANSFER COMPLETE")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("\n  Delivered:         %s SOL\n", fee.FormatLamports(st.Plan.Net))
		for _, id := range outcome.TxIDs {
			fmt.Printf("  Transaction:       %s\n", color.CyanString(id))
		}
	case saga.OutcomeRefundIssued:
		color.Yellow("                   REFUND ISSUED")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("\n  Reason:            %s\n", outcome.Reason)
		fmt.Printf("  Refunded:          %s SOL to %s\n", fee.FormatLamports(st.Plan.Net), st.Request.SourceAddress)
		fmt.Printf("  Refund tx:         %s\n", color.CyanString(outcome.RefundTxID))
	default:
		color.Red("                  TRANSFER FAILED")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("\n  Reason:            %s\n", color.RedString(outcome.Reason))
		fmt.Printf("  Last step:         %s\n", st.LastSuccessfulStep)
	}
	fmt.Printf("  Transfer id:       %s\n", st.ID)
	fmt.Println("\n" + strings.Repeat("=", 60))

	if st.Resumable() {
		fmt.Println("\nThe transfer can be continued with:")
		color.Cyan("  fundswap resume %s\n", st.ID)
	}
	fmt.Println()
}

func outcomeJSON(st *saga.State, outcome *saga.Outcome) map[string]interface{} {
	return map[string]interface{}{
		"transfer":  st.ID,
		"outcome":   outcome,
		"summary":   st.Summary(),
		"resumable": st.Resumable(),
	}
}
