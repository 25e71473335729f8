package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/mattsoldo/email-extractor-sub001/extraction"
)

// streamRenderer prints progress events as a pterm progress bar, or as one
// JSON object per line with --json.
type streamRenderer struct {
	jsonOutput bool
	bar        *pterm.ProgressbarPrinter
}

func newStreamRenderer(jsonOutput bool) *streamRenderer {
	return &streamRenderer{jsonOutput: jsonOutput}
}

// Emit implements extraction.Emitter.
func (r *streamRenderer) Emit(e extraction.Event) {
	if r.jsonOutput {
		if data, err := json.Marshal(e); err == nil {
			fmt.Println(string(data))
		}
		return
	}

	switch d := e.Data.(type) {
	case extraction.StartedData:
		verb := "Starting"
		if d.IsResume {
			verb = "Resuming"
		}
		pterm.Info.Printfln("%s run %s (job %s) with %s", verb, d.RunID, d.JobID, d.ModelID)
		if d.IsResume {
			pterm.Info.Printfln("%d of %d emails already processed", d.AlreadyProcessed, d.TotalItems)
		}
		if d.TotalItems > 0 {
			r.bar, _ = pterm.DefaultProgressbar.
				WithTotal(d.TotalItems).
				WithCurrent(d.AlreadyProcessed).
				WithTitle("Extracting").
				Start()
		}

	case extraction.ProgressData:
		if r.bar != nil && d.ProcessedItems > r.bar.Current {
			r.bar.UpdateTitle(fmt.Sprintf("Extracting (%d txns, %d info, %d failed)",
				d.TransactionsFound, d.InformationalItems, d.FailedItems))
			r.bar.Add(d.ProcessedItems - r.bar.Current)
		}

	case extraction.BatchCommittedData:
		if r.bar == nil {
			pterm.Info.Printfln("Committed %d transactions (%d total)",
				d.TransactionsCommitted, d.TotalTransactionsCommitted)
		}

	case extraction.CompletedData:
		r.stop()
		pterm.Success.Printfln("Run %s completed: %d emails, %d transactions in %dms",
			d.RunID, d.EmailsProcessed, d.TransactionsCreated, d.ProcessingTimeMs)

	case extraction.ErrorData:
		r.stop()
		pterm.Error.Printfln("Extraction stopped: %s", d.Error)
	}
}

func (r *streamRenderer) stop() {
	if r.bar != nil {
		_, _ = r.bar.Stop()
		r.bar = nil
	}
}
