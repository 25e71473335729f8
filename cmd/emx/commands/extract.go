package commands

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mattsoldo/email-extractor-sub001/ai/openrouter"
	"github.com/mattsoldo/email-extractor-sub001/am"
	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/extract"
	"github.com/mattsoldo/email-extractor-sub001/extraction"
	"github.com/mattsoldo/email-extractor-sub001/jobs"
	"github.com/mattsoldo/email-extractor-sub001/logger"
)

// ExtractCmd groups extraction run commands
var ExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Start, watch and control extraction runs",
	Long: `extract - Extraction runs

A run extracts transactions from every email of a set with one model and one
prompt. Results are committed in batches, so an interrupted run keeps what it
committed and can be resumed; resuming only processes emails the run has not
recorded yet. A completed run for the same set, model, prompt and emx version
blocks starting an identical one.

Pause, continue and cancel act on the job of a running execution, in this
process or another one sharing the database.

Examples:
  emx extract start --set <set-id> --prompt brokerage-v1
  emx extract start --set inbox --prompt brokerage-v1 --sample 20 --json
  emx extract pause <job-id>
  emx extract continue <job-id>
  emx extract cancel <job-id>
  emx extract resume <run-id>
  emx extract runs
  emx extract watch <job-id>`,
}

var extractStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new extraction run",
	RunE:  runExtractStart,
}

var extractResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a failed or interrupted run",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtractResume,
}

var extractPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a running job at its next window boundary",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtractPause,
}

var extractContinueCmd = &cobra.Command{
	Use:   "continue <job-id>",
	Short: "Continue a paused job",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtractContinue,
}

var extractCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job, discarding uncommitted results",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtractCancel,
}

var extractRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List extraction runs",
	RunE:  runExtractRuns,
}

var extractRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show an extraction run and its jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtractRun,
}

var extractWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job by polling the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtractWatch,
}

var extractSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail runs and jobs with no recent heartbeat",
	RunE:  runExtractSweep,
}

var (
	startSetFlag         string
	startModelFlag       string
	startPromptFlag      string
	startNameFlag        string
	startDescriptionFlag string
	startSampleFlag      int
	concurrencyFlag      int
	metricsAddrFlag      string
	cancelReasonFlag     string
	runsLimitFlag        int
	watchIntervalFlag    time.Duration
	extractJSONFlag      bool
)

func init() {
	extractStartCmd.Flags().StringVar(&startSetFlag, "set", "", "Email set ID or name")
	extractStartCmd.Flags().StringVar(&startModelFlag, "model", "", "Model ID (default extraction.default_model)")
	extractStartCmd.Flags().StringVar(&startPromptFlag, "prompt", "", "Prompt ID")
	extractStartCmd.Flags().StringVar(&startNameFlag, "name", "", "Run name")
	extractStartCmd.Flags().StringVar(&startDescriptionFlag, "description", "", "Run description")
	extractStartCmd.Flags().IntVar(&startSampleFlag, "sample", 0, "Process a uniform random sample of N emails")
	_ = extractStartCmd.MarkFlagRequired("set")
	_ = extractStartCmd.MarkFlagRequired("prompt")

	for _, c := range []*cobra.Command{extractStartCmd, extractResumeCmd} {
		c.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "Emails processed in parallel (default extraction.concurrency)")
		c.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve Prometheus metrics on this address (default metrics.address)")
	}

	extractCancelCmd.Flags().StringVar(&cancelReasonFlag, "reason", "", "Cancellation reason")
	extractRunsCmd.Flags().IntVar(&runsLimitFlag, "limit", 20, "Maximum number of runs to display")
	extractWatchCmd.Flags().DurationVar(&watchIntervalFlag, "interval", time.Second, "Poll interval")

	ExtractCmd.PersistentFlags().BoolVar(&extractJSONFlag, "json", false, "Output as JSON")

	ExtractCmd.AddCommand(extractStartCmd)
	ExtractCmd.AddCommand(extractResumeCmd)
	ExtractCmd.AddCommand(extractPauseCmd)
	ExtractCmd.AddCommand(extractContinueCmd)
	ExtractCmd.AddCommand(extractCancelCmd)
	ExtractCmd.AddCommand(extractRunsCmd)
	ExtractCmd.AddCommand(extractRunCmd)
	ExtractCmd.AddCommand(extractWatchCmd)
	ExtractCmd.AddCommand(extractSweepCmd)
}

// newInvoker builds the OpenRouter-backed invoker from am config
func newInvoker(cfg *am.Config) (*openrouter.Client, extract.Invoker) {
	temperature := cfg.OpenRouter.Temperature
	maxTokens := cfg.OpenRouter.MaxTokens
	client := openrouter.NewClient(openrouter.Config{
		APIKey:            cfg.OpenRouter.APIKey,
		BaseURL:           cfg.OpenRouter.BaseURL,
		Model:             cfg.Extraction.DefaultModel,
		Temperature:       &temperature,
		MaxTokens:         &maxTokens,
		Timeout:           cfg.OpenRouter.Timeout(),
		RequestsPerMinute: cfg.OpenRouter.RequestsPerMinute,
		Logger:            logger.ComponentLogger("openrouter"),
	})
	invoker := extract.NewLLMInvoker(client, cfg.Extraction.MaxBodyChars, logger.ComponentLogger("invoker"))
	return client, invoker
}

// newOrchestrator opens the database and wires the orchestrator. requireLLM
// rejects a missing API key up front for commands that call the model.
func newOrchestrator(requireLLM bool) (*am.Config, *sql.DB, *extraction.Orchestrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	client, invoker := newInvoker(cfg)
	if requireLLM && !client.IsConfigured() {
		err := errors.New("OpenRouter API key is not configured")
		return nil, nil, nil, errors.WithHint(err, "set EMX_OPENROUTER_API_KEY or openrouter.api_key in ~/.emx/am.toml")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	orch := extraction.New(database, invoker, extraction.ConfigFromAM(cfg.Extraction),
		extraction.WithLogger(logger.ComponentLogger("extraction")),
		extraction.WithMetrics(extraction.NewMetrics()),
	)
	return cfg, database, orch, nil
}

// serveMetrics serves /metrics on addr until the returned stop is called.
// An empty addr serves nothing.
func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := logger.ComponentLogger("metrics")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnw("Metrics listener stopped", "address", addr, logger.FieldError, err)
		}
	}()
	log.Infow("Serving metrics", "address", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// resolveSet accepts a set ID or a set name
func resolveSet(ctx context.Context, database *sql.DB, ref string) (*email.Set, error) {
	store := email.NewStore(database)
	set, err := store.GetSet(ctx, ref)
	if errors.IsNotFoundError(err) {
		return store.GetSetByName(ctx, ref)
	}
	return set, err
}

func metricsAddr(cfg *am.Config) string {
	if metricsAddrFlag != "" {
		return metricsAddrFlag
	}
	return cfg.Metrics.Address
}

func runExtractStart(cmd *cobra.Command, args []string) error {
	cfg, database, orch, err := newOrchestrator(true)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	set, err := resolveSet(ctx, database, startSetFlag)
	if err != nil {
		return err
	}

	model := startModelFlag
	if model == "" {
		model = cfg.Extraction.DefaultModel
	}

	exec, err := orch.Begin(ctx, extraction.StartRequest{
		SetID:       set.ID,
		ModelID:     model,
		PromptID:    startPromptFlag,
		Concurrency: concurrencyFlag,
		SampleSize:  startSampleFlag,
		Name:        startNameFlag,
		Description: startDescriptionFlag,
	})
	if err != nil {
		return err
	}
	return runExecution(ctx, cfg, exec)
}

func runExtractResume(cmd *cobra.Command, args []string) error {
	cfg, database, orch, err := newOrchestrator(true)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	exec, err := orch.BeginResume(ctx, args[0], concurrencyFlag)
	if err != nil {
		return err
	}
	return runExecution(ctx, cfg, exec)
}

// runExecution runs exec in the foreground, rendering its stream. The
// execution's own cancel path handles Ctrl-C through ctx.
func runExecution(ctx context.Context, cfg *am.Config, exec *extraction.Execution) error {
	stop := serveMetrics(metricsAddr(cfg))
	defer stop()

	if !extractJSONFlag {
		pterm.Info.Printfln("Pause: emx extract pause %s   Cancel: emx extract cancel %s", exec.JobID(), exec.JobID())
	}

	renderer := newStreamRenderer(extractJSONFlag)
	em := extraction.MultiEmitter{renderer, extraction.LogEmitter{Logger: logger.ComponentLogger("progress")}}

	summary, err := exec.Run(ctx, em)
	if err != nil {
		if errors.Is(err, errors.ErrCancelled) {
			return errors.WithHintf(err, "resume with: emx extract resume %s", exec.RunID())
		}
		return err
	}
	if extractJSONFlag {
		return printJSON(summary)
	}
	return nil
}

func runExtractPause(cmd *cobra.Command, args []string) error {
	_, database, orch, err := newOrchestrator(false)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := orch.Pause(cmd.Context(), args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("Paused job %s", args[0])
	return nil
}

func runExtractContinue(cmd *cobra.Command, args []string) error {
	_, database, orch, err := newOrchestrator(false)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := orch.ResumeJob(cmd.Context(), args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("Continued job %s", args[0])
	return nil
}

func runExtractCancel(cmd *cobra.Command, args []string) error {
	_, database, orch, err := newOrchestrator(false)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := orch.Cancel(cmd.Context(), args[0], cancelReasonFlag); err != nil {
		return err
	}
	pterm.Success.Printfln("Cancelled job %s", args[0])
	return nil
}

func runExtractRuns(cmd *cobra.Command, args []string) error {
	_, database, orch, err := newOrchestrator(false)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := orch.ListRuns(cmd.Context(), runsLimitFlag)
	if err != nil {
		return err
	}
	if extractJSONFlag {
		return printJSON(runs)
	}

	var rows [][]string
	for _, r := range runs {
		resumable := ""
		if r.Stats.CanResume {
			resumable = "yes"
		}
		rows = append(rows, []string{
			r.ID,
			fmt.Sprintf("v%d", r.Version),
			string(r.Status),
			r.ModelID,
			r.PromptID,
			fmt.Sprint(r.Counters.EmailsProcessed),
			fmt.Sprint(r.Counters.TransactionsCreated),
			fmt.Sprint(r.Counters.ErrorCount),
			resumable,
			formatTime(r.StartedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Version", "Status", "Model", "Prompt", "Emails", "Txns", "Errors", "Resumable", "Started"},
		rows, "No extraction runs")
}

func runExtractRun(cmd *cobra.Command, args []string) error {
	_, database, orch, err := newOrchestrator(false)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	run, err := orch.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	attempts, err := orch.ListJobsByRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if extractJSONFlag {
		return printJSON(map[string]interface{}{"run": run, "jobs": attempts})
	}

	pterm.DefaultSection.Printfln("Run %s (v%d)", run.ID, run.Version)
	fmt.Printf("Status:            %s\n", run.Status)
	fmt.Printf("Set:               %s\n", run.SetID)
	fmt.Printf("Model:             %s\n", run.ModelID)
	fmt.Printf("Prompt:            %s (%s)\n", run.PromptID, shortHash(run.PromptHash))
	fmt.Printf("Software:          %s\n", run.SoftwareVersion)
	if run.SampleSize != nil {
		fmt.Printf("Sample size:       %d\n", *run.SampleSize)
	}
	fmt.Printf("Emails processed:  %d\n", run.Counters.EmailsProcessed)
	fmt.Printf("Transactions:      %d\n", run.Counters.TransactionsCreated)
	fmt.Printf("Informational:     %d\n", run.Counters.InformationalCount)
	fmt.Printf("Errors:            %d\n", run.Counters.ErrorCount)
	if run.Stats.AverageConfidence != nil {
		fmt.Printf("Avg confidence:    %s\n", run.Stats.AverageConfidence.StringFixed(3))
	}
	fmt.Printf("Processing time:   %s\n", time.Duration(run.Stats.ProcessingTimeMs)*time.Millisecond)
	fmt.Printf("Started:           %s\n", formatTime(run.StartedAt))
	fmt.Printf("Completed:         %s\n", formatTimePtr(run.CompletedAt))
	if run.Stats.Error != "" {
		fmt.Printf("Error:             %s\n", run.Stats.Error)
	}
	if run.Stats.CanResume {
		pterm.Info.Printfln("Resumable: emx extract resume %s", run.ID)
	}

	if len(run.Stats.TypeCounts) > 0 {
		fmt.Println()
		fmt.Println("Transactions by type:")
		for t, n := range run.Stats.TypeCounts {
			fmt.Printf("  %-24s %d\n", string(t)+":", n)
		}
	}

	fmt.Println()
	var rows [][]string
	for _, j := range attempts {
		rows = append(rows, []string{
			j.ID,
			string(j.Status),
			fmt.Sprintf("%d/%d", j.Progress.Current, j.Progress.Total),
			formatTimePtr(j.StartedAt),
			formatTimePtr(j.CompletedAt),
			truncateCell(orDash(j.Error), 40),
		})
	}
	return renderTable([]string{"Job", "Status", "Progress", "Started", "Completed", "Error"}, rows, "No jobs")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// runExtractWatch follows a job through the database. It works for
// executions in other processes, where the event stream is not reachable.
func runExtractWatch(cmd *cobra.Command, args []string) error {
	_, database, orch, err := newOrchestrator(false)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	interval := watchIntervalFlag
	if interval <= 0 {
		interval = time.Second
	}

	var spinner *pterm.SpinnerPrinter
	if !extractJSONFlag {
		spinner, _ = pterm.DefaultSpinner.Start("Waiting for job " + args[0])
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := orch.GetJob(ctx, args[0])
		if err != nil {
			if spinner != nil {
				spinner.Fail(err.Error())
			}
			return err
		}

		if extractJSONFlag {
			if err := printJSON(job); err != nil {
				return err
			}
		} else {
			spinner.UpdateText(fmt.Sprintf("%s %d/%d (%.0f%%) txns=%d info=%d failed=%d",
				job.Status, job.Progress.Current, job.Progress.Total, job.Progress.Percentage(),
				job.Progress.Transactions, job.Progress.Informational, job.Progress.Failed))
		}

		if job.Status.IsTerminal() {
			return finishWatch(ctx, orch, job, spinner)
		}

		select {
		case <-ctx.Done():
			if spinner != nil {
				_ = spinner.Stop()
			}
			return nil
		case <-ticker.C:
		}
	}
}

func finishWatch(ctx context.Context, orch *extraction.Orchestrator, job *jobs.Job, spinner *pterm.SpinnerPrinter) error {
	run, err := orch.GetRun(ctx, job.RunID)
	if err != nil {
		return err
	}
	if spinner == nil {
		return printJSON(run)
	}

	msg := fmt.Sprintf("Job %s %s: run %s is %s with %d transactions from %d emails",
		job.ID, job.Status, run.ID, run.Status, run.Counters.TransactionsCreated, run.Counters.EmailsProcessed)
	if job.Status == jobs.JobStatusCompleted {
		spinner.Success(msg)
		return nil
	}
	spinner.Fail(msg)
	if job.Error != "" {
		pterm.Error.Println(job.Error)
	}
	if run.Stats.CanResume {
		pterm.Info.Printfln("Resume with: emx extract resume %s", run.ID)
	}
	return nil
}

func runExtractSweep(cmd *cobra.Command, args []string) error {
	_, database, orch, err := newOrchestrator(false)
	if err != nil {
		return err
	}
	defer database.Close()

	swept, err := orch.RecoverOrphaned(cmd.Context())
	if err != nil {
		return err
	}
	if extractJSONFlag {
		return printJSON(map[string]int{"runs": swept})
	}
	pterm.Success.Printfln("Swept %d orphaned runs", swept)
	return nil
}
