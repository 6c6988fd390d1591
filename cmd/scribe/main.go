package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorvex/scribe/internal/config"
	"github.com/quorvex/scribe/internal/recall"
	"github.com/quorvex/scribe/internal/sanitize"
	"github.com/quorvex/scribe/internal/scribe"
	"github.com/quorvex/scribe/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "scribe - persistent fact memory for conversational agents",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or verify the memory database",
	RunE:  runInit,
}

var eventCmd = &cobra.Command{
	Use:   "event [content]",
	Short: "Append one event through the sanitization gate",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvent,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the extraction worker",
	RunE:  runWorker,
}

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Print the memory context that would be injected",
	RunE:  runRecall,
}

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "List stored facts",
	RunE:  runFacts,
}

var summaryCmd = &cobra.Command{
	Use:   "summary [category]",
	Short: "Show category summaries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSummary,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	RunE:  runStats,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage sanitization rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sanitization rules",
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update one sanitization rule",
	RunE:  runRulesAdd,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable [name]",
	Short: "Enable one rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleRule(args[0], true) },
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable [name]",
	Short: "Disable one rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleRule(args[0], false) },
}

var (
	initCheckFlag bool
	initForceFlag bool

	eventSessionFlag string
	eventKindFlag    string
	eventAgentFlag   string
	eventShowFlag    bool

	workerOnceFlag bool

	recallTierFlag    string
	recallModeFlag    string
	recallQueryFlag   string
	recallMaxFlag     int
	recallSessionFlag string

	factsCategoryFlag string
	factsAllFlag      bool
	factsLimitFlag    int

	summaryRefreshFlag bool

	statsSessionsFlag bool

	rulePatternFlag     string
	ruleReplacementFlag string
	ruleCategoryFlag    string
	ruleNameFlag        string
)

func init() {
	initCmd.Flags().BoolVar(&initCheckFlag, "check", false, "only check the database, do not create")
	initCmd.Flags().BoolVarP(&initForceFlag, "force", "f", false, "recreate the database (backs up the old one)")

	eventCmd.Flags().StringVarP(&eventSessionFlag, "session", "s", "", "session id")
	eventCmd.Flags().StringVarP(&eventKindFlag, "kind", "k", store.KindUserInput, "event kind")
	eventCmd.Flags().StringVarP(&eventAgentFlag, "agent", "a", "", "agent name")
	eventCmd.Flags().BoolVar(&eventShowFlag, "show", false, "print the sanitized content and redactions")

	workerCmd.Flags().BoolVar(&workerOnceFlag, "once", false, "drain the queue and exit")

	recallCmd.Flags().StringVarP(&recallTierFlag, "tier", "t", string(recall.TierSafe), "access tier (critical|safe|full)")
	recallCmd.Flags().StringVarP(&recallModeFlag, "mode", "m", recall.ModeRecent, "selection mode (recent|relevance)")
	recallCmd.Flags().StringVarP(&recallQueryFlag, "query", "q", "", "query for relevance mode")
	recallCmd.Flags().IntVar(&recallMaxFlag, "max", 0, "max facts (0 = config default)")
	recallCmd.Flags().StringVarP(&recallSessionFlag, "session", "s", "", "session id for the audit trail")

	factsCmd.Flags().StringVarP(&factsCategoryFlag, "category", "c", "", "filter by category")
	factsCmd.Flags().BoolVar(&factsAllFlag, "all", false, "include inactive (superseded) facts")
	factsCmd.Flags().IntVar(&factsLimitFlag, "limit", 50, "max facts to list")

	summaryCmd.Flags().BoolVar(&summaryRefreshFlag, "refresh", false, "regenerate before showing")

	statsCmd.Flags().BoolVar(&statsSessionsFlag, "sessions", false, "show per-session rollups")

	rulesAddCmd.Flags().StringVar(&ruleNameFlag, "name", "", "rule name (required)")
	rulesAddCmd.Flags().StringVar(&rulePatternFlag, "pattern", "", "regex pattern (required)")
	rulesAddCmd.Flags().StringVar(&ruleReplacementFlag, "replacement", "[REDACTED]", "replacement token")
	rulesAddCmd.Flags().StringVar(&ruleCategoryFlag, "category", sanitize.CategoryCustom, "rule category")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesEnableCmd, rulesDisableCmd)
	rootCmd.AddCommand(initCmd, eventCmd, workerCmd, recallCmd, factsCmd, summaryCmd, statsCmd, rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openEngine(cfg *config.Config) (*store.Engine, error) {
	return store.NewEngine(cfg.DBPath, store.Options{
		MaxAttempts:     cfg.Queue.MaxAttempts,
		DefaultPriority: cfg.Queue.DefaultPriority,
		ConfirmBoost:    cfg.Facts.ConfirmBoost,
		ShadowThreshold: cfg.Facts.ShadowThreshold,
	})
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if initCheckFlag {
		if _, err := os.Stat(cfg.DBPath); err != nil {
			fmt.Printf("Database missing: %s\n", cfg.DBPath)
			os.Exit(1)
		}
		e, err := openEngine(cfg)
		if err != nil {
			return fmt.Errorf("database unusable: %w", err)
		}
		defer e.Close()
		version, err := e.SchemaVersion()
		if err != nil {
			return err
		}
		fmt.Printf("Database OK: %s (schema v%d)\n", cfg.DBPath, version)
		return nil
	}

	if _, err := os.Stat(cfg.DBPath); err == nil {
		if !initForceFlag {
			fmt.Printf("Database already exists: %s\nUse --force to recreate (backs up the old one)\n", cfg.DBPath)
			return nil
		}
		backup := strings.TrimSuffix(cfg.DBPath, filepath.Ext(cfg.DBPath)) +
			fmt.Sprintf(".backup_%s.db", time.Now().Format("20060102_150405"))
		if err := os.Rename(cfg.DBPath, backup); err != nil {
			return fmt.Errorf("backup database: %w", err)
		}
		fmt.Printf("Backed up existing database to: %s\n", backup)
	}

	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	version, err := e.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Printf("Database initialized: %s (schema v%d)\n", cfg.DBPath, version)
	return nil
}

func runEvent(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	id, report, err := e.AppendEvent(eventSessionFlag, eventKindFlag, eventAgentFlag, args[0], nil)
	if err != nil {
		return err
	}
	fmt.Printf("Event %d appended (%d redactions)\n", id, len(report.Redactions))
	if eventShowFlag {
		ev, err := e.EventByID(id)
		if err != nil {
			return err
		}
		fmt.Printf("Stored content: %s\n", ev.Content)
		for _, r := range report.Redactions {
			fmt.Printf("  redacted by %s at offset %d\n", r.Rule, r.Position)
		}
		for _, w := range report.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	var extractor scribe.Extractor
	if cfg.Extractor.APIKey != "" && cfg.Extractor.BaseURL != "" {
		chat, err := scribe.NewChatExtractor(cfg.Extractor)
		if err != nil {
			return err
		}
		extractor = chat
		fmt.Printf("Using chat-completions extractor (%s)\n", cfg.Extractor.Model)
	} else {
		extractor = scribe.HeuristicExtractor{}
		fmt.Println("Using built-in heuristic extractor")
	}

	claimTimeout, _ := time.ParseDuration(cfg.Queue.ClaimTimeout)
	sweepInterval, _ := time.ParseDuration(cfg.Queue.SweepInterval)
	halfLife, _ := time.ParseDuration(cfg.Facts.DecayHalfLife)
	w := scribe.NewWorker(e, extractor, scribe.WorkerOptions{
		SweepInterval: sweepInterval,
		ClaimTimeout:  claimTimeout,
		DecaySchedule: cfg.Facts.DecaySchedule,
		DecayHalfLife: halfLife,
	})

	if workerOnceFlag {
		n, err := w.Drain()
		fmt.Printf("Processed %d jobs\n", n)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return w.Run(ctx)
}

func newController(cfg *config.Config, e *store.Engine) *recall.Controller {
	return recall.NewController(e, recall.Options{
		TokenBudget:  cfg.Recall.TokenBudget,
		SafetyMargin: cfg.Recall.SafetyMargin,
		MaxItems:     cfg.Recall.MaxItems,
		AllowFull:    config.FullRecallAllowed,
	})
}

func runRecall(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	ctl := newController(cfg, e)
	ctx, err := ctl.SelectContext(recall.Request{
		SessionID: recallSessionFlag,
		Tier:      recall.Tier(recallTierFlag),
		Mode:      recallModeFlag,
		Query:     recallQueryFlag,
		MaxItems:  recallMaxFlag,
	})
	if err != nil {
		return err
	}
	if ctx.Markdown == "" {
		fmt.Println("(no memory context)")
		return nil
	}
	fmt.Println(ctx.Markdown)
	fmt.Printf("\n-- %d facts, ~%d tokens (policy v%d)\n", len(ctx.Facts), ctx.TokenEstimate, ctx.PolicyVersion)
	return nil
}

func runFacts(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	ctl := newController(cfg, e)
	facts, err := ctl.Facts("", factsCategoryFlag, !factsAllFlag, factsLimitFlag)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		fmt.Println("No facts stored")
		return nil
	}
	for _, f := range facts {
		status := "active"
		if !f.Active {
			status = "superseded"
		}
		fmt.Printf("[%s] (%.2f, %s, seen %dx) %s\n", f.Category, f.Confidence, status, f.ObservationCount, f.Content)
	}
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if len(args) == 1 {
		category := args[0]
		if summaryRefreshFlag {
			if _, err := e.RefreshSummary(category); err != nil {
				return err
			}
		}
		s, err := e.GetSummary(category)
		if err != nil {
			return err
		}
		fmt.Printf("%s (v%d, updated %s)\n%s\n", s.Category, s.SynthesisVersion, s.UpdatedAt, s.Summary)
		return nil
	}

	if summaryRefreshFlag {
		for _, category := range store.Categories() {
			if _, err := e.RefreshSummary(category); err != nil {
				return err
			}
		}
	}
	summaries, err := e.Summaries()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No summaries yet (run 'scribe summary --refresh')")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%s (v%d)\n%s\n\n", s.Category, s.SynthesisVersion, s.Summary)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if statsSessionsFlag {
		sessions, err := e.Sessions(20)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%s: %d events (%d user, %d agent), %s .. %s\n",
				s.SessionID, s.EventCount, s.UserInputs, s.AgentResponses, s.StartTime, s.LastActivity)
		}
		return nil
	}

	s, err := e.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Database: %s (%.1f KB, schema v%d)\n", cfg.DBPath, float64(s.DBSizeBytes)/1024, s.SchemaVersion)
	fmt.Printf("Events: %d total, %d last 24h, %d last 7d, %d sessions\n", s.Events, s.EventsLast24h, s.EventsLast7d, s.Sessions)
	fmt.Printf("Facts: %d active, %d superseded, %d conflicts resolved\n", s.ActiveFacts, s.InactiveFacts, s.Conflicts)
	fmt.Printf("Queue: %d pending, %d failed\n", s.PendingJobs, s.FailedJobs)
	fmt.Printf("Summaries: %d, sanitizer rules: %d, audit entries: %d\n", s.Summaries, s.SanitizerRules, s.AccessEntries)
	return nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	rs, err := e.LoadRules()
	if err != nil {
		return err
	}
	fmt.Printf("Rule set v%d\n", rs.Version)
	for _, r := range rs.Rules {
		state := "enabled"
		if !r.Active {
			state = "disabled"
		}
		fmt.Printf("  %-16s %-10s %-8s %s -> %s\n", r.Name, r.Category, state, r.Pattern, r.Replacement)
	}
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	if ruleNameFlag == "" || rulePatternFlag == "" {
		return fmt.Errorf("--name and --pattern are required")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	err = e.UpsertRule(sanitize.Rule{
		Name:        ruleNameFlag,
		Pattern:     rulePatternFlag,
		Replacement: ruleReplacementFlag,
		Category:    ruleCategoryFlag,
		Active:      true,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Rule %q saved\n", ruleNameFlag)
	return nil
}

func toggleRule(name string, active bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.SetRuleActive(name, active); err != nil {
		return err
	}
	state := "enabled"
	if !active {
		state = "disabled"
	}
	fmt.Printf("Rule %q %s\n", name, state)
	return nil
}
