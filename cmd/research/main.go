// Package main is the research engine's thin CLI front end. It wires every
// engine component together the way a strategist (MCP server, notebook,
// or interactive operator) would, and exposes the control surface as a set
// of cobra subcommands. It intentionally does not reimplement a protocol
// shell: per spec §1, the MCP/JSON-RPC transport layer itself is out of
// scope, so this binary is a direct, in-process caller of
// internal/control.Surface, grounded on cmd/nerd/main.go's cobra + zap
// wiring pattern.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codenerd/internal/authqueue"
	"codenerd/internal/config"
	"codenerd/internal/control"
	"codenerd/internal/evidence"
	"codenerd/internal/fetch"
	"codenerd/internal/inference"
	"codenerd/internal/logging"
	"codenerd/internal/pipeline"
	"codenerd/internal/policy"
	"codenerd/internal/scheduler"
	"codenerd/internal/store"
	"codenerd/internal/task"
)

var (
	configPath  string
	verbose     bool
	surface     *control.Surface
	engineStore *store.Store

	// cliLogger is process-level structured logging for this CLI front end,
	// separate from internal/logging's per-category file logs that the
	// engine components themselves write to.
	cliLogger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "research engine control surface CLI",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		zcfg.OutputPaths = []string{"stderr"}
		l, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cliLogger = l

		if cmd.Use == "help" {
			return nil
		}
		s, st, err := bootstrap(configPath)
		if err != nil {
			cliLogger.Error("bootstrap failed", zap.String("command", cmd.Use), zap.Error(err))
			return err
		}
		surface = s
		engineStore = st
		cliLogger.Debug("engine bootstrapped", zap.String("command", cmd.Use), zap.String("config", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if engineStore != nil {
			engineStore.Close()
		}
		if cliLogger != nil {
			_ = cliLogger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "research.yaml", "path to the engine's YAML config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level CLI logging")
	rootCmd.AddCommand(
		createTaskCmd,
		queueTargetsCmd,
		getStatusCmd,
		stopTaskCmd,
		vectorSearchCmd,
		queryViewCmd,
		resolveAuthCmd,
		getAuthQueueCmd,
		feedbackCmd,
		calibrationMetricsCmd,
		calibrationRollbackCmd,
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads the engine config and wires every component the control
// surface dispatches into. The caller owns closing the returned store.
func bootstrap(path string) (*control.Surface, *store.Store, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := logging.Initialize(dataDir, path); err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging init: %v\n", err)
	}

	storePath := cfg.Store.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(dataDir, filepath.Base(storePath))
	}
	st, err := store.Open(storePath, cfg.Store.VectorDimensions)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	pol := policy.New(st, cfg.Policy)
	sched := scheduler.New(cfg.Scheduler, st, pol)
	tasks := task.NewManager(st)
	authq := authqueue.New(st, tasks.Registry(), cfg.AuthQueue.StaleAfter)
	evg := evidence.New(st)

	embedEngine, err := inference.NewEmbeddingEngine(inference.EngineConfig{
		Provider:         cfg.Inference.Provider,
		GenAIAPIKey:      cfg.Inference.GenAIAPIKey,
		GenAIEmbedModel:  cfg.Inference.GenAIEmbedModel,
		OllamaEndpoint:   cfg.Inference.OllamaEndpoint,
		OllamaEmbedModel: cfg.Inference.OllamaEmbedModel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build embedding engine: %w", err)
	}
	chatEngine, err := inference.NewChatEngine(inference.EngineConfig{
		Provider:        cfg.Inference.Provider,
		GenAIAPIKey:     cfg.Inference.GenAIAPIKey,
		GenAIChatModel:  cfg.Inference.GenAIChatModel,
		OllamaEndpoint:  cfg.Inference.OllamaEndpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build chat engine: %w", err)
	}
	gw := inference.NewGateway(embedEngine, chatEngine, st, inference.SessionTag("research-cli"))

	rungs := []fetch.Fetcher{fetch.NewDirectHTTPFetcher(cfg.Fetch.UserAgent, cfg.Scheduler.FetchRungTimeout, cfg.Fetch.MaxBodyBytes)}
	if cfg.Fetch.TorProxyAddr != "" {
		if torFetcher, err := fetch.NewTorHTTPFetcher(cfg.Fetch.TorProxyAddr, cfg.Fetch.UserAgent, cfg.Scheduler.FetchRungTimeout, cfg.Fetch.MaxBodyBytes); err == nil {
			rungs = append(rungs, torFetcher)
		} else {
			logging.ControlError("tor fetcher unavailable: %v", err)
		}
	}
	browserCfg := fetch.BrowserConfig{DebuggerURL: cfg.Fetch.BrowserDebuggerURL, Headless: cfg.Fetch.BrowserHeadless, NavigationTimeout: cfg.Scheduler.FetchRungTimeout}
	rungs = append(rungs, fetch.NewHeadlessBrowserFetcher(browserCfg))
	headfulCfg := browserCfg
	headfulCfg.Headless = false
	rungs = append(rungs, fetch.NewHeadfulBrowserFetcher(headfulCfg))
	if cfg.Fetch.ArchiveBaseURL != "" {
		rungs = append(rungs, fetch.NewArchiveFetcher(cfg.Fetch.ArchiveBaseURL, cfg.Scheduler.FetchRungTimeout))
	}
	escalator := fetch.NewEscalator(rungs...)

	citations := pipeline.NewCitationExpander(noopResolver{}, cfg.Pipeline.CitationIterationCap)
	providers := []pipeline.SearchProvider{
		pipeline.NewBrowserSERPProvider(cfg.Pipeline.SERPURLTemplate, cfg.Fetch.UserAgent, cfg.Scheduler.FetchRungTimeout, pol,
			policy.ProviderLimits{MinInterval: cfg.Pipeline.SERPMinInterval, MaxParallel: cfg.Pipeline.SERPMaxParallel, AcquireWait: cfg.Pipeline.SERPAcquireWait}),
		pipeline.NewAcademicAPIProvider(cfg.Pipeline.AcademicAPIURL, cfg.Scheduler.FetchRungTimeout, pol,
			policy.ProviderLimits{MinInterval: cfg.Pipeline.AcademicMinInterval, MaxParallel: cfg.Pipeline.AcademicMaxParallel, AcquireWait: cfg.Pipeline.AcademicAcquireWait}),
	}
	executor := pipeline.NewExecutor(sched, st, pol, escalator, gw, evg, tasks, authq, citations, providers, cfg.Pipeline)

	s := control.NewSurface(tasks, executor, evg, st, authq, pol, sched, gw, cfg)
	return s, st, nil
}

// noopResolver is the CLI's default citation resolver until a real
// reference-graph provider (e.g. an OpenCitations/Crossref references
// lookup) is configured; it keeps citation expansion a well-defined no-op
// rather than leaving ReferenceResolver unset.
type noopResolver struct{}

func (noopResolver) ResolveReferences(ctx context.Context, doi string) ([]pipeline.Candidate, error) {
	return nil, nil
}

func printResponse(resp control.Response) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.OK {
		if cliLogger != nil {
			cliLogger.Warn("command returned error response",
				zap.String("code", resp.Code),
				zap.String("error_id", resp.ErrorID))
		}
		return fmt.Errorf("%s", resp.Code)
	}
	return nil
}

var createTaskCmd = &cobra.Command{
	Use:   "create-task [hypothesis]",
	Args:  cobra.ExactArgs(1),
	Short: "create a new research task",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		return printResponse(surface.CreateTask(args[0], store.Budget{MaxPages: maxPages}))
	},
}

var queueTargetsCmd = &cobra.Command{
	Use:   "queue-targets [task_id] [query]",
	Args:  cobra.ExactArgs(2),
	Short: "queue a query target for a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(surface.QueueTargets(args[0], []control.TargetInput{{Kind: "query", Text: args[1]}}))
	},
}

var getStatusCmd = &cobra.Command{
	Use:   "get-status [task_id]",
	Args:  cobra.ExactArgs(1),
	Short: "report a task's budget usage and searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		detail, _ := cmd.Flags().GetString("detail")
		return printResponse(surface.GetStatus(args[0], control.StatusDetail(detail)))
	},
}

var stopTaskCmd = &cobra.Command{
	Use:   "stop-task [task_id]",
	Args:  cobra.ExactArgs(1),
	Short: "stop a task, gracefully by default",
	RunE: func(cmd *cobra.Command, args []string) error {
		graceful, _ := cmd.Flags().GetBool("graceful")
		allJobs, _ := cmd.Flags().GetBool("all-jobs")
		scope := task.StopScopeSearchQueueOnly
		if allJobs {
			scope = task.StopScopeAllJobs
		}
		return printResponse(surface.StopTask(args[0], graceful, scope))
	},
}

var vectorSearchCmd = &cobra.Command{
	Use:   "vector-search [query]",
	Args:  cobra.ExactArgs(1),
	Short: "find the nearest stored fragments to a free-text query",
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return printResponse(surface.VectorSearch(ctx, args[0], topK, store.TargetFragment))
	},
}

var queryViewCmd = &cobra.Command{
	Use:   "query-view [view_name] [task_id]",
	Args:  cobra.ExactArgs(2),
	Short: "render a named read-only view",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return printResponse(surface.QueryView(args[0], args[1], limit))
	},
}

var resolveAuthCmd = &cobra.Command{
	Use:   "resolve-auth [scope] [key] [action]",
	Args:  cobra.ExactArgs(3),
	Short: "resolve, skip, or fail a pending auth-wait item",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(surface.ResolveAuth(authqueue.Scope(args[0]), args[1], authqueue.Action(args[2]), ""))
	},
}

var getAuthQueueCmd = &cobra.Command{
	Use:   "get-auth-queue [task_id]",
	Args:  cobra.MaximumNArgs(1),
	Short: "list pending auth-wait items",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := ""
		if len(args) == 1 {
			taskID = args[0]
		}
		return printResponse(surface.GetAuthQueue(taskID))
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback [claim_id] [true|false]",
	Args:  cobra.ExactArgs(2),
	Short: "record ground-truth correctness for an adopted claim",
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")
		return printResponse(surface.Feedback(args[0], args[1] == "true", note))
	},
}

var calibrationMetricsCmd = &cobra.Command{
	Use:   "calibration-metrics [source]",
	Args:  cobra.ExactArgs(1),
	Short: "report a calibration source's version history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(surface.CalibrationMetrics(args[0]))
	},
}

var calibrationRollbackCmd = &cobra.Command{
	Use:   "calibration-rollback [source] [version]",
	Args:  cobra.ExactArgs(2),
	Short: "reactivate a previous calibration version",
	RunE: func(cmd *cobra.Command, args []string) error {
		var version int
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
		return printResponse(surface.CalibrationRollback(args[0], version))
	},
}

func init() {
	createTaskCmd.Flags().Int("max-pages", 50, "page budget for the task")
	getStatusCmd.Flags().String("detail", "summary", "status detail level: summary or full")
	stopTaskCmd.Flags().Bool("graceful", true, "keep partial results instead of marking the task failed")
	stopTaskCmd.Flags().Bool("all-jobs", false, "drain every queued job, not just the search queue")
	vectorSearchCmd.Flags().Int("top-k", 10, "number of nearest neighbors to return")
	queryViewCmd.Flags().Int("limit", 20, "maximum rows to return")
	feedbackCmd.Flags().String("note", "", "optional free-text context for this feedback sample")
}
