// Command memoryctl is an operator CLI for the memory engine: inspect a
// scope's observational record, force an observation or reflection step
// outside the normal request path, and check the search index's health.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortex-memory/internal/bus"
	"github.com/normanking/cortex-memory/internal/clock"
	"github.com/normanking/cortex-memory/internal/cognitive"
	"github.com/normanking/cortex-memory/internal/memorycore"
	"github.com/normanking/cortex-memory/internal/metrics"
	"github.com/normanking/cortex-memory/internal/sqlitestore"
)

var (
	version   = "0.1.0"
	dataDir   string
	verbose   bool
	threadID  string
	resourceID string
	scopeFlag string
	ollamaURL string
	ollamaModel string
	log       zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "memoryctl",
		Short: "Operate the conversational memory engine",
		Long: `memoryctl is an operational tool for the memory engine:
  • inspect a scope's observational record
  • force an observation or reflection step
  • check the search index's health

Inspect a scope:   memoryctl inspect --resource res-1
Force a step:      memoryctl observe --resource res-1
Index health:      memoryctl index check`,
		PersistentPreRunE: initLogging,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "database directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&threadID, "thread", "", "thread id")
	rootCmd.PersistentFlags().StringVar(&resourceID, "resource", "", "resource id")
	rootCmd.PersistentFlags().StringVar(&scopeFlag, "scope", "resource", "memory scope: thread|resource")
	rootCmd.PersistentFlags().StringVar(&ollamaURL, "ollama-url", "", "Ollama endpoint for observe/reflect (default http://127.0.0.1:11434)")
	rootCmd.PersistentFlags().StringVar(&ollamaModel, "ollama-model", "", "Ollama model for observe/reflect")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memoryctl v%s\n", version)
		},
	})

	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(observeCmd())
	rootCmd.AddCommand(reflectCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(tasksCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cortex-memory"
	}
	return filepath.Join(home, ".cortex-memory")
}

// openStore opens the sqlite-backed Store and returns a cleanup func.
func openStore() (*sqlitestore.Store, func(), error) {
	store, err := sqlitestore.Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store, func() { store.Close() }, nil
}

func scope() memorycore.MemoryScope {
	if strings.EqualFold(scopeFlag, "thread") {
		return memorycore.ScopeThread
	}
	return memorycore.ScopeResource
}

func requireScopeIDs() error {
	if scope() == memorycore.ScopeThread && threadID == "" {
		return fmt.Errorf("--thread is required for --scope thread")
	}
	if scope() == memorycore.ScopeResource && resourceID == "" {
		return fmt.Errorf("--resource is required for --scope resource")
	}
	return nil
}

// chatProvider builds the Ollama-backed SimpleChatProvider shared by the
// observe and reflect commands.
func chatProvider() cognitive.SimpleChatProvider {
	provider := cognitive.NewOllamaProvider(ollamaURL, ollamaModel)
	return cognitive.NewLLMProviderChatAdapter(provider)
}

// taskPublisher wraps a fresh, process-local Bus so `tasks` subcommands
// fire the same task-updated event a long-running server would publish
// through memorycore.TaskGraph, without requiring a server to be up.
func taskPublisher() (*bus.Bus, memorycore.TaskUpdatedPublisher) {
	b := bus.NewBus()
	return b, bus.NewTaskPublisher(b)
}

// startMetrics wires a process-local Bus to a metrics.Collector backed by
// the engine's own database, so observe/reflect commands can bracket their
// engine call with bus events and print a one-line summary afterward.
func startMetrics(store *sqlitestore.Store) (*bus.Bus, *metrics.Collector, func(), error) {
	mstore, err := metrics.NewStore(store.DB())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open metrics store: %w", err)
	}
	b := bus.NewBus()
	collector := metrics.NewCollector(b, mstore)
	collector.Start()
	cleanup := func() {
		collector.Stop()
		summary := mstore.GetSummary()
		fmt.Printf("metrics: total_events=%d success_rate=%.0f%% avg_latency_ms=%.1f\n",
			summary.TotalEvents, summary.SuccessRate, summary.AvgLatencyMs)
	}
	return b, collector, cleanup, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// INSPECT
// ═══════════════════════════════════════════════════════════════════════════

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the observational record for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScopeIDs(); err != nil {
				return err
			}
			store, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			rec, err := store.GetOrCreateObservationalMemory(ctx, scope(), threadID, resourceID, memorycore.DefaultObservationalMemoryConfig())
			if err != nil {
				return fmt.Errorf("load observational memory: %w", err)
			}

			fmt.Printf("lookup_key:       %s\n", rec.LookupKey)
			fmt.Printf("generation:       %d\n", rec.GenerationCount)
			fmt.Printf("observing:        %v\n", rec.IsObserving)
			fmt.Printf("reflecting:       %v\n", rec.IsReflecting)
			fmt.Printf("buffering(obs):   %v\n", rec.IsBufferingObservation)
			fmt.Printf("buffering(refl):  %v\n", rec.IsBufferingReflection)
			fmt.Printf("lease owner:      %q (expires %s)\n", rec.Lease.OwnerID, rec.Lease.ExpiresAt)
			fmt.Printf("observed count:   %d\n", len(rec.ObservedMessageIDs))
			fmt.Printf("buffered chunks:  %d\n", len(rec.BufferedObservationChunks))
			fmt.Printf("active_observations (%d bytes):\n%s\n", len(rec.ActiveObservations), rec.ActiveObservations)

			reflections, err := store.ListReflections(ctx, threadID, resourceID, 5)
			if err != nil {
				return fmt.Errorf("list reflections: %w", err)
			}
			fmt.Printf("\nlast %d reflections:\n", len(reflections))
			for _, r := range reflections {
				fmt.Printf("  [gen %d] %s\n", r.GenerationCount, truncate(r.Content, 80))
			}
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// OBSERVE / REFLECT
// ═══════════════════════════════════════════════════════════════════════════

func observeCmd() *cobra.Command {
	var stepNumber int
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Force an observation step against all messages currently in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScopeIDs(); err != nil {
				return err
			}
			store, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			evBus, _, stopMetrics, err := startMetrics(store)
			if err != nil {
				return err
			}
			defer stopMetrics()

			tokens := memorycore.DefaultTokenCounter{}
			engine := memorycore.NewObservationEngine(store, tokens, clock.Real{}, "memoryctl", log)
			msgs, err := store.ListMessages(ctx, threadID, resourceID, 500)
			if err != nil {
				return fmt.Errorf("list messages: %w", err)
			}

			startEvent := bus.NewEvent(bus.EventObservationStarted)
			startEvent.ThreadID, startEvent.ResourceID = threadID, resourceID
			_ = evBus.Publish(startEvent)

			result, err := engine.Step(ctx, memorycore.StepInput{
				ThreadID:   threadID,
				ResourceID: resourceID,
				Scope:      scope(),
				Messages:   msgs,
				StepNumber: stepNumber,
				Observer:   memorycore.NewChatObserver(chatProvider()),
				Reflector:  memorycore.NewChatReflector(chatProvider()),
			})

			doneEvent := bus.NewEvent(bus.EventObservationCompleted)
			doneEvent.ThreadID, doneEvent.ResourceID = threadID, resourceID
			if err != nil {
				doneEvent.Error = err.Error()
			} else {
				doneEvent.GenerationCount = result.Record.GenerationCount
			}
			_ = evBus.Publish(doneEvent)

			if err != nil {
				return fmt.Errorf("observation step: %w", err)
			}

			fmt.Printf("did_observe: %v\n", result.DidObserve)
			fmt.Printf("observations_injected: %v\n", result.ObservationsInjected)
			fmt.Printf("generation: %d\n", result.Record.GenerationCount)
			return nil
		},
	}
	cmd.Flags().IntVar(&stepNumber, "step", 1, "step number (0 forces the buffer-activation path)")
	return cmd
}

func reflectCmd() *cobra.Command {
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Force a reflection of the scope's current active observations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScopeIDs(); err != nil {
				return err
			}
			store, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			evBus, _, stopMetrics, err := startMetrics(store)
			if err != nil {
				return err
			}
			defer stopMetrics()

			rec, err := store.GetOrCreateObservationalMemory(ctx, scope(), threadID, resourceID, memorycore.DefaultObservationalMemoryConfig())
			if err != nil {
				return fmt.Errorf("load observational memory: %w", err)
			}
			if rec.ActiveObservations == "" {
				fmt.Println("nothing to reflect: active_observations is empty")
				return nil
			}

			startEvent := bus.NewEvent(bus.EventReflectionStarted)
			startEvent.ThreadID, startEvent.ResourceID = threadID, resourceID
			_ = evBus.Publish(startEvent)

			engine := memorycore.NewReflectionEngine(store, clock.Real{}, "memoryctl", log)
			reflection, err := engine.Reflect(ctx, rec, memorycore.NewChatReflector(chatProvider()), maxRetries)

			doneEvent := bus.NewEvent(bus.EventReflectionCompleted)
			doneEvent.ThreadID, doneEvent.ResourceID = threadID, resourceID
			if err != nil {
				doneEvent.Error = err.Error()
			} else if reflection != nil {
				doneEvent.GenerationCount = reflection.GenerationCount
			}
			_ = evBus.Publish(doneEvent)

			if err != nil {
				return fmt.Errorf("reflect: %w", err)
			}
			if reflection == nil {
				fmt.Println("another instance holds the lease; no-op")
				return nil
			}
			fmt.Printf("generation: %d\n", reflection.GenerationCount)
			fmt.Printf("content:\n%s\n", reflection.Content)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", 2, "compression-guidance retries before accepting the reflector's output")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════
// INDEX
// ═══════════════════════════════════════════════════════════════════════════

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Search index operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Run a canary FTS5 query against messages and tasks to confirm the index is live",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			msgHits, err := store.SearchMessages(ctx, "the", 1, "")
			if err != nil {
				return fmt.Errorf("messages_fts: %w", err)
			}
			taskHits, err := store.SearchTasks(ctx, "the", 1)
			if err != nil {
				return fmt.Errorf("tasks_fts: %w", err)
			}
			fmt.Printf("messages_fts: reachable (%d sample hits)\n", len(msgHits))
			fmt.Printf("tasks_fts:    reachable (%d sample hits)\n", len(taskHits))
			return nil
		},
	})
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════
// TASKS
// ═══════════════════════════════════════════════════════════════════════════

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the task dependency graph",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ready",
		Short: "List tasks with no open blocking dependency",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			_, pub := taskPublisher()
			graph := memorycore.NewTaskGraph(store, pub, clock.Real{}, log)
			ready, err := graph.ReadySet(ctx)
			if err != nil {
				return fmt.Errorf("ready set: %w", err)
			}
			for _, t := range ready {
				fmt.Printf("[%s] %s (priority %d)\n", t.ID, t.Title, t.Priority)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "order",
		Short: "Print the leaf-dependencies-first execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			_, pub := taskPublisher()
			graph := memorycore.NewTaskGraph(store, pub, clock.Real{}, log)
			order, err := graph.ExecutionOrder(ctx)
			if err != nil {
				return fmt.Errorf("execution order: %w", err)
			}
			for i, id := range order {
				fmt.Printf("%d. %s\n", i+1, id)
			}
			return nil
		},
	})
	return cmd
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
