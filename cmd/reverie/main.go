package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reverie/internal/config"
	"reverie/internal/logging"
	"reverie/internal/runtime"
)

const version = "0.3.0"

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded by the root PersistentPreRunE before any command runs.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reverie",
	Short: "reverie - an always-on agent with memory and an inner voice",
	Long: `reverie is an agent runtime. It remembers everything it sees in an
append-only event log, recalls semantically related moments through a
vector index, answers through a per-room decision pipeline, and keeps
thinking between messages in a private monologue.

Configuration is read from reverie.yaml in the working directory;
override the location with --config. A missing file runs on defaults.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return logging.Initialize(logging.Options{
			Level:      level,
			Categories: cfg.Logging.Categories,
			JSON:       cfg.Logging.JSON,
			Path:       cfg.Logging.File,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// runCmd keeps the agent alive until a signal arrives
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted",
	Long: `Starts the full runtime: the store, the model router, the message
pipeline, registered background services, and the autonomy loop. Runs
until SIGINT or SIGTERM, then shuts down in reverse order and writes a
fresh vector index snapshot.`,
	RunE: runAgent,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reverie %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "reverie.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runAgent brings the runtime up and blocks until shutdown.
func runAgent(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	agent, err := runtime.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Boot("Received shutdown signal")
		cancel()
	}()

	if err := agent.Start(ctx); err != nil {
		agent.Stop(context.Background())
		return err
	}
	fmt.Printf("reverie %s running as %q (ctrl-c to stop)\n", version, agent.Agent().Name)

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	return agent.Stop(stopCtx)
}
