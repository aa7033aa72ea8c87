package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tapcanvas/internal/config"
	"tapcanvas/internal/logging"
)

var (
	// Global flags
	configPath string
	dbPath     string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tapcanvas",
	Short: "tapcanvas - conversational turn orchestrator for the creative canvas",
	Long: `tapcanvas runs one conversation turn at a time for the creative canvas
assistant: it routes the message to a creative role, decides which tool
tier the turn may use, synthesizes the reply with canvas tool calls,
gates storyboard/video generation behind continuity locks and content
safety, and compresses long conversations in the background.

State lives in a local SQLite file; the orchestrator itself is stateless.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Provider keys and the AutoRAG secret come from the environment.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = logging.New(cfg.Debug || verbose)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (optional)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "tapcanvas.db", "path to the conversation SQLite database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(turnCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
