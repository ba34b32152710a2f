package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yumyai/stat3deg/internal/util"
	"github.com/yumyai/stat3deg/logger"
	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/pipeline"
	"github.com/yumyai/stat3deg/pkg/store"
)

const VERSION = "0.1.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "stat3deg",
	Short: "Differential expression of the STAT3 knockout RNA-seq experiment",
	Long: `stat3deg loads per-sample gene counts, filters them, draws exploratory
plots, tests every configured contrast with a negative binomial GLM and
compares the significant genes with external gene lists.

Input and output locations come from the experiment file, .env and the
STAT3DEG_DATA / STAT3DEG_OUT / STAT3DEG_CONFIG environment variables.`,
	Version:       VERSION,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			logLevel = os.Getenv(config.EnvLogLevel)
		}
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		return logger.InitLogger(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "experiment file (default $STAT3DEG_CONFIG or <data_dir>/experiment.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default $STAT3DEG_LOG_LEVEL or info)")
	rootCmd.AddCommand(runCmd, ruvCmd, overlapCmd, runsCmd, showCmd)
}

func main() {
	// Establish logger, re-initialised once --log-level is parsed
	if err := logger.InitLogger(zapcore.InfoLevel); err != nil {
		panic(err)
	}
	// Try load env before flags are resolved
	config.LoadEnv()
	defer logger.Sync() // Make sure that the buffered is flushed.

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Fatal("stat3deg failed", zap.Error(err))
	}
}

// open loads the experiment and the results store shared by its runs.
func open() (*config.Config, *store.Store, error) {
	if configPath != "" && !util.FileExists(configPath) {
		return nil, nil, fmt.Errorf("experiment file %s not found", configPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(filepath.Join(cfg.OutputDir, "results.db"))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Start:", zap.String("Version", VERSION), zap.String("config", cfg.Path()), zap.String("db", st.Path()))
	return cfg, st, nil
}

func withPipeline(fn func(ctx context.Context, p *pipeline.Pipeline, st *store.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, st, err := open()
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cmd.Context(), pipeline.New(cfg, st), st)
	}
}
