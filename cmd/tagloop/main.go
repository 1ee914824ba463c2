// Command tagloop runs a code-editing session against a project directory:
// it sends the task to a language model, applies the XML actions the model
// replies with, and iterates until the model declares done or a budget runs
// out.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/martinemde/tagloop/actionloop"
	"github.com/martinemde/tagloop/config"
	"github.com/martinemde/tagloop/overview"
	"github.com/martinemde/tagloop/textgen"
)

var (
	flagPrompt  string
	flagConfig  string
	flagProject string
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tagloop",
		Short: "Agentic code editing driven by XML actions",
		Long: `tagloop pairs a text-only language model with a project directory.
The model replies with write_file, edit_file, need_context, and done tags;
tagloop applies the edits, runs the configured lint and compile commands,
and feeds the results back until the task is finished.`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "task description (required); @path mentions preload files")
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "tagloop.yaml", "path to the configuration file")
	rootCmd.Flags().StringVar(&flagProject, "project", ".", "project directory the session edits")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "print session events as they happen")
	_ = rootCmd.MarkFlagRequired("prompt")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tagloop:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	root, err := filepath.Abs(flagProject)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := buildClient(cfg.LLM)
	if err != nil {
		return err
	}
	defer client.Close()

	session := buildSession(cfg, root, client, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range session.Events() {
			if flagVerbose {
				fmt.Printf("[%s] %v\n", ev.Kind, ev.Data)
			}
		}
	}()

	report, runErr := session.Run(ctx, flagPrompt)
	<-done

	fmt.Printf("session %s: %s after %d turn(s)\n", report.SessionID, report.State, report.Turns)
	if report.Summary != "" {
		fmt.Println(report.Summary)
	}
	return runErr
}

func buildSession(cfg *config.Config, root string, client *textgen.Client, logger *zap.Logger) *actionloop.Session {
	sessionCfg := actionloop.DefaultSessionConfig()
	sessionCfg.MaxTurns = cfg.Session.MaxTurns
	sessionCfg.ProtocolRetries = cfg.Session.ProtocolRetries
	sessionCfg.EnableLoopDetection = !cfg.Session.DisableLoopDetection
	sessionCfg.LoopDetectionWindow = cfg.Session.LoopDetectionWindow
	sessionCfg.Provider = cfg.LLM.Provider
	sessionCfg.Model = cfg.LLM.Model

	opts := []actionloop.SessionOption{actionloop.WithLogger(logger)}

	resolverOpts := []actionloop.ResolverOption{
		actionloop.WithMaxGrepResults(cfg.Session.MaxGrepResults),
	}
	if p := buildOverviewProvider(cfg.Overview); p != nil {
		resolverOpts = append(resolverOpts, actionloop.WithOverviewProvider(p))
	}
	opts = append(opts, actionloop.WithResolver(
		actionloop.NewContextResolver(root, logger, resolverOpts...)))

	if cfg.Lint.Command != "" {
		opts = append(opts, actionloop.WithVerifiers(
			actionloop.NewVerifier(actionloop.VerifyLint, cfg.Lint.Command, checkDir(cfg.Lint, root), cfg.Lint.Timeout(), logger)))
	}
	if cfg.Compile.Command != "" {
		opts = append(opts, actionloop.WithVerifiers(
			actionloop.NewVerifier(actionloop.VerifyCompile, cfg.Compile.Command, checkDir(cfg.Compile, root), cfg.Compile.Timeout(), logger)))
	}

	return actionloop.NewSession(root, client, &sessionCfg, opts...)
}

func checkDir(cfg config.CheckConfig, root string) string {
	if cfg.Cwd != "" {
		return cfg.Cwd
	}
	return root
}

func buildClient(cfg config.LLMConfig) (*textgen.Client, error) {
	var adapterOpts []textgen.GollmAdapterOption
	if cfg.Model != "" {
		adapterOpts = append(adapterOpts, textgen.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		adapterOpts = append(adapterOpts, textgen.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxTokens > 0 {
		adapterOpts = append(adapterOpts, textgen.WithMaxTokens(cfg.MaxTokens))
	}
	adapterOpts = append(adapterOpts, textgen.WithTemperature(cfg.Temperature))

	adapter, err := textgen.NewGollmAdapter(cfg.Provider, cfg.APIKey, adapterOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize %s provider: %w", cfg.Provider, err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	client := textgen.NewClient(
		textgen.WithProvider(cfg.Provider, adapter),
		textgen.WithDefaultProvider(cfg.Provider),
		textgen.WithTimeout(timeout),
		textgen.WithMiddleware(textgen.RetryMiddleware(textgen.DefaultRetryPolicy())),
	)
	return client, nil
}

func buildOverviewProvider(cfg config.OverviewConfig) overview.Provider {
	if cfg.Dir != "" {
		return overview.NewDirProvider(cfg.Dir)
	}
	if cfg.Command != "" {
		return overview.NewCommandProvider(cfg.Command, cfg.Args, "")
	}
	return nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
	return zap.New(core), nil
}
