package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joelkehle/greenlight/internal/chunk"
	"github.com/joelkehle/greenlight/internal/config"
	"github.com/joelkehle/greenlight/internal/llm"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/manuscript"
	"github.com/joelkehle/greenlight/internal/metrics"
)

var version = "dev"

type rootFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cfg := &config.Config{}
	root := &cobra.Command{
		Use:           "greenlight",
		Short:         "Commercial market analysis for book manuscripts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				loaded.Log.Level = flags.logLevel
			}
			if cmd.Flags().Changed("log-json") {
				loaded.Log.JSON = flags.logJSON
			}
			*cfg = *loaded
			log := logger.Setup(cfg.Log.Level, cfg.Log.JSON)
			cmd.SetContext(logger.ContextWithLogger(cmd.Context(), log))
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to a YAML config file (default "+config.DefaultPath+" when present)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.logJSON, "log-json", false, "emit JSON logs")

	root.AddCommand(newServeCmd(cfg), newAnalyzeCmd(cfg), newSignupsCmd(cfg))
	return root
}

// newCompleter builds the chat session for the configured provider.
func newCompleter(cfg *config.Config, log logger.Logger) (llm.Completer, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	if strings.EqualFold(cfg.LLM.Provider, "anthropic") {
		model := ""
		if strings.HasPrefix(cfg.LLM.Model, "claude") {
			model = cfg.LLM.Model
		}
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   model,
		})
	}
	return llm.NewClient(llm.ClientConfig{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		OrganizationID: cfg.LLM.OrganizationID,
		RetryCount:     cfg.LLM.RetryCount,
		BackoffFactor:  cfg.LLM.BackoffFactor.Duration,
		Timeout:        cfg.LLM.Timeout.Duration,
		Logger:         log,
	})
}

func newPipeline(cfg *config.Config, log logger.Logger, m *metrics.Metrics) (*manuscript.Pipeline, error) {
	session, err := newCompleter(cfg, log)
	if err != nil {
		return nil, err
	}
	tok, err := chunk.NewTiktokenTokenizer(cfg.Analysis.Tokenizer)
	if err != nil {
		return nil, err
	}
	opts := manuscript.Options{
		Model:          cfg.LLM.Model,
		Attempts:       cfg.Analysis.Attempts,
		AttemptTimeout: cfg.Analysis.AttemptTimeout.Duration,
		CallTimeout:    cfg.Analysis.CallTimeout.Duration,
		Backoff:        cfg.Analysis.Backoff.Duration,
		MaxWords:       cfg.Analysis.MaxWords,
		Recency:        manuscript.RecencyPolicy{ReferenceYear: cfg.Analysis.ReferenceYear},
		Logger:         log,
		Metrics:        m,
	}
	return manuscript.NewPipeline(session, chunk.New(tok, cfg.Analysis.MaxTokens), opts), nil
}
