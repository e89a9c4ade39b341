package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joelkehle/greenlight/internal/config"
	"github.com/joelkehle/greenlight/internal/ingest"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/manuscript"
)

func newAnalyzeCmd(cfg *config.Config) *cobra.Command {
	var (
		timeRange string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze a manuscript file, or stdin when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.FromContext(ctx)

			tr, err := manuscript.ParseTimeRange(timeRange)
			if err != nil {
				return err
			}
			doc, err := readManuscript(cmd, args)
			if err != nil {
				return err
			}
			pipeline, err := newPipeline(cfg, log, nil)
			if err != nil {
				return err
			}

			rep, err := pipeline.RunWithProgress(ctx, doc.Text, tr, func(stage, message string) {
				log.Info(message, "stage", stage)
			})
			if err != nil {
				var ae *manuscript.AnalysisError
				if errors.As(err, &ae) {
					return errors.New(ae.UserMessage())
				}
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			_, err = fmt.Fprintln(out, rep.Text)
			return err
		},
	}
	cmd.Flags().StringVar(&timeRange, "time-range", "all", "comparable title range: all or recent")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report with metadata as JSON")
	return cmd
}

func readManuscript(cmd *cobra.Command, args []string) (ingest.Document, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), ingest.MaxUploadBytes+1))
		if err != nil {
			return ingest.Document{}, fmt.Errorf("read stdin: %w", err)
		}
		return ingest.FromText(string(data)), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return ingest.Document{}, err
	}
	return ingest.Extract(cmd.Context(), filepath.Base(args[0]), data)
}
