// Package cli implements the bulkgen command: validate a workbook, run it
// through the engine offline and write the result archive, or produce the
// blank template.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"talkstudio/internal/bootstrap"
	"talkstudio/internal/domain"
	"talkstudio/internal/infra"
	"talkstudio/internal/packager"
	"talkstudio/internal/workbook"
)

// RootCmd assembles bulkgen and its subcommands.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bulkgen",
		Short: "Generate sample chat conversations from a scenario workbook",
		Long: `bulkgen reads an .xlsx workbook of scenarios, generates one conversation
per row with the configured providers and packages the results as a zip.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(ValidateCmd())
	root.AddCommand(RunCmd())
	root.AddCommand(TemplateCmd())
	return root
}

// ValidateCmd checks a workbook and lists every issue.
func ValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.xlsx>",
		Short: "Check a workbook without generating anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			records, err := ingestFile(args[0])
			if err != nil {
				return reportIngest(out, err)
			}
			fmt.Fprintf(out, "%s %d scenarios ready\n", color.New(color.FgGreen).Sprint("OK"), len(records))
			return nil
		},
	}
}

// RunCmd generates every row and writes the archive.
func RunCmd() *cobra.Command {
	var (
		outPath   string
		synthetic bool
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "run <file.xlsx>",
		Short: "Generate conversations and write the result archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			records, err := ingestFile(args[0])
			if err != nil {
				return reportIngest(out, err)
			}

			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			// The CLI keeps everything in this process.
			cfg.StoreDriver = infra.StoreMemory
			cfg.ArchiveSink = infra.SinkNone
			if synthetic {
				cfg.Generation.AllowSynthetic = true
			}
			logger := zerolog.Nop()
			if verbose {
				logger = infra.NewLogger("development")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			engine, err := bootstrap.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			job, err := engine.Orchestrator.Submit(ctx, filepath.Base(args[0]), records)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Job %s: %d scenarios\n", job.ID, job.TotalCount())
			if _, err := engine.Orchestrator.Run(ctx, job.ID); err != nil {
				return fmt.Errorf("run job: %w", err)
			}
			data, finished, err := engine.Orchestrator.Archive(ctx, job.ID)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = packager.FileName(finished)
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}

			printSummary(out, finished)
			fmt.Fprintf(out, "Archive written to %s\n", outPath)
			if finished.Status == domain.JobStatusFailed {
				return errors.New("every scenario failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "archive path (default talkstudio_<job>.zip)")
	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "fall back to offline sample conversations")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log engine progress to stdout")
	return cmd
}

// TemplateCmd writes the blank workbook.
func TemplateCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the scenario workbook template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := workbook.Template()
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "template.xlsx", "template path")
	return cmd
}

func ingestFile(path string) ([]domain.ScenarioRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	return workbook.Ingest(data)
}

func reportIngest(out io.Writer, err error) error {
	var vf *workbook.ValidationFailure
	if !errors.As(err, &vf) {
		return err
	}
	red := color.New(color.FgRed)
	fmt.Fprintf(out, "%s %d issue(s)\n", red.Sprint("INVALID"), len(vf.Issues))
	for _, issue := range vf.Issues {
		where := "file"
		if issue.Row > 0 {
			where = fmt.Sprintf("row %d", issue.Row)
		}
		if issue.Column != "" {
			where += " [" + issue.Column + "]"
		}
		fmt.Fprintf(out, "  %s: %s\n", where, issue.Message)
	}
	return workbook.ErrInvalidWorkbook
}

func printSummary(out io.Writer, job *domain.BulkJob) {
	status := color.New(color.FgGreen)
	switch job.Status {
	case domain.JobStatusPartiallyCompleted:
		status = color.New(color.FgYellow)
	case domain.JobStatusFailed:
		status = color.New(color.FgRed)
	}
	fmt.Fprintf(out, "Status: %s (%d ok, %d failed)\n", status.Sprint(job.Status), job.CompletedCount, job.FailedCount)
	for _, e := range job.View().Errors {
		fmt.Fprintf(out, "  row %d %s: %s\n", e.RowIndex, color.New(color.FgRed).Sprint(e.Cause), e.Message)
	}
}
