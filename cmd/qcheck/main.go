// Package main provides the qcheck CLI: validate a single record, run a
// CSV batch, or lint a schema document.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qualitycheck/qcheck/pkg/lint"
	"github.com/qualitycheck/qcheck/pkg/qcheck"
	"github.com/qualitycheck/qcheck/pkg/qcheck/schemaio"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qcheck",
		Short: "Declarative quality-check engine for clinical-research form records",
	}
	root.AddCommand(newValidateCmd(), newBulkCmd(), newLintCmd())
	return root
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// loadSchema reads and decodes a schema document. formatOverride may be
// empty (auto-detect by content), or "json"/"yaml" to force a format when a
// file extension or stdin pipe makes auto-detection unreliable.
func loadSchema(path, primaryKey, formatOverride string) (*qcheck.Schema, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}

	format := schemaio.DetectFormat(data)
	if formatOverride != "" {
		f, ok := schemaio.ParseFormat(formatOverride)
		if !ok {
			return nil, fmt.Errorf("reading schema: unrecognized --format %q", formatOverride)
		}
		format = f
	}

	var fields []qcheck.OrderedField
	switch format {
	case schemaio.FormatJSON:
		fields, err = schemaio.LoadJSON(data)
	default:
		fields, err = schemaio.LoadYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s schema: %w", schemaio.FormatName(format), err)
	}
	return qcheck.BuildSchema(fields, primaryKey)
}

func newValidateCmd() *cobra.Command {
	var schemaPath, recordPath, primaryKey, format string
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate one record against a schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			schema, err := loadSchema(schemaPath, primaryKey, format)
			if err != nil {
				return err
			}

			recordData, err := readInput(recordPath)
			if err != nil {
				return fmt.Errorf("reading record: %w", err)
			}
			var raw map[string]any
			if err := json.Unmarshal(recordData, &raw); err != nil {
				return fmt.Errorf("parsing record: %w", err)
			}

			qc, err := qcheck.New(schema, primaryKey, strict, nil, logger)
			if err != nil {
				return err
			}

			result := qc.ValidateRecord(context.Background(), qcheck.NewRecord(raw))
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if !result.Passed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema document (JSON or YAML; - or empty for stdin)")
	cmd.Flags().StringVar(&recordPath, "record", "", "record document (JSON; - or empty for stdin)")
	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "primary key field name (required)")
	cmd.Flags().StringVar(&format, "format", "", "force schema format (json or yaml) instead of auto-detecting")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject records with undeclared fields")
	cmd.MarkFlagRequired("primary-key")
	return cmd
}

func newBulkCmd() *cobra.Command {
	var schemaPath, csvPath, outPath, primaryKey, format string
	var strict bool

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Validate every row of a CSV batch against a schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := uuid.New().String()
			logger, _ := zap.NewProduction()
			defer logger.Sync()
			logger = logger.With(zap.String("batch_id", batchID))

			schema, err := loadSchema(schemaPath, primaryKey, format)
			if err != nil {
				return err
			}

			qc, err := qcheck.New(schema, primaryKey, strict, nil, logger)
			if err != nil {
				return err
			}

			in, err := os.Open(csvPath)
			if err != nil {
				return fmt.Errorf("opening csv: %w", err)
			}
			defer in.Close()

			var out io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating output: %w", err)
				}
				defer f.Close()
				out = f
			}

			anyFailed, err := runBulk(context.Background(), qc, logger, primaryKey, in, out)
			if err != nil {
				return err
			}
			if anyFailed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema document (JSON or YAML)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "input CSV of records, one row per record")
	cmd.Flags().StringVar(&outPath, "out", "", "output CSV report (defaults to stdout)")
	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "primary key field name (required)")
	cmd.Flags().StringVar(&format, "format", "", "force schema format (json or yaml) instead of auto-detecting")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject records with undeclared fields")
	cmd.MarkFlagRequired("schema")
	cmd.MarkFlagRequired("csv")
	cmd.MarkFlagRequired("primary-key")
	return cmd
}

// runBulk reads one CSV record per row (header row names the fields),
// validates each through qc, and writes a per-record summary row: the
// primary key, pass/fail, system-failure flag, and a semicolon-joined
// error summary.
func runBulk(ctx context.Context, qc *qcheck.QualityCheck, logger *zap.Logger, primaryKey string, in io.Reader, out io.Writer) (anyFailed bool, err error) {
	reader := csv.NewReader(in)
	header, err := reader.Read()
	if err != nil {
		return false, fmt.Errorf("reading csv header: %w", err)
	}

	writer := csv.NewWriter(out)
	defer writer.Flush()
	if err := writer.Write([]string{"primary_key", "passed", "sys_failure", "errors"}); err != nil {
		return false, err
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return anyFailed, fmt.Errorf("reading csv row: %w", err)
		}

		raw := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) && row[i] != "" {
				raw[col] = row[i]
			}
		}
		record := qcheck.NewRecord(raw)

		result := qc.ValidateRecord(ctx, record)
		if !result.Passed {
			anyFailed = true
		}

		errSummary := ""
		for field, msgs := range result.Errors {
			for _, msg := range msgs {
				if errSummary != "" {
					errSummary += "; "
				}
				errSummary += field + ": " + msg
			}
		}
		if result.SystemFailure {
			errSummary = result.SystemError
			logger.Error("system failure validating record", zap.String("error", result.SystemError))
		}

		pk := fmt.Sprintf("%v", raw[primaryKey])
		if err := writer.Write([]string{pk, fmt.Sprintf("%v", result.Passed), fmt.Sprintf("%v", result.SystemFailure), errSummary}); err != nil {
			return anyFailed, err
		}
	}

	return anyFailed, nil
}

func newLintCmd() *cobra.Command {
	var schemaPath, primaryKey, format string

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Statically check a schema document for shape errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(schemaPath)
			if err != nil {
				return fmt.Errorf("reading schema: %w", err)
			}

			detected := schemaio.DetectFormat(data)
			if format != "" {
				f, ok := schemaio.ParseFormat(format)
				if !ok {
					return fmt.Errorf("unrecognized --format %q", format)
				}
				detected = f
			}

			var fields []qcheck.OrderedField
			if detected == schemaio.FormatJSON {
				fields, err = schemaio.LoadJSON(data)
			} else {
				fields, err = schemaio.LoadYAML(data)
			}
			if err != nil {
				return fmt.Errorf("reading %s schema: %w", schemaio.FormatName(detected), err)
			}

			result := lint.Run(fields, primaryKey)
			for _, issue := range result.Issues {
				icon := "warning"
				if issue.Severity == "error" {
					icon = "error"
				}
				location := ""
				if issue.Field != "" {
					location += fmt.Sprintf(" [field: %s]", issue.Field)
				}
				if issue.Rule != "" {
					location += fmt.Sprintf(" [rule: %s]", issue.Rule)
				}
				fmt.Printf("%s%s: %s\n", icon, location, issue.Message)
			}
			if len(result.Issues) == 0 {
				fmt.Println("no issues found")
			}
			if !result.Valid {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema document (JSON or YAML; - or empty for stdin)")
	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "primary key field name")
	cmd.Flags().StringVar(&format, "format", "", "force schema format (json or yaml) instead of auto-detecting")
	return cmd
}
