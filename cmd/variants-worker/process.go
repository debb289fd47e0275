package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fpang/nextlevel-variants/internal/cli"
	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

var (
	processBucket string
	processKey    string
	processJSON   bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one object through the pipeline",
	Long: `process runs a single invocation for an explicit source bucket and key,
exactly as if an upload notification had arrived. The key is used as-is (not
URL-decoded). Exits non-zero when the invocation fails.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processBucket, "bucket", "", "Source bucket")
	processCmd.Flags().StringVar(&processKey, "key", "", "Source object key")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "Print the outcome as JSON")
	processCmd.MarkFlagRequired("bucket")
	processCmd.MarkFlagRequired("key")
}

func runProcess(cmd *cobra.Command, args []string) error {
	w := bootWorker("variants-worker-process")
	out := w.dispatcher.Handle(cmd.Context(), pipeline.UploadEvent{
		SourceBucket: processBucket,
		Key:          processKey,
		RecordCount:  1,
	})
	if err := printOutcome(out, processJSON); err != nil {
		return err
	}
	if out.Fatal {
		return fmt.Errorf("processing %s failed: %w", processKey, out.Err())
	}
	return nil
}

func printOutcome(out *pipeline.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return cli.WriteOutcome(os.Stdout, out)
}
