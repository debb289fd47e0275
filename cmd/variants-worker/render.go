package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fpang/nextlevel-variants/internal/cli"
	"github.com/fpang/nextlevel-variants/internal/config"
	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

var (
	renderFile   string
	renderOutDir string
	renderJSON   bool
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render variants of a local file into a directory",
	Long: `render applies the same skip rules, classification and transforms as
the queue worker to a local file and writes the variants to --out-dir. It
needs no AWS access. The file name plays the role of the object key, so a
name containing "profile" also produces the square profile variant.`,
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderFile, "file", "f", "", "Source image file")
	renderCmd.Flags().StringVarP(&renderOutDir, "out-dir", "o", "variants", "Directory for rendered variants")
	renderCmd.Flags().BoolVar(&renderJSON, "json", false, "Print the outcome as JSON")
	renderCmd.MarkFlagRequired("file")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(config.Path(configFlag))
	if err != nil {
		return err
	}
	outDir, err := cli.EnsureDirectory(renderOutDir)
	if err != nil {
		return err
	}

	storage := cli.LocalStorage{SourceDir: filepath.Dir(renderFile), OutDir: outDir}
	d := pipeline.New(storage, cfg.DispatcherOptions())
	out := d.Handle(cmd.Context(), pipeline.UploadEvent{
		SourceBucket: "local",
		Key:          filepath.Base(renderFile),
		RecordCount:  1,
	})
	if err := printOutcome(out, renderJSON); err != nil {
		return err
	}
	if out.Fatal {
		return fmt.Errorf("render %s failed: %w", renderFile, out.Err())
	}
	return nil
}
