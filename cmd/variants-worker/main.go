// Package main provides the long-running variants worker and its operator
// commands.
//
//	variants-worker consume                       # poll the upload queue
//	variants-worker process --bucket B --key K    # run one object through the pipeline
//	variants-worker render --file F --out-dir D   # render variants locally, no AWS
//	variants-worker history --bucket B --key K    # show ledger rows for an object
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/nextlevel-variants/internal/config"
	"github.com/fpang/nextlevel-variants/internal/lambdaboot"
	"github.com/fpang/nextlevel-variants/internal/logging"
	"github.com/fpang/nextlevel-variants/internal/pipeline"
	"github.com/fpang/nextlevel-variants/internal/s3util"
)

// Build identity, set with -ldflags.
var (
	commitHash string
	buildTime  string
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "variants-worker",
	Short: "Generate resized image variants from upload notifications",
	Long: `variants-worker consumes S3 upload notifications from SQS and writes
standard, thumbnail and (for profile uploads) square profile variants to the
processed bucket. Settings come from defaults, an optional YAML file
(--config or VARIANTS_CONFIG) and environment variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "YAML config file (overrides VARIANTS_CONFIG)")
	rootCmd.AddCommand(consumeCmd, processCmd, renderCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// worker is the AWS-backed pipeline shared by consume and process.
type worker struct {
	aws        lambdaboot.AWSClients
	cfg        *config.Config
	storage    *s3util.BreakerStore
	dispatcher *pipeline.Dispatcher
}

func bootWorker(name string, extra ...pipeline.Recorder) *worker {
	initStart := time.Now()
	awsClients := lambdaboot.InitAWS()
	cfg := lambdaboot.LoadConfigFile(awsClients, config.Path(configFlag))
	storage := lambdaboot.InitStorage(awsClients.Config, cfg)
	ledger := lambdaboot.InitLedgerOptional(awsClients.Config, cfg)
	publisher := lambdaboot.InitEventsOptional(awsClients.Config, cfg)

	w := &worker{
		aws:        awsClients,
		cfg:        cfg,
		storage:    storage,
		dispatcher: pipeline.New(storage, cfg.DispatcherOptions(), lambdaboot.Recorders(ledger, publisher, extra...)...),
	}

	sl := lambdaboot.StartupLog(name, initStart, cfg).CommitHash(commitHash).BuildTime(buildTime)
	if cfg.QueueURL != "" {
		sl.Queue("source", cfg.QueueURL)
	}
	if cfg.DeadLetterQueueURL != "" {
		sl.Queue("deadLetter", cfg.DeadLetterQueueURL)
	}
	sl.Event(log.Info()).Msg("Worker boot complete")
	return w
}
