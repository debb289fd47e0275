package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/nextlevel-variants/internal/cli"
	"github.com/fpang/nextlevel-variants/internal/config"
	"github.com/fpang/nextlevel-variants/internal/lambdaboot"
)

var (
	historyBucket string
	historyKey    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded invocations for one source object",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyBucket, "bucket", "", "Source bucket")
	historyCmd.Flags().StringVar(&historyKey, "key", "", "Source object key")
	historyCmd.MarkFlagRequired("bucket")
	historyCmd.MarkFlagRequired("key")
}

func runHistory(cmd *cobra.Command, args []string) error {
	awsClients := lambdaboot.InitAWS()
	cfg := lambdaboot.LoadConfigFile(awsClients, config.Path(configFlag))
	ledger := lambdaboot.InitLedgerOptional(awsClients.Config, cfg)
	if ledger == nil {
		return errors.New("LEDGER_TABLE is required for history")
	}

	records, err := ledger.GetOutcomes(cmd.Context(), historyBucket, historyKey)
	if err != nil {
		return err
	}
	return cli.WriteHistory(os.Stdout, records)
}
