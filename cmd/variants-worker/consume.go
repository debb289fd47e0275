package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/nextlevel-variants/internal/consumer"
	"github.com/fpang/nextlevel-variants/internal/health"
	"github.com/fpang/nextlevel-variants/internal/metrics"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Poll the upload queue until interrupted",
	RunE:  runConsume,
}

func runConsume(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewProm(reg)

	w := bootWorker("variants-worker", prom)
	if w.cfg.QueueURL == "" {
		return errors.New("QUEUE_URL is required for consume")
	}

	c := consumer.New(sqs.NewFromConfig(w.aws.Config), w.dispatcher, consumer.Options{
		QueueURL:           w.cfg.QueueURL,
		DeadLetterQueueURL: w.cfg.DeadLetterQueueURL,
		Concurrency:        w.cfg.WorkerConcurrency,
		WaitTime:           w.cfg.PollWait,
		RetryDelay:         w.cfg.RetryDelay,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if w.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return health.Serve(ctx, w.cfg.MetricsAddr, health.NewRouter(reg, w.storage))
		})
	}
	g.Go(func() error {
		return c.Run(ctx)
	})
	return g.Wait()
}
