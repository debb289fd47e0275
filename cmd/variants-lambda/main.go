// Package main provides the Lambda entry point for image variant generation.
//
// The function is triggered by S3 ObjectCreated notifications on the uploads
// bucket. For the first record of each notification it:
//
//  1. Skips keys that are already variants (processed marker) or not images
//  2. Downloads and decodes the source
//  3. Renders standard and thumbnail variants, plus a square profile variant
//     for keys containing "profile"
//  4. Writes each variant to the destination bucket
//
// Per-variant failures are logged and do not fail the invocation. A source
// that cannot be fetched returns an error so Lambda's async retry redelivers
// the event; other fatal failures, including a deleted source, return a 500
// response without retry.
//
// Memory: 1 GB
// Timeout: 1 minute
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nextlevel-variants/internal/lambdaboot"
	"github.com/fpang/nextlevel-variants/internal/logging"
	"github.com/fpang/nextlevel-variants/internal/metrics"
	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

// Build identity, set with -ldflags "-X main.commitHash=... -X main.buildTime=...".
var (
	commitHash string
	buildTime  string
)

var coldStart = true

// Dispatcher built at cold start.
var dispatcher *pipeline.Dispatcher

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	cfg := lambdaboot.LoadConfig(awsClients)
	storage := lambdaboot.InitStorage(awsClients.Config, cfg)
	ledger := lambdaboot.InitLedgerOptional(awsClients.Config, cfg)
	publisher := lambdaboot.InitEventsOptional(awsClients.Config, cfg)

	dispatcher = pipeline.New(storage, cfg.DispatcherOptions(),
		lambdaboot.Recorders(ledger, publisher, metrics.OutcomeEMF{})...)

	lambdaboot.StartupLog("variants-lambda", initStart, cfg).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, s3Event events.S3Event) (pipeline.Response, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "variants-lambda").Msg("Cold start, first invocation")
	}

	return dispatcher.HandleS3Event(ctx, s3Event).Invocation()
}
