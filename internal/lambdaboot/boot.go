// Package lambdaboot provides shared cold-start bootstrap for the Lambda and
// the queue worker: AWS config, clients for the optional sinks, and SSM
// parameter resolution. Each entry point's init is a short composition of
// these helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nextlevel-variants/internal/config"
	"github.com/fpang/nextlevel-variants/internal/logging"
	"github.com/fpang/nextlevel-variants/internal/notify"
	"github.com/fpang/nextlevel-variants/internal/pipeline"
	"github.com/fpang/nextlevel-variants/internal/s3util"
	"github.com/fpang/nextlevel-variants/internal/store"
)

// AWSClients holds the AWS config and the clients every entry point needs.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config. Fatals on error.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// ParamAPI is the subset of *ssm.Client used by ResolveParam.
type ParamAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveParam reads an SSM parameter. An empty name returns fallback
// without calling SSM.
func ResolveParam(ctx context.Context, client ParamAPI, name, fallback string) (string, error) {
	if name == "" {
		return fallback, nil
	}
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("GetParameter %s: %w", name, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("GetParameter %s: empty value", name)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(ssmStart)).Msg("Parameter loaded from SSM")
	return aws.ToString(result.Parameter.Value), nil
}

// LoadConfig loads worker config and applies the SSM destination override.
// Fatals on error.
func LoadConfig(clients AWSClients) *config.Config {
	return LoadConfigFile(clients, config.Path(""))
}

// LoadConfigFile is LoadConfig with an explicit YAML path.
func LoadConfigFile(clients AWSClients, path string) *config.Config {
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	bucket, err := ResolveParam(context.Background(), clients.SSM, cfg.DestinationBucketParam, cfg.DestinationBucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve destination bucket")
	}
	cfg.DestinationBucket = bucket
	for _, w := range cfg.Warnings("") {
		log.Warn().Msg(w)
	}
	return cfg
}

// InitStorage creates the S3-backed storage with a write circuit breaker.
func InitStorage(awsCfg aws.Config, cfg *config.Config) *s3util.BreakerStore {
	return s3util.NewBreakerStore(s3util.NewStore(s3.NewFromConfig(awsCfg)), cfg.BreakerConfig())
}

// InitLedgerOptional creates the DynamoDB outcome ledger if a table is
// configured. Returns nil (with a warning) if not.
func InitLedgerOptional(awsCfg aws.Config, cfg *config.Config) *store.OutcomeStore {
	if cfg.LedgerTable == "" {
		log.Warn().Msg("LEDGER_TABLE not set, outcome ledger disabled")
		return nil
	}
	return store.NewOutcomeStore(dynamodb.NewFromConfig(awsCfg), cfg.LedgerTable, cfg.LedgerTTL)
}

// InitEventsOptional creates the EventBridge publisher if a bus is
// configured. Returns nil if not.
func InitEventsOptional(awsCfg aws.Config, cfg *config.Config) *notify.Publisher {
	if cfg.EventBusName == "" {
		log.Debug().Msg("EVENT_BUS_NAME not set, completion events disabled")
		return nil
	}
	return notify.NewPublisher(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName, cfg.DestinationBucket)
}

// Recorders collects the configured sinks, skipping nil ones.
func Recorders(ledger *store.OutcomeStore, events *notify.Publisher, extra ...pipeline.Recorder) []pipeline.Recorder {
	var out []pipeline.Recorder
	if ledger != nil {
		out = append(out, ledger)
	}
	if events != nil {
		out = append(out, events)
	}
	return append(out, extra...)
}

// StartupLog builds the boot summary shared by every entry point.
func StartupLog(name string, initStart time.Time, cfg *config.Config) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		S3Bucket("destination", cfg.DestinationBucket).
		Feature("ledger", cfg.LedgerTable != "").
		Feature("events", cfg.EventBusName != "").
		Config("processedMarker", cfg.ProcessedMarker).
		Config("outputKeyPrefix", cfg.OutputKeyPrefix).
		Config("sizes", fmt.Sprintf("%d/%d/%d", cfg.StandardWidth, cfg.ThumbnailWidth, cfg.ProfileSize)).
		Config("variantConcurrency", fmt.Sprint(cfg.VariantConcurrency))
	if cfg.DestinationBucketParam != "" {
		sl.SSMParam("destinationBucket", cfg.DestinationBucketParam)
	}
	if cfg.LedgerTable != "" {
		sl.DynamoTable("ledger", cfg.LedgerTable)
	}
	if cfg.EventBusName != "" {
		sl.EventBus("completion", cfg.EventBusName)
	}
	return sl
}
