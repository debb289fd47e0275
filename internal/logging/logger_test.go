package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitJSONDefault(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogFormat, "")
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	InitWithWriter(&buf)
	log.Info().Msg("dropped")
	log.Warn().Str("key", "a.png").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &doc); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if doc["key"] != "a.png" || doc["message"] != "kept" {
		t.Errorf("log line = %v", doc)
	}
}

func TestInitConsole(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFormat, "console")

	var buf bytes.Buffer
	InitWithWriter(&buf)
	log.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("console output looks like JSON: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("console output missing message: %q", buf.String())
	}
}

func TestStartupLoggerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	NewStartupLogger("variants-worker").
		S3Bucket("destination", "nextlevel-processed").
		Queue("source", "https://sqs.example/queue").
		DynamoTable("ledger", "variants-ledger").
		Feature("events", false).
		Config("variantConcurrency", "3").
		InitDuration(5 * time.Millisecond).
		Event(logger.Info()).
		Msg("boot")

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("startup event is not JSON: %v", err)
	}
	resources, ok := doc["resources"].(map[string]any)
	if !ok {
		t.Fatalf("resources = %v", doc["resources"])
	}
	for _, k := range []string{"s3Buckets", "queues", "dynamoTables"} {
		if _, ok := resources[k]; !ok {
			t.Errorf("resources missing %s", k)
		}
	}
	if _, ok := resources["eventBuses"]; ok {
		t.Error("empty eventBuses should be omitted")
	}
	lambda := doc["lambda"].(map[string]any)
	if lambda["name"] != "variants-worker" {
		t.Errorf("lambda.name = %v", lambda["name"])
	}
}
