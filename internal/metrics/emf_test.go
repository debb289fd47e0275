package metrics

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "TestFunction"
	defer func() { functionName = "" }()

	r := New("TestNamespace")
	if r.namespace != "TestNamespace" {
		t.Errorf("expected namespace TestNamespace, got %s", r.namespace)
	}
	if r.dimensions["FunctionName"] != "TestFunction" {
		t.Errorf("expected FunctionName dimension TestFunction, got %s", r.dimensions["FunctionName"])
	}
}

func decodeEMF(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}
	return doc
}

func TestRecorder_FlushOutput(t *testing.T) {
	initOnce.Do(func() {})
	functionName = ""

	var buf bytes.Buffer
	NewWithWriter("NextLevelVariants", &buf).
		Dimension("Variant", "profile").
		Dimension("Result", "ok").
		Metric("LatencyMs", 1234.5, UnitMilliseconds).
		Metric("CallCount", 1, UnitCount).
		Property("key", "profile-1.jpg").
		Flush()

	if n := bytes.Count(buf.Bytes(), []byte("\n")); n != 1 {
		t.Fatalf("EMF output has %d lines, want 1", n)
	}
	doc := decodeEMF(t, &buf)

	awsMap, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]any)
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]any)
	if cw["Namespace"] != "NextLevelVariants" {
		t.Errorf("expected namespace NextLevelVariants, got %v", cw["Namespace"])
	}
	dims := cw["Dimensions"].([]any)[0].([]any)
	if len(dims) != 2 || dims[0] != "Result" || dims[1] != "Variant" {
		t.Errorf("expected sorted dimensions [Result Variant], got %v", dims)
	}

	if doc["Variant"] != "profile" {
		t.Errorf("expected Variant=profile, got %v", doc["Variant"])
	}
	if doc["LatencyMs"] != 1234.5 {
		t.Errorf("expected LatencyMs=1234.5, got %v", doc["LatencyMs"])
	}
	if doc["CallCount"] != float64(1) {
		t.Errorf("expected CallCount=1, got %v", doc["CallCount"])
	}
	if doc["key"] != "profile-1.jpg" {
		t.Errorf("expected key=profile-1.jpg, got %v", doc["key"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("Test", &buf).Property("x", 1).Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for recorder without metrics, got: %s", buf.String())
	}
}

func TestRecorder_Chaining(t *testing.T) {
	functionName = ""
	rec := New("Test").
		Dimension("Op", "test").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != 100 {
		t.Error("chaining Metric failed")
	}
	if rec.values["Calls"] != 1 || rec.metrics["Calls"].Unit != UnitCount {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}

func TestOutcomeEMF(t *testing.T) {
	functionName = ""
	var buf bytes.Buffer
	out := &pipeline.Outcome{
		InvocationID: "inv-1",
		Key:          "profile-7.png",
		Variants:     []pipeline.VariantResult{{Success: true}, {Success: true}, {ErrorKind: pipeline.KindWrite}},
		Source:       &pipeline.SourceInfo{Bytes: 2048},
		Duration:     250 * time.Millisecond,
	}
	if err := (OutcomeEMF{Out: &buf}).Record(context.Background(), out); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	doc := decodeEMF(t, &buf)
	if doc["Result"] != pipeline.ResultPartial {
		t.Errorf("Result = %v, want partial", doc["Result"])
	}
	if doc["VariantsProduced"] != float64(2) || doc["VariantFailures"] != float64(1) {
		t.Errorf("variant counts = %v/%v, want 2/1", doc["VariantsProduced"], doc["VariantFailures"])
	}
	if doc["SourceBytes"] != float64(2048) {
		t.Errorf("SourceBytes = %v, want 2048", doc["SourceBytes"])
	}
	if doc["InvocationMs"] != float64(250) {
		t.Errorf("InvocationMs = %v, want 250", doc["InvocationMs"])
	}
}
