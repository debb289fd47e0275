// Package metrics reports invocation outcomes. Lambda deployments use the
// CloudWatch Embedded Metric Format (EMF): one structured JSON line on stdout
// that CloudWatch Logs turns into metrics with no API calls. The long-running
// worker additionally exposes Prometheus collectors (prom.go).
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

// Namespace is the CloudWatch namespace for all variant metrics.
const Namespace = "NextLevelVariants"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// emfDirective is the _aws metadata block required by EMF.
type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates dimensions, metrics, and properties for a single EMF flush.
// It is NOT safe for concurrent use; create one per invocation.
type Recorder struct {
	namespace  string
	out        io.Writer
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]any
}

var (
	// functionName is cached from AWS_LAMBDA_FUNCTION_NAME on first use.
	functionName string
	initOnce     sync.Once
)

func initFunctionName() {
	functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
}

// New creates an EMF Recorder writing to stdout.
// It adds the FunctionName dimension when running inside Lambda.
func New(namespace string) *Recorder {
	return NewWithWriter(namespace, os.Stdout)
}

// NewWithWriter creates an EMF Recorder writing to w.
func NewWithWriter(namespace string, w io.Writer) *Recorder {
	initOnce.Do(initFunctionName)
	r := &Recorder{
		namespace:  namespace,
		out:        w,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]any),
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

// Dimension adds an indexed dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named metric value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count metric with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a searchable, non-metric field.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the EMF document as a single JSON line. A recorder with no
// metrics writes nothing. The Recorder should not be reused afterwards.
func (r *Recorder) Flush() {
	if len(r.metrics) == 0 {
		return
	}

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	metricDefs := make([]metricDef, 0, len(names))
	for _, name := range names {
		metricDefs = append(metricDefs, r.metrics[name])
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc := make(map[string]any, 1+len(r.dimensions)+len(r.values)+len(r.properties))
	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}
	// Properties first so a property can never shadow a metric or dimension.
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}

// OutcomeEMF emits one EMF document per finished invocation.
type OutcomeEMF struct {
	Namespace string
	Out       io.Writer
}

// Record implements pipeline.Recorder.
func (e OutcomeEMF) Record(_ context.Context, out *pipeline.Outcome) error {
	ns := e.Namespace
	if ns == "" {
		ns = Namespace
	}
	w := e.Out
	if w == nil {
		w = os.Stdout
	}

	rec := NewWithWriter(ns, w).
		Dimension("Result", out.Result()).
		Metric("InvocationMs", float64(out.Duration.Milliseconds()), UnitMilliseconds).
		Metric("VariantsProduced", float64(out.Succeeded()), UnitCount).
		Metric("VariantFailures", float64(out.Failed()), UnitCount).
		Property("invocationId", out.InvocationID).
		Property("key", out.Key)
	if out.Source != nil {
		rec.Metric("SourceBytes", float64(out.Source.Bytes), UnitBytes)
	}
	if out.SkipReason != "" {
		rec.Property("skipReason", out.SkipReason)
	}
	if out.ErrorKind != "" {
		rec.Property("errorKind", string(out.ErrorKind))
	}
	rec.Flush()
	return nil
}
