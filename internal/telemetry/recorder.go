// Package telemetry records agent health metrics.
package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"posturewatch/internal/types"
)

// Recorder receives metric events from the monitoring loop. Implementations
// must not block the caller and never return errors.
type Recorder interface {
	RecordClassification(ctx context.Context, latency time.Duration, failed bool)
	RecordAlert(ctx context.Context)
	RecordDroppedTick(ctx context.Context)
	RecordAlertDelivery(ctx context.Context, channel string, ok bool)
}

// Nop discards every metric.
type Nop struct{}

func (Nop) RecordClassification(context.Context, time.Duration, bool) {}
func (Nop) RecordAlert(context.Context)                               {}
func (Nop) RecordDroppedTick(context.Context)                         {}
func (Nop) RecordAlertDelivery(context.Context, string, bool)         {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

const (
	// maxDatumsPerCall keeps each PutMetricData request small.
	maxDatumsPerCall     = 20
	defaultFlushInterval = 30 * time.Second
	defaultBufferSize    = 512

	resultSuccess = "success"
	resultFailed  = "failed"
)

// CloudWatchConfig configures a CloudWatchRecorder.
type CloudWatchConfig struct {
	Namespace     string
	FlushInterval time.Duration
	BufferSize    int
	Clock         types.Clock
	Logger        *slog.Logger
}

// CloudWatchRecorder buffers metric datums and publishes them in batches
// from Run. When the buffer is full new datums are dropped and counted.
//
// Metrics emitted:
//   - ClassificationLatency (ms) and ClassificationFailure (count)
//   - PostureAlert (count)
//   - DroppedTick (count)
//   - AlertDelivery: Dims {Channel, Result}
type CloudWatchRecorder struct {
	client        CloudWatchClient
	namespace     string
	flushInterval time.Duration
	clock         types.Clock
	logger        *slog.Logger

	pending chan cwtypes.MetricDatum
	dropped atomic.Uint64
}

// Compile-time assertion that CloudWatchRecorder implements Recorder.
var _ Recorder = (*CloudWatchRecorder)(nil)

// NewCloudWatchRecorder creates a recorder publishing to cfg.Namespace.
func NewCloudWatchRecorder(client CloudWatchClient, cfg CloudWatchConfig) *CloudWatchRecorder {
	if cfg.Namespace == "" {
		cfg.Namespace = types.DefaultMetricNamespace
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &CloudWatchRecorder{
		client:        client,
		namespace:     cfg.Namespace,
		flushInterval: cfg.FlushInterval,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		pending:       make(chan cwtypes.MetricDatum, cfg.BufferSize),
	}
}

// RecordClassification emits the round-trip latency and, on failure, a
// ClassificationFailure count.
func (r *CloudWatchRecorder) RecordClassification(_ context.Context, latency time.Duration, failed bool) {
	r.enqueue(cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricClassificationLatency),
		Value:      aws.Float64(float64(latency.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
	if failed {
		r.enqueue(r.count(types.MetricClassificationFailure))
	}
}

// RecordAlert emits a PostureAlert count.
func (r *CloudWatchRecorder) RecordAlert(context.Context) {
	r.enqueue(r.count(types.MetricPostureAlert))
}

// RecordDroppedTick emits a DroppedTick count.
func (r *CloudWatchRecorder) RecordDroppedTick(context.Context) {
	r.enqueue(r.count(types.MetricDroppedTick))
}

// RecordAlertDelivery emits an AlertDelivery count with Channel and Result
// dimensions.
func (r *CloudWatchRecorder) RecordAlertDelivery(_ context.Context, channel string, ok bool) {
	result := resultSuccess
	if !ok {
		result = resultFailed
	}
	d := r.count(types.MetricAlertDelivery)
	d.Dimensions = []cwtypes.Dimension{
		{Name: aws.String(types.DimChannel), Value: aws.String(channel)},
		{Name: aws.String(types.DimResult), Value: aws.String(result)},
	}
	r.enqueue(d)
}

// Dropped returns how many datums were discarded because the buffer was full.
func (r *CloudWatchRecorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run flushes buffered datums every FlushInterval until ctx is done, then
// makes a final best-effort flush.
func (r *CloudWatchRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush publishes everything currently buffered and returns the number of
// datums sent successfully. Publish failures are logged and the batch is
// discarded.
func (r *CloudWatchRecorder) Flush(ctx context.Context) int {
	sent := 0
	for {
		batch := r.drain(maxDatumsPerCall)
		if len(batch) == 0 {
			return sent
		}

		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(r.namespace),
			MetricData: batch,
		}
		if _, err := r.client.PutMetricData(ctx, input); err != nil {
			r.logger.ErrorContext(ctx, "failed to publish metrics",
				"error", err.Error(),
				"datums", len(batch),
			)
			continue
		}
		sent += len(batch)
	}
}

func (r *CloudWatchRecorder) drain(limit int) []cwtypes.MetricDatum {
	var batch []cwtypes.MetricDatum
	for len(batch) < limit {
		select {
		case d := <-r.pending:
			batch = append(batch, d)
		default:
			return batch
		}
	}
	return batch
}

func (r *CloudWatchRecorder) count(name string) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	}
}

func (r *CloudWatchRecorder) enqueue(d cwtypes.MetricDatum) {
	d.Timestamp = aws.Time(r.clock.Now())
	select {
	case r.pending <- d:
	default:
		r.dropped.Add(1)
	}
}
