package external

import (
	"context"

	"posturewatch/internal/types"
)

// ---------------------------------------------------------------------------
// Classification Integration (remote pose service)
// ---------------------------------------------------------------------------

// Classifier abstracts the remote pose/posture service.
type Classifier interface {
	// Classify submits one encoded frame. Failures are reported through
	// ClassificationResult.Error, never as a Go error, so the caller's
	// session logic sees a single uniform shape.
	Classify(ctx context.Context, frame []byte) types.ClassificationResult

	// PushThresholds updates the remote service's good-posture angle band.
	PushThresholds(ctx context.Context, update types.ThresholdUpdate) (*types.ThresholdAck, error)
}
