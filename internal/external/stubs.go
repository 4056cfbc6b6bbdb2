package external

import (
	"context"
	"log/slog"
	"sync"

	"posturewatch/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// The stub classifier lets the agent boot locally without a pose service.
// It logs every call and returns predictable, safe values.
// ---------------------------------------------------------------------------

// stubPose is an upright seated figure in normalized image coordinates.
var stubPose = func() []types.Landmark {
	lm := make([]types.Landmark, types.PoseLandmarkCount)
	set := func(i int, x, y float64) {
		lm[i] = types.Landmark{X: x, Y: y, Visibility: 0.95}
	}
	set(types.LandmarkNose, 0.50, 0.20)
	set(types.LandmarkLeftEar, 0.55, 0.19)
	set(types.LandmarkRightEar, 0.45, 0.19)
	set(types.LandmarkLeftShoulder, 0.62, 0.38)
	set(types.LandmarkRightShoulder, 0.38, 0.38)
	set(types.LandmarkLeftElbow, 0.66, 0.56)
	set(types.LandmarkRightElbow, 0.34, 0.56)
	set(types.LandmarkLeftWrist, 0.60, 0.70)
	set(types.LandmarkRightWrist, 0.40, 0.70)
	return lm
}()

// StubClassifier implements Classifier by reporting good posture at the
// middle of the most recently pushed angle band.
type StubClassifier struct {
	logger *slog.Logger

	mu        sync.Mutex
	threshold types.ThresholdUpdate
}

// NewStubClassifier creates a new StubClassifier seeded with the default band.
func NewStubClassifier(logger *slog.Logger) *StubClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubClassifier{
		logger: logger,
		threshold: types.ThresholdUpdate{
			MinAngle: types.DefaultMinAngle,
			MaxAngle: types.DefaultMaxAngle,
		},
	}
}

func (s *StubClassifier) Classify(ctx context.Context, frame []byte) types.ClassificationResult {
	s.mu.Lock()
	band := s.threshold
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "stub: Classify called", "frame_bytes", len(frame))

	landmarks := make([]types.Landmark, len(stubPose))
	copy(landmarks, stubPose)

	return types.ClassificationResult{
		IsGood:    true,
		Angle:     float64(band.MinAngle+band.MaxAngle) / 2,
		Status:    "Good Posture",
		Landmarks: landmarks,
	}
}

func (s *StubClassifier) PushThresholds(ctx context.Context, update types.ThresholdUpdate) (*types.ThresholdAck, error) {
	s.logger.InfoContext(ctx, "stub: PushThresholds called",
		"min_angle", update.MinAngle,
		"max_angle", update.MaxAngle,
	)

	s.mu.Lock()
	s.threshold = update
	s.mu.Unlock()

	return &types.ThresholdAck{Message: "Configuration updated", Config: update}, nil
}
