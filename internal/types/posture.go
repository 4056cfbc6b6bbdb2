package types

import "time"

// Landmark indices follow the pose model's 33-point body topology. The remote
// classifier returns landmarks in this order and the indices are used verbatim.
const (
	LandmarkNose          = 0
	LandmarkLeftEar       = 7
	LandmarkRightEar      = 8
	LandmarkLeftShoulder  = 11
	LandmarkRightShoulder = 12
	LandmarkLeftElbow     = 13
	LandmarkRightElbow    = 14
	LandmarkLeftWrist     = 15
	LandmarkRightWrist    = 16

	// PoseLandmarkCount is the length of a complete landmark sequence.
	PoseLandmarkCount = 33
)

// Landmark is a single body keypoint in image-relative coordinates.
// X and Y are normalized to [0,1]; Visibility is a [0,1] confidence score.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z,omitempty"`
	Visibility float64 `json:"visibility"`
}

// ClassificationResult is one round-trip's answer from the pose service.
// A failed round-trip carries only Error; every other field is zero.
type ClassificationResult struct {
	IsGood    bool       `json:"is_good"`
	Angle     float64    `json:"angle"`
	Status    string     `json:"status"`
	Landmarks []Landmark `json:"landmarks,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Failed reports whether the result represents a transport or application error.
func (r ClassificationResult) Failed() bool {
	return r.Error != ""
}

// ErrorResult builds the uniform error shape of a ClassificationResult.
func ErrorResult(msg string) ClassificationResult {
	return ClassificationResult{Error: msg}
}

// Default posture thresholds, matching the classifier's stock good-posture band.
const (
	DefaultMinAngle      = 60
	DefaultMaxAngle      = 80
	DefaultAlertInterval = 10 * time.Second
)

// PostureConfig is the operator-adjustable tuning of classification and alerting.
// MinAngle/MaxAngle are pushed to the remote service; AlertInterval is local only.
type PostureConfig struct {
	MinAngle      int           `json:"min_angle" validate:"gte=-180,lte=180"`
	MaxAngle      int           `json:"max_angle" validate:"gte=-180,lte=180,gtfield=MinAngle"`
	AlertInterval time.Duration `json:"-" validate:"gt=0"`
}

// DefaultPostureConfig returns the stock thresholds.
func DefaultPostureConfig() PostureConfig {
	return PostureConfig{
		MinAngle:      DefaultMinAngle,
		MaxAngle:      DefaultMaxAngle,
		AlertInterval: DefaultAlertInterval,
	}
}

// ThresholdUpdate is the wire body of the remote configuration endpoint.
type ThresholdUpdate struct {
	MinAngle int `json:"min_angle"`
	MaxAngle int `json:"max_angle"`
}

// ThresholdAck is the remote configuration endpoint's success response.
type ThresholdAck struct {
	Message string          `json:"message"`
	Config  ThresholdUpdate `json:"config"`
}
