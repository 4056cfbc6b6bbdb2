package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"posturewatch/internal/types"
)

const (
	defaultProcessPath = "/api/process-image"
	defaultConfigPath  = "/api/config"

	// frameFieldName and frameFileName are the multipart conventions the
	// pose service's upload handler expects.
	frameFieldName = "file"
	frameFileName  = "frame.jpg"

	maxErrorBodyRead = 4096
)

// ClassifierClientConfig holds the configuration for creating a ClassifierHTTPClient.
type ClassifierClientConfig struct {
	BaseURL     string
	APIKey      types.SecretString
	ProcessPath string // defaults to /api/process-image
	ConfigPath  string // defaults to /api/config
	Logger      *slog.Logger
}

// ClassifierHTTPClient talks to the remote pose/posture service. Frame
// classification is a single attempt per call and never returns a Go error:
// every failure is folded into ClassificationResult.Error. Threshold pushes
// return AppErrors because the operator needs an explicit rejection.
type ClassifierHTTPClient struct {
	base        *BaseClient
	apiKey      types.SecretString
	baseURL     string
	processPath string
	configPath  string
	logger      *slog.Logger
}

// NewClassifierClient creates a ClassifierHTTPClient. The httpClient timeout
// bounds a single round-trip; it should be generous relative to the sampling
// period since slow answers are still honored when they arrive.
func NewClassifierClient(httpClient *http.Client, cfg ClassifierClientConfig) *ClassifierHTTPClient {
	base := NewBaseClient(httpClient, "classifier", NoRetryPolicy(), "PostureWatch/1.0")
	return NewClassifierClientWithBase(base, cfg)
}

// NewClassifierClientWithBase creates a ClassifierHTTPClient with a
// pre-configured BaseClient.
func NewClassifierClientWithBase(base *BaseClient, cfg ClassifierClientConfig) *ClassifierHTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	processPath := cfg.ProcessPath
	if processPath == "" {
		processPath = defaultProcessPath
	}
	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	return &ClassifierHTTPClient{
		base:        base,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		processPath: processPath,
		configPath:  configPath,
		logger:      logger,
	}
}

// Classify uploads one JPEG frame and returns the service's verdict.
func (c *ClassifierHTTPClient) Classify(ctx context.Context, frame []byte) types.ClassificationResult {
	if len(frame) == 0 {
		return types.ErrorResult("no frame to classify")
	}

	body, contentType, err := encodeFrameUpload(frame)
	if err != nil {
		return types.ErrorResult("failed to build frame upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.processPath, body)
	if err != nil {
		return types.ErrorResult("failed to create classification request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "classification round-trip failed",
			"error", err,
			"elapsed", time.Since(start),
		)
		return types.ErrorResult(transportMessage(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp)
		c.logger.WarnContext(ctx, "classifier rejected frame",
			"status_code", resp.StatusCode,
			"message", msg,
		)
		return types.ErrorResult(fmt.Sprintf("classifier returned %d: %s", resp.StatusCode, msg))
	}

	var result types.ClassificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.WarnContext(ctx, "failed to decode classification response", "error", err)
		return types.ErrorResult("invalid classifier response")
	}

	// An application-level error (e.g. no pose detected) carries no verdict.
	if result.Failed() {
		return types.ErrorResult(result.Error)
	}

	c.logger.DebugContext(ctx, "frame classified",
		"is_good", result.IsGood,
		"angle", result.Angle,
		"landmarks", len(result.Landmarks),
		"elapsed", time.Since(start),
	)

	return result
}

// PushThresholds sends the angle band to the remote service so that
// classification and display agree on what counts as good posture.
func (c *ClassifierHTTPClient) PushThresholds(ctx context.Context, update types.ThresholdUpdate) (*types.ThresholdAck, error) {
	bodyBytes, err := json.Marshal(update)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize threshold update",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.configPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create threshold request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	c.logger.InfoContext(ctx, "pushing posture thresholds",
		"min_angle", update.MinAngle,
		"max_angle", update.MaxAngle,
	)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeTransportConfigRejected,
			"classifier did not accept the configuration: "+transportMessage(err),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeTransportConfigRejected,
			"classifier rejected the configuration: "+msg,
			fmt.Errorf("config push returned %d", resp.StatusCode),
			map[string]any{"status_code": resp.StatusCode},
		)
	}

	var ack types.ThresholdAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeTransportDecode,
			"invalid configuration acknowledgment from classifier",
			err,
		)
	}

	c.logger.InfoContext(ctx, "posture thresholds acknowledged",
		"message", ack.Message,
		"min_angle", ack.Config.MinAngle,
		"max_angle", ack.Config.MaxAngle,
	)

	return &ack, nil
}

func (c *ClassifierHTTPClient) authorize(req *http.Request) {
	if !c.apiKey.IsZero() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())
	}
}

// encodeFrameUpload wraps a JPEG frame in a multipart/form-data body.
func encodeFrameUpload(frame []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, frameFieldName, frameFileName))
	header.Set("Content-Type", "image/jpeg")

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(frame); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// readErrorMessage extracts a human-readable message from an error body.
// It understands {"error": ...}, {"detail": ...} and {"message": ...}
// shapes and falls back to the raw (truncated) body.
func readErrorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyRead))

	var shaped struct {
		Error   string `json:"error"`
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &shaped) == nil {
		switch {
		case shaped.Error != "":
			return shaped.Error
		case shaped.Message != "":
			return shaped.Message
		case shaped.Detail != nil:
			return fmt.Sprint(shaped.Detail)
		}
	}

	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}

// transportMessage renders a BaseClient failure for display.
func transportMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Name identifies the classifier in health reports.
func (c *ClassifierHTTPClient) Name() string { return "classifier" }

// Check reports the classifier unhealthy while its circuit breaker is open.
// It makes no network call.
func (c *ClassifierHTTPClient) Check(context.Context) error {
	if state := c.base.BreakerState(); state == gobreaker.StateOpen {
		return fmt.Errorf("circuit breaker %s", state)
	}
	return nil
}
