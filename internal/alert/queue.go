package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueChannel publishes alert events to an SQS queue for downstream
// consumers (dashboards, coaching reminders).
type QueueChannel struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewQueueChannel creates a QueueChannel targeting queueURL.
func NewQueueChannel(client SQSSender, queueURL string, logger *slog.Logger) *QueueChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueChannel{client: client, queueURL: queueURL, logger: logger}
}

func (q *QueueChannel) Name() string { return "queue" }

func (q *QueueChannel) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alert queue: failed to marshal event: %w", err)
	}

	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(EventType)},
			"session_id": {DataType: aws.String("String"), StringValue: aws.String(ev.SessionID)},
		},
	})
	if err != nil {
		return fmt.Errorf("alert queue: send failed: %w", err)
	}

	q.logger.DebugContext(ctx, "alert event enqueued",
		"alert_id", ev.ID,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}
