package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sure_app_go/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/samber/lo"
)

const (
	sqsBatchSize   = 10
	sqsWaitSeconds = 20
	sqsRetryDelay  = 5 * time.Second
)

// SQSAPI is the part of the SQS client the queue uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue stores tasks as JSON messages on an SQS queue
type SQSQueue struct {
	client   SQSAPI
	queueURL string
}

// NewSQSQueue resolves the queue URL by name using the default AWS credential chain
func NewSQSQueue(ctx context.Context, region, queueName string) (*SQSQueue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg)

	resp, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, fmt.Errorf("failed to get SQS queue URL for %s: %w", queueName, err)
	}
	return NewSQSQueueWithClient(client, aws.ToString(resp.QueueUrl)), nil
}

// NewSQSQueueWithClient wraps an existing client and queue URL
func NewSQSQueueWithClient(client SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

// Enqueue sends the task as one message
func (q *SQSQueue) Enqueue(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(task.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send task to SQS: %w", err)
	}
	return nil
}

// Poll receives one batch, runs each task and deletes its message. Messages
// that do not decode are deleted as well. Returns the number of messages handled.
func (q *SQSQueue) Poll(ctx context.Context, registry *Registry) (int, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: sqsBatchSize,
		WaitTimeSeconds:     sqsWaitSeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive from SQS: %w", err)
	}

	log := logger.Component("queue")
	tasks := lo.Map(resp.Messages, func(msg types.Message, _ int) *Task {
		var task Task
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &task); err != nil {
			log.Error().Err(err).Str("message_id", aws.ToString(msg.MessageId)).Msg("Dropping undecodable SQS message")
			return nil
		}
		return &task
	})

	for i, msg := range resp.Messages {
		if tasks[i] != nil {
			registry.run(ctx, *tasks[i])
		}
		_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
		if err != nil {
			log.Error().Err(err).Str("message_id", aws.ToString(msg.MessageId)).Msg("Failed to delete SQS message")
		}
	}
	return len(resp.Messages), nil
}

// Consume polls until ctx is canceled
func (q *SQSQueue) Consume(ctx context.Context, registry *Registry) error {
	log := logger.Component("queue")
	log.Info().Str("queue_url", q.queueURL).Msg("Consuming SQS tasks")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := q.Poll(ctx, registry); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("SQS poll failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sqsRetryDelay):
			}
		}
	}
}
