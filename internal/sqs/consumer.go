package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Handler processes one raw message body. Returning an error leaves the
// message on the queue for redelivery; nil deletes it.
type Handler func(ctx context.Context, body string) error

// Consumer long-polls the application-event queue and feeds message bodies
// to a Handler.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Start runs the receive loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, handle Handler) {
	c.logger.Info("sqs consumer started")

	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs consumer stopping")
			return
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("sqs receive failed", zap.Error(err))
			// Back off briefly so a broken queue doesn't spin the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			if msg.Body == nil {
				continue
			}

			if err := handle(ctx, *msg.Body); err != nil {
				c.logger.Warn("message handling failed, leaving for redelivery",
					zap.Error(err),
				)
				continue
			}

			_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(c.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			})
			if err != nil {
				c.logger.Error("failed to delete handled message", zap.Error(err))
			}
		}
	}
}
