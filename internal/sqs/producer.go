// Package sqs hands assembled digest batches off to the dispatcher fleet
// over an SQS queue; the dispatcher owns the actual per-channel delivery.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/digest"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// BatchMessage is the queue payload for one user's digest.
type BatchMessage struct {
	UserID      string                    `json:"user_id"`
	Items       map[string][]*digest.Item `json:"items"`
	Total       int                       `json:"total"`
	GeneratedAt time.Time                 `json:"generated_at"`
	EnqueuedAt  int64                     `json:"enqueued_at"`
}

// Producer sends digest batches to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Enqueue sends one batch to the queue and returns the message ID.
func (p *Producer) Enqueue(ctx context.Context, batch *digest.Batch) (string, error) {
	msg := BatchMessage{
		UserID:      batch.UserID,
		Items:       batch.Items,
		Total:       batch.Total,
		GeneratedAt: batch.GeneratedAt,
		EnqueuedAt:  time.Now().UnixNano(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send digest batch to sqs",
			zap.Error(err),
			zap.String("user_id", batch.UserID),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}

// Send satisfies the digest sender interface used by the flush worker.
func (p *Producer) Send(ctx context.Context, batch *digest.Batch) error {
	msgID, err := p.Enqueue(ctx, batch)
	if err != nil {
		return err
	}

	p.logger.Info("digest batch handed off",
		zap.String("user_id", batch.UserID),
		zap.Int("items", batch.Total),
		zap.String("message_id", msgID),
	)
	return nil
}
