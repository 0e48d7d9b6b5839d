package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/digest"
)

// LogSender writes batches to the structured log instead of delivering
// them. It is the default in development and in environments without an
// email or queue backend configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only digest sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the batch contents.
func (s *LogSender) Send(_ context.Context, batch *digest.Batch) error {
	for categoryID, items := range batch.Items {
		for _, item := range items {
			s.logger.Info("digest item",
				zap.String("user_id", batch.UserID),
				zap.String("category_id", categoryID),
				zap.String("item_id", item.ID),
				zap.String("title", item.Title),
			)
		}
	}
	s.logger.Info("digest batch",
		zap.String("user_id", batch.UserID),
		zap.Int("items", batch.Total),
		zap.Time("generated_at", batch.GeneratedAt),
	)
	return nil
}
