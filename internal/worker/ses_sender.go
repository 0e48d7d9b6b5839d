package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/digest"
)

// RecipientFunc resolves a user ID to the email address the digest goes to.
type RecipientFunc func(userID string) (string, error)

type SESSender struct {
	client    *ses.Client
	from      string
	recipient RecipientFunc
	logger    *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESSender creates a digest sender backed by AWS SES.
// TODO: resolve recipients from the accounts service once it exposes a
// lookup endpoint; for now the recipient function comes from config.
func NewSESSender(ctx context.Context, cfg SESConfig, recipient RecipientFunc, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client:    ses.NewFromConfig(awsCfg),
		from:      cfg.FromEmail,
		recipient: recipient,
		logger:    logger,
	}, nil
}

// Send renders the batch as a plain-text email and sends it via SES.
func (s *SESSender) Send(ctx context.Context, batch *digest.Batch) error {
	to, err := s.recipient(batch.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve digest recipient: %w", err)
	}

	subject := fmt.Sprintf("Your notification digest (%d updates)", batch.Total)
	body := renderDigestBody(batch)

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("digest emailed via SES",
		zap.String("user_id", batch.UserID),
		zap.Int("items", batch.Total),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}

// renderDigestBody produces the plain-text digest, one section per category.
func renderDigestBody(batch *digest.Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d notifications waiting.\n", batch.Total)

	for categoryID, items := range batch.Items {
		fmt.Fprintf(&b, "\n%s (%d)\n", categoryID, len(items))
		for _, item := range items {
			fmt.Fprintf(&b, "  - %s", item.Title)
			if item.Body != "" {
				fmt.Fprintf(&b, ": %s", item.Body)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// TemplateRecipient builds a RecipientFunc from a template containing a
// {user_id} placeholder, e.g. "{user_id}@users.example.com".
func TemplateRecipient(template string) (RecipientFunc, error) {
	if !strings.Contains(template, "{user_id}") {
		return nil, fmt.Errorf("recipient template missing {user_id} placeholder: %q", template)
	}
	return func(userID string) (string, error) {
		return strings.ReplaceAll(template, "{user_id}", userID), nil
	}, nil
}
