package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// EmailService delivers the plaintext nonces behind verification and reset
// links. Only digests of these nonces are ever stored.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, nonce string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, nonce string, expiresAt time.Time) error
}

// SESClient is the subset of the SES API used for delivery
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	client      SESClient
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService loads the default AWS credential chain for region
func NewAWSSESEmailService(ctx context.Context, region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, baseURL, logger), nil
}

func NewAWSSESEmailServiceWithClient(client SESClient, fromAddress, baseURL string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		client:      client,
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}
}

func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, nonce string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, nonce)
	body := fmt.Sprintf(`Verify your email address

Thank you for creating an account. To finish registration open the link below:

%s

The link expires at %s.

If you did not create this account you can ignore this email.
`, link, expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, email, "Verify your email address", body, "verification")
}

func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, nonce string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, nonce)
	body := fmt.Sprintf(`Reset your password

We received a request to reset the password for your account. Open the link below to choose a new one:

%s

The link expires at %s and can be used once.

If you did not request a reset you can ignore this email. Your password will not change.
`, link, expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, email, "Reset your password", body, "password_reset")
}

func (s *AWSSESEmailService) send(ctx context.Context, email, subject, textBody, kind string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("kind", kind),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}

	s.logger.Info("email sent",
		slog.String("kind", kind),
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogEmailService writes links to the debug log instead of sending mail.
// Config refuses it in production.
type LogEmailService struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogEmailService(baseURL string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{baseURL: baseURL, logger: logger}
}

func (s *LogEmailService) SendVerificationEmail(ctx context.Context, email, nonce string, expiresAt time.Time) error {
	s.logger.DebugContext(ctx, "verification email",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("link", fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, nonce)),
		slog.Time("expires_at", expiresAt))
	return nil
}

func (s *LogEmailService) SendPasswordResetEmail(ctx context.Context, email, nonce string, expiresAt time.Time) error {
	s.logger.DebugContext(ctx, "password reset email",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("link", fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, nonce)),
		slog.Time("expires_at", expiresAt))
	return nil
}
