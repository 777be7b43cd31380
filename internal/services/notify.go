package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"geoattend/internal/domain"
)

// LogSink writes notifications to the structured log. Default sink when no
// mail provider is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, n domain.Notification) error {
	s.logger.Info("notification",
		"type", string(n.Type),
		"user_id", n.UserID,
		"event_id", n.EventID,
		"record_id", n.RecordID,
		"message", n.Message,
	)
	return nil
}

// EmailSink delivers notifications by email to the participant's address,
// rendered through the "notification" email template.
type EmailSink struct {
	mailer    domain.Mailer
	renderer  domain.EmailTemplateRenderer
	userRepo  domain.UserRepository
	eventRepo domain.EventRepository
	logger    *slog.Logger
}

func NewEmailSink(
	mailer domain.Mailer,
	renderer domain.EmailTemplateRenderer,
	userRepo domain.UserRepository,
	eventRepo domain.EventRepository,
	logger *slog.Logger,
) *EmailSink {
	return &EmailSink{
		mailer:    mailer,
		renderer:  renderer,
		userRepo:  userRepo,
		eventRepo: eventRepo,
		logger:    logger,
	}
}

func (s *EmailSink) Notify(ctx context.Context, n domain.Notification) error {
	user, err := s.userRepo.GetByID(ctx, n.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("look up notification recipient: %w", err)
	}

	eventName := n.EventID
	if event, err := s.eventRepo.GetByID(ctx, n.EventID); err == nil {
		eventName = event.Name
	}

	subject, htmlBody, textBody, err := s.renderer.Render("notification", map[string]any{
		"Title":     n.Title,
		"Name":      user.Name,
		"Message":   n.Message,
		"EventName": eventName,
	})
	if err != nil {
		return fmt.Errorf("render notification email: %w", err)
	}
	if err := s.mailer.Send(user.Email, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	return nil
}

// MultiSink fans a notification out to every sink. A failing sink is logged
// and does not stop delivery to the others.
type MultiSink struct {
	sinks  []domain.NotificationSink
	logger *slog.Logger
}

func NewMultiSink(logger *slog.Logger, sinks ...domain.NotificationSink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

func (s *MultiSink) Notify(ctx context.Context, n domain.Notification) error {
	for _, sink := range s.sinks {
		if err := sink.Notify(ctx, n); err != nil {
			s.logger.Error("notification sink failed", "type", string(n.Type), "user_id", n.UserID, "err", err)
		}
	}
	return nil
}
