package app

import (
	"context"

	"go.uber.org/zap"

	"fuelpay/internal/lifecycle"
	"fuelpay/internal/models"
)

// logSpeaker stands in for text-to-speech on headless devices.
type logSpeaker struct {
	logger *zap.Logger
}

func newLogSpeaker(logger *zap.Logger) *logSpeaker {
	return &logSpeaker{logger: logger}
}

func (s *logSpeaker) Speak(_ context.Context, text string) error {
	s.logger.Info("say", zap.String("text", text))
	return nil
}

func (s *logSpeaker) Stop() error { return nil }

// logNotifier renders session state to the log.
type logNotifier struct {
	logger *zap.Logger
}

func newLogNotifier(logger *zap.Logger) *logNotifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) OnState(s lifecycle.Snapshot) {
	n.logger.Debug("session snapshot",
		zap.String("transaction_id", s.TransactionID),
		zap.String("state", string(s.State)),
		zap.Bool("receipt", s.ReceiptAvailable),
	)
}

func (n *logNotifier) OnAlert(a models.Alert) {
	n.logger.Error(a.Title, zap.String("message", a.Message), zap.String("action", string(a.Action)))
}
