package auth

import "go.uber.org/zap"

// MagicLinkSender delivers a password-recovery link to the account owner.
type MagicLinkSender interface {
	SendMagicLink(email, link string) error
}

// LoggingMagicLinkSender writes the magic link to the log instead of sending
// mail. Used in development and tests; production deployments plug in a real
// mail transport.
type LoggingMagicLinkSender struct {
	Logger *zap.Logger
}

// SendMagicLink logs the recovery link for the given address.
func (s LoggingMagicLinkSender) SendMagicLink(email, link string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("magic link issued",
		zap.String("email", email),
		zap.String("link", link))
	return nil
}
