// Package mailer is the mail-transport boundary: it turns composed messages
// into Gmail API raw sends on behalf of the authenticated account.
package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/cenproject/cen/internal/cenlog"
)

// Default per-send timeout applied when the caller's context has no deadline.
const defaultSendTimeout = 30 * time.Second

// GmailSender sends messages through the Gmail API.
type GmailSender struct {
	svc    *gmail.Service
	logger cenlog.Logger
}

// NewGmailSender builds a sender on top of a self-refreshing token source,
// passed as option.WithTokenSource (see credstore.TokenSource).
func NewGmailSender(ctx context.Context, creds option.ClientOption, logger cenlog.Logger) (*GmailSender, error) {
	if logger == nil {
		logger = cenlog.Nop{}
	}
	svc, err := gmail.NewService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("init gmail service: %w", err)
	}
	return &GmailSender{svc: svc, logger: logger}, nil
}

// Send delivers one message and returns the Gmail message id.
func (s *GmailSender) Send(ctx context.Context, msg *Message) (string, error) {
	raw, err := msg.MIME()
	if err != nil {
		return "", err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSendTimeout)
		defer cancel()
	}

	// Gmail wants base64url without padding.
	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)

	res, err := s.svc.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail send failed: %w", err)
	}

	s.logger.Debugw("Gmail send ok", "to", msg.To, "message_id", res.Id)
	return res.Id, nil
}
