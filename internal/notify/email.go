// Package notify sends fire-and-forget email notifications. Failures are
// logged and swallowed; notification delivery never blocks or fails the
// message pipeline.
package notify

import (
	"net/smtp"

	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/config"
)

// AddressResolver maps an opaque user id to an email address. The marketplace
// user service owns this mapping; the chat server only consumes it.
type AddressResolver func(userID string) (string, bool)

// StaticResolver builds a resolver over a fixed user-id to address mapping,
// typically the configured smtp.addresses block. Returns nil for an empty
// mapping so an unconfigured directory disables notifications entirely.
func StaticResolver(addresses map[string]string) AddressResolver {
	if len(addresses) == 0 {
		return nil
	}
	return func(userID string) (string, bool) {
		addr, ok := addresses[userID]
		return addr, ok
	}
}

// Email notifies users of new messages over SMTP.
type Email struct {
	cfg     config.SMTPConfig
	resolve AddressResolver
	log     *zerolog.Logger
	send    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail builds the notifier. Disabled (all sends become no-ops) when the
// SMTP host is empty or no resolver is supplied.
func NewEmail(cfg config.SMTPConfig, resolve AddressResolver, logger *zerolog.Logger) *Email {
	return &Email{cfg: cfg, resolve: resolve, log: logger, send: smtp.SendMail}
}

// MessageReceived notifies recipientID that a conversation has a new message.
// Returns immediately; delivery happens in the background.
func (n *Email) MessageReceived(recipientID, conversationID string) {
	if n.cfg.Host == "" || n.resolve == nil {
		return
	}

	go func() {
		addr, ok := n.resolve(recipientID)
		if !ok {
			n.log.Debug().Str("user_id", recipientID).Msg("no email address for user")
			return
		}

		subject := "You have a new message"
		body := "A conversation you participate in has a new message. " +
			"Sign in to read it.\r\n"

		msg := []byte(
			"From: " + n.cfg.From + "\r\n" +
				"To: " + addr + "\r\n" +
				"Subject: " + subject + "\r\n" +
				"Content-Type: text/plain; charset=\"UTF-8\"\r\n" +
				"\r\n" +
				body)

		var auth smtp.Auth
		if n.cfg.Username != "" {
			auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		}

		if err := n.send(n.cfg.Host+":"+n.cfg.Port, auth, n.cfg.From, []string{addr}, msg); err != nil {
			n.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("send notification email")
			return
		}
		n.log.Debug().Str("conversation_id", conversationID).Msg("notification email sent")
	}()
}
