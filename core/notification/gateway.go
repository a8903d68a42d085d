package notification

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/pkg/errors"

	"github.com/kdance/registration/core"
)

var ErrNoRecipients = errors.New("notification has no recipient")

type (
	Envelope struct {
		Notification Notification
		Recipients   []string
	}

	// Outbox collects the notifications emitted during a transaction. It is flushed after commit.
	Outbox struct {
		envelopes []Envelope
	}

	Gateway struct {
		mailSvc core.EmailService
		logger  core.Logger
	}
)

// Add validates `n` and queues it. A contract violation is returned to abort the enclosing transaction.
func (o *Outbox) Add(n Notification, recipients ...string) error {
	if err := Validate(n); err != nil {
		return err
	}
	recipients = cleanRecipients(recipients)
	if len(recipients) == 0 {
		return errors.Wrap(ErrNoRecipients, string(n.Kind()))
	}
	o.envelopes = append(o.envelopes, Envelope{Notification: n, Recipients: recipients})
	return nil
}

func (o *Outbox) Envelopes() []Envelope { return o.envelopes }
func (o *Outbox) Len() int              { return len(o.envelopes) }

// Reset drops every queued notification (rolled back transaction).
func (o *Outbox) Reset() { o.envelopes = nil }

func NewGateway(mailSvc core.EmailService, logger core.Logger) *Gateway {
	return &Gateway{mailSvc: mailSvc, logger: logger}
}

// Notify sends `n` to `recipients`.
// The returned error is a contract violation only; a delivery failure is logged and reported as sent=false.
func (gw *Gateway) Notify(ctx context.Context, n Notification, recipients ...string) (bool, error) {
	if err := Validate(n); err != nil {
		return false, err
	}
	to := gw.addresses(recipients)
	if len(to) == 0 {
		return false, errors.Wrap(ErrNoRecipients, string(n.Kind()))
	}

	msg := &core.EmailMessage{
		To:           to,
		Subject:      subject(n),
		TemplateName: string(n.Kind()),
		TemplateData: n,
	}
	if err := gw.mailSvc.SendMessage(ctx, msg); err != nil {
		gw.logger.Warn(fmt.Sprintf("sending %s notification: %v", n.Kind(), err), err)
		return false, nil
	}
	return true, nil
}

// Flush sends every queued notification, best-effort, and returns how many were sent.
func (gw *Gateway) Flush(ctx context.Context, out *Outbox) int {
	if out == nil {
		return 0
	}
	var sent int
	for _, env := range out.envelopes {
		ok, err := gw.Notify(ctx, env.Notification, env.Recipients...)
		if err != nil {
			gw.logger.Error(fmt.Sprintf("sending %s notification: %v", env.Notification.Kind(), err), err)
			continue
		}
		if ok {
			sent++
		}
	}
	out.Reset()
	return sent
}

func (gw *Gateway) addresses(recipients []string) []mail.Address {
	addrs := make([]mail.Address, 0, len(recipients))
	for _, r := range cleanRecipients(recipients) {
		addr, err := mail.ParseAddress(r)
		if err != nil {
			gw.logger.Warn(fmt.Sprintf("invalid recipient %q: %v", r, err))
			continue
		}
		addrs = append(addrs, *addr)
	}
	return addrs
}

// cleanRecipients drops blank and duplicate addresses, keeping the first occurrence.
func cleanRecipients(recipients []string) []string {
	seen := make(map[string]bool, len(recipients))
	cleaned := make([]string, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" || seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, r)
	}
	return cleaned
}
