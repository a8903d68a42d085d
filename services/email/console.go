package emailsvc

import (
	"context"
	"fmt"
	"log"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kdance/registration/core"
)

type consoleService struct {
	std              *log.Logger
	defaultFromEmail mail.Address
	appName          string
	frontendBaseURL  string
	subjPrefix       string
	disableOutput    bool
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService prints every message to `std` instead of sending it.
func NewConsoleService(std *log.Logger, conf *core.Config) core.EmailService {
	return newConsoleService(std, conf)
}

func newConsoleService(std *log.Logger, conf *core.Config) consoleService {
	return consoleService{
		std:              std,
		defaultFromEmail: conf.DefaultFromEmail(),
		appName:          conf.AppName,
		frontendBaseURL:  conf.FrontendBaseURL,
		subjPrefix:       "[" + conf.AppName + "] ",
	}
}

func (svc consoleService) SendMessage(_ context.Context, msg *core.EmailMessage) error {
	if err := msg.Render(svc.appName, svc.frontendBaseURL); err != nil {
		return errors.Wrap(err, "rendering email")
	}
	if !(msg.HasRecipients() && msg.HasContent()) {
		return nil
	}
	body, err := svc.mime(*msg)
	if err != nil {
		return err
	}
	if !svc.disableOutput {
		svc.std.Println(body)
	}
	return nil
}

func (svc consoleService) mime(msg core.EmailMessage) (string, error) {
	body := new(strings.Builder)

	// Write mail header
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.defaultFromEmail.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", svc.joinAddresses(msg.To))
	_, _ = fmt.Fprintf(body, "CC: %s\r\n", svc.joinAddresses(msg.Cc))
	_, _ = fmt.Fprintf(body, "BCC: %s\r\n", svc.joinAddresses(msg.Bcc))

	altW := multipart.NewWriter(body)
	defer altW.Close()
	_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", altW.Boundary())

	w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return "", errors.Wrap(err, "creating text/plain part")
	}
	_, _ = fmt.Fprintf(w, "%s\r\n", msg.TextContent)

	if msg.HTMLContent != "" {
		w, err = altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
		if err != nil {
			return "", errors.Wrap(err, "creating text/html part")
		}
		_, _ = fmt.Fprintf(w, "%s\r\n", msg.HTMLContent)
	}
	return body.String(), nil
}

func (svc consoleService) joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

// ConsoleServiceMock records the rendered messages instead of printing them.
type ConsoleServiceMock struct {
	consoleService

	mu   sync.Mutex
	sent []core.EmailMessage
	// Err, when set, makes every delivery fail after rendering.
	Err error
}

func NewConsoleServiceMock(conf *core.Config) *ConsoleServiceMock {
	svc := newConsoleService(log.Default(), conf)
	svc.disableOutput = true
	return &ConsoleServiceMock{consoleService: svc}
}

func (svc *ConsoleServiceMock) SendMessage(ctx context.Context, msg *core.EmailMessage) error {
	if err := svc.consoleService.SendMessage(ctx, msg); err != nil {
		return err
	}
	if svc.Err != nil {
		return svc.Err
	}
	svc.mu.Lock()
	svc.sent = append(svc.sent, *msg)
	svc.mu.Unlock()
	return nil
}

// SentMessages returns a copy of the delivered messages.
func (svc *ConsoleServiceMock) SentMessages() []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.EmailMessage(nil), svc.sent...)
}

// SentWith returns the delivered messages rendered from `templateName`.
func (svc *ConsoleServiceMock) SentWith(templateName string) []core.EmailMessage {
	var msgs []core.EmailMessage
	for _, m := range svc.SentMessages() {
		if m.TemplateName == templateName {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func (svc *ConsoleServiceMock) Reset() {
	svc.mu.Lock()
	svc.sent = nil
	svc.mu.Unlock()
}
