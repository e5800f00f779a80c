package impl

import (
	"context"
	"log"

	"github.com/corpusvault/corpusvault/services"
)

// logEmailSender writes verification mails to the process log. Swap in a
// real provider by implementing services.EmailSender.
type logEmailSender struct {
	from string
}

func NewLogEmailSender(from string) services.EmailSender {
	return &logEmailSender{from: from}
}

func (s *logEmailSender) SendVerification(ctx context.Context, to, verifyURL string) error {
	log.Printf("Verification email from=%s to=%s url=%s", s.from, to, verifyURL)
	return nil
}
