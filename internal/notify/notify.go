// Package notify sends staff notification emails about new submissions.
// Delivery is best effort: a failed email never fails the submission.
package notify

import (
	"context"
	"strings"

	"github.com/fjordcrew/crewfront/internal/emailutil"
	"github.com/fjordcrew/crewfront/internal/log"
)

// Message is one notification email.
type Message struct {
	// Kind labels logs and metrics, e.g. "contact".
	Kind    string   `json:"-"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier only logs messages. Used in development.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	masked := make([]string, len(msg.To))
	for i, to := range msg.To {
		masked[i] = emailutil.Mask(to)
	}
	log.LogInfoWithFields("notify", "Notification email (not sent)", map[string]any{
		"kind":    msg.Kind,
		"to":      strings.Join(masked, ","),
		"subject": msg.Subject,
	})
	return nil
}
