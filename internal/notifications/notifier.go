package notifications

import (
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr/pkg/router"
	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/sirupsen/logrus"
)

// Notifier handles sending notifications via Shoutrrr. A nil *Notifier is
// a valid "notifications disabled" value.
type Notifier struct {
	sr *router.ServiceRouter
}

// NewNotifier initializes a new Notifier with the provided Shoutrrr URLs.
func NewNotifier(urls []string) (*Notifier, error) {
	sr, err := router.New(nil, urls...)
	if err != nil {
		return nil, err
	}
	return &Notifier{sr: sr}, nil
}

// Send sends a notification message to all configured services.
func (n *Notifier) Send(title, message string) {
	if n == nil {
		return
	}
	params := types.Params{
		"title": title,
	}
	for _, err := range n.sr.Send(message, &params) {
		if err != nil {
			logrus.WithError(err).Error("Failed to send notification")
		}
	}
}

// NotifyMalicious reports an analysis that produced malicious verdicts.
func (n *Notifier) NotifyMalicious(id, subject string, providers []string) {
	if n == nil {
		return
	}
	message := fmt.Sprintf("Analysis **%s** (subject: %s) was flagged malicious by **%s**.",
		id, subject, strings.Join(providers, ", "))
	n.Send("Malicious Email Detected", message)
}
