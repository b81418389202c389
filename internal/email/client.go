package email

import "context"

// Sender is the interface the queue processor uses to deliver one rendered
// email. It returns the provider's message id. Tests inject a stub that
// records calls without hitting the network.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) (string, error)
}
