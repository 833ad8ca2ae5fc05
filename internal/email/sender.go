package email

import (
	"context"
	"errors"
)

// ErrHeaderNotFound is returned when a message has no Message-ID header yet
var ErrHeaderNotFound = errors.New("message-id header not found")

// Mailbox is the remote mail account the merge operates on.
// This abstraction keeps the dispatcher independent of the Gmail client
// and lets tests substitute an in-memory mailbox.
type Mailbox interface {
	// Send sends a message and returns the provider identifiers.
	Send(ctx context.Context, msg *Message) (*SentMessage, error)
	// CreateDraft stores the message as a draft and returns the draft ID.
	CreateDraft(ctx context.Context, msg *Message) (string, error)
	// MessageIDHeader returns the RFC 822 Message-ID of a sent message.
	MessageIDHeader(ctx context.Context, messageID string) (string, error)
	// ListLabels returns the account's labels.
	ListLabels(ctx context.Context) ([]Label, error)
	// CreateLabel creates a visible label and returns its ID.
	CreateLabel(ctx context.Context, name string) (string, error)
	// BatchLabel adds a label to every listed message.
	BatchLabel(ctx context.Context, labelID string, messageIDs []string) error
	// ProfileAddress returns the account's own email address.
	ProfileAddress(ctx context.Context) (string, error)
}

// SentMessage holds the identifiers assigned by the provider
type SentMessage struct {
	ID       string
	ThreadID string
}

// Label is a mailbox label
type Label struct {
	ID   string
	Name string
}
