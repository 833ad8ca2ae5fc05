package email

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// gmailUser is the special user ID addressing the authenticated account
const gmailUser = "me"

// GmailMailbox implements Mailbox using the Gmail API.
type GmailMailbox struct {
	service    *gmail.Service
	senderName string

	mu      sync.Mutex
	profile string
}

// NewGmailMailbox creates a GmailMailbox on top of an authorized HTTP client.
func NewGmailMailbox(ctx context.Context, client *http.Client, senderName string) (*GmailMailbox, error) {
	if client == nil {
		return nil, fmt.Errorf("gmail: http client is required")
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}

	return &GmailMailbox{
		service:    svc,
		senderName: senderName,
	}, nil
}

// Send sends an email via the Gmail API.
func (g *GmailMailbox) Send(ctx context.Context, msg *Message) (*SentMessage, error) {
	gmailMsg, err := g.encode(ctx, msg)
	if err != nil {
		return nil, err
	}

	sent, err := g.service.Users.Messages.Send(gmailUser, gmailMsg).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to send email: %w", err)
	}

	return &SentMessage{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// CreateDraft saves the message as a draft.
func (g *GmailMailbox) CreateDraft(ctx context.Context, msg *Message) (string, error) {
	gmailMsg, err := g.encode(ctx, msg)
	if err != nil {
		return "", err
	}

	draft, err := g.service.Users.Drafts.Create(gmailUser, &gmail.Draft{Message: gmailMsg}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: failed to create draft: %w", err)
	}

	return draft.Id, nil
}

// MessageIDHeader fetches the Message-ID header of a sent message.
// Gmail assigns it asynchronously, so callers should expect
// ErrHeaderNotFound shortly after sending.
func (g *GmailMailbox) MessageIDHeader(ctx context.Context, messageID string) (string, error) {
	m, err := g.service.Users.Messages.Get(gmailUser, messageID).
		Format("metadata").
		MetadataHeaders("Message-ID").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("gmail: failed to get message %s: %w", messageID, err)
	}

	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			if strings.EqualFold(h.Name, "message-id") && h.Value != "" {
				return h.Value, nil
			}
		}
	}

	return "", ErrHeaderNotFound
}

// ListLabels returns the account's labels.
func (g *GmailMailbox) ListLabels(ctx context.Context) ([]Label, error) {
	resp, err := g.service.Users.Labels.List(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to list labels: %w", err)
	}

	labels := make([]Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, Label{ID: l.Id, Name: l.Name})
	}
	return labels, nil
}

// CreateLabel creates a label shown in both the label and message lists.
func (g *GmailMailbox) CreateLabel(ctx context.Context, name string) (string, error) {
	label := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}

	created, err := g.service.Users.Labels.Create(gmailUser, label).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: failed to create label: %w", err)
	}
	return created.Id, nil
}

// BatchLabel adds labelID to all messageIDs in a single call.
func (g *GmailMailbox) BatchLabel(ctx context.Context, labelID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	req := &gmail.BatchModifyMessagesRequest{
		Ids:         messageIDs,
		AddLabelIds: []string{labelID},
	}
	if err := g.service.Users.Messages.BatchModify(gmailUser, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail: failed to apply label: %w", err)
	}
	return nil
}

// ProfileAddress returns the authenticated account's address. The result
// of the first successful call is reused.
func (g *GmailMailbox) ProfileAddress(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.profile != "" {
		return g.profile, nil
	}

	p, err := g.service.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: failed to get profile: %w", err)
	}
	g.profile = p.EmailAddress
	return g.profile, nil
}

func (g *GmailMailbox) encode(ctx context.Context, msg *Message) (*gmail.Message, error) {
	if g.senderName != "" && msg.FromAddress == "" {
		addr, err := g.ProfileAddress(ctx)
		if err != nil {
			return nil, err
		}
		cp := *msg
		cp.FromName = g.senderName
		cp.FromAddress = addr
		msg = &cp
	}

	raw, err := msg.Raw()
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to build message: %w", err)
	}

	return &gmail.Message{Raw: raw, ThreadId: msg.ThreadID}, nil
}
