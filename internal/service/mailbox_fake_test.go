package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mailmerge/mailmerge/internal/email"
)

// fakeMailbox is an in-memory email.Mailbox
type fakeMailbox struct {
	mu       sync.Mutex
	sent     []*email.Message
	drafts   []*email.Message
	labels   []email.Label
	labeled  map[string][]string
	failTo   map[string]error
	headers  map[string]string
	lookups  int
	nextID   int
	labelErr error
	owner    string
	// hideHeaders makes every Message-ID lookup come back empty
	hideHeaders bool
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		labeled: make(map[string][]string),
		failTo:  make(map[string]error),
		headers: make(map[string]string),
		owner:   "me@example.com",
	}
}

func (f *fakeMailbox) Send(_ context.Context, msg *email.Message) (*email.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTo[msg.To]; ok {
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	thread := msg.ThreadID
	if thread == "" {
		thread = "t" + id
	}
	f.headers[id] = "<" + id + "@mail.example.com>"
	f.sent = append(f.sent, msg)
	return &email.SentMessage{ID: id, ThreadID: thread}, nil
}

func (f *fakeMailbox) CreateDraft(_ context.Context, msg *email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTo[msg.To]; ok {
		return "", err
	}
	f.nextID++
	f.drafts = append(f.drafts, msg)
	return fmt.Sprintf("d%d", f.nextID), nil
}

func (f *fakeMailbox) MessageIDHeader(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.hideHeaders {
		return "", email.ErrHeaderNotFound
	}
	h, ok := f.headers[id]
	if !ok {
		return "", email.ErrHeaderNotFound
	}
	return h, nil
}

func (f *fakeMailbox) ListLabels(context.Context) ([]email.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Label(nil), f.labels...), nil
}

func (f *fakeMailbox) CreateLabel(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("Label_%d", len(f.labels)+1)
	f.labels = append(f.labels, email.Label{ID: id, Name: name})
	return id, nil
}

func (f *fakeMailbox) BatchLabel(_ context.Context, labelID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labelErr != nil {
		return f.labelErr
	}
	f.labeled[labelID] = append(f.labeled[labelID], ids...)
	return nil
}

func (f *fakeMailbox) ProfileAddress(context.Context) (string, error) {
	if f.owner == "" {
		return "", errors.New("no profile")
	}
	return f.owner, nil
}

// sentTo returns recipients of sent messages, excluding backups to the owner
func (f *fakeMailbox) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.To != f.owner {
			out = append(out, m.To)
		}
	}
	return out
}
