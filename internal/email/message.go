package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Message represents an email message to be sent.
type Message struct {
	FromName    string // display name, optional
	FromAddress string // sender address, optional (provider fills it in)
	To          string // recipient email address
	Subject     string // email subject
	HTMLBody    string // HTML email body
	TextBody    string // plain-text body or fallback
	// InReplyTo and References thread a reply onto an earlier message
	InReplyTo  string
	References string
	// ThreadID places the message in an existing provider thread
	ThreadID    string
	Attachments []Attachment
}

// Attachment is a file attached to a message
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IsReply reports whether the message carries reply headers
func (m *Message) IsReply() bool {
	return m.InReplyTo != "" && m.ThreadID != ""
}

func (m *Message) header() mail.Header {
	var h mail.Header
	h.SetDate(time.Now())
	if m.FromAddress != "" {
		h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.FromAddress}})
	}
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject)
	h.Set("MIME-Version", "1.0")
	if m.InReplyTo != "" {
		h.Set("In-Reply-To", m.InReplyTo)
	}
	if m.References != "" {
		h.Set("References", m.References)
	}
	return h
}

// Bytes renders the message as RFC 5322 text
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	h := m.header()

	if len(m.Attachments) == 0 && (m.HTMLBody == "" || m.TextBody == "") {
		contentType, body := "text/plain", m.TextBody
		if m.HTMLBody != "" {
			contentType, body = "text/html", m.HTMLBody
		}
		h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")

		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, fmt.Errorf("failed to write message body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close message body: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline part: %w", err)
	}
	if m.TextBody != "" {
		if err := writeInline(iw, "text/plain", m.TextBody); err != nil {
			return nil, err
		}
	}
	if m.HTMLBody != "" {
		if err := writeInline(iw, "text/html", m.HTMLBody); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close inline part: %w", err)
	}

	for _, a := range m.Attachments {
		var ah mail.AttachmentHeader
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.SetContentType(contentType, map[string]string{"name": a.Filename})
		ah.SetFilename(a.Filename)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment %s: %w", a.Filename, err)
		}
		if _, err := aw.Write(a.Data); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", a.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment %s: %w", a.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(iw *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	pw, err := iw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return pw.Close()
}

// Raw returns the message encoded as base64url, as the Gmail API expects
func (m *Message) Raw() (string, error) {
	data, err := m.Bytes()
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}
