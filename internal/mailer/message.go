package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Attachment is a single file attached to a notification.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Message is one outbound notification email.
type Message struct {
	From       string // optional; Gmail substitutes the authenticated account
	To         string
	Subject    string
	Body       string
	Attachment *Attachment
}

// MIME renders the message as an RFC 2822 byte stream ready for the Gmail
// raw-send API: plain text when there is no attachment, multipart/mixed
// otherwise.
func (m *Message) MIME() ([]byte, error) {
	if m.To == "" {
		return nil, fmt.Errorf("message has no recipient")
	}

	headers := make(textproto.MIMEHeader)
	if m.From != "" {
		headers.Set("From", m.From)
	}
	headers.Set("To", m.To)
	headers.Set("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	headers.Set("Date", time.Now().Format(time.RFC1123Z))
	headers.Set("Message-ID", fmt.Sprintf("<%s@cen.local>", uuid.New().String()))
	headers.Set("MIME-Version", "1.0")
	headers.Set("X-Mailer", "CEN Camera Event Notifier")
	// Alert mail must not trigger vacation autoresponders.
	headers.Set("Auto-Submitted", "auto-generated")

	var buf bytes.Buffer

	if m.Attachment == nil {
		headers.Set("Content-Type", "text/plain; charset=utf-8")
		writeHeaders(&buf, headers)
		buf.WriteString(m.Body)
		buf.WriteString("\r\n")
		return buf.Bytes(), nil
	}

	writer := multipart.NewWriter(&buf)
	headers.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%s", writer.Boundary()))
	writeHeaders(&buf, headers)

	textHdr := make(textproto.MIMEHeader)
	textHdr.Set("Content-Type", "text/plain; charset=utf-8")
	textHdr.Set("Content-Transfer-Encoding", "7bit")
	part, err := writer.CreatePart(textHdr)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	fmt.Fprintf(part, "%s\r\n", m.Body)

	attHdr := make(textproto.MIMEHeader)
	attHdr.Set("Content-Type", m.Attachment.MIMEType)
	attHdr.Set("Content-Transfer-Encoding", "base64")
	attHdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.Attachment.Filename))
	part, err = writer.CreatePart(attHdr)
	if err != nil {
		return nil, fmt.Errorf("create attachment part: %w", err)
	}
	if err := writeBase64Lines(part, m.Attachment.Data); err != nil {
		return nil, fmt.Errorf("encode attachment: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize MIME message: %w", err)
	}
	return buf.Bytes(), nil
}

// writeHeaders emits headers in sorted order for stable output.
func writeHeaders(buf *bytes.Buffer, headers textproto.MIMEHeader) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range headers[k] {
			fmt.Fprintf(buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")
}

// writeBase64Lines encodes data as base64 wrapped at 76 columns per RFC 2045.
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	const lineLen = 76
	for len(encoded) > 0 {
		n := lineLen
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := fmt.Fprintf(w, "%s\r\n", encoded[:n]); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}
