package render

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope holds the addressing of one newsletter email
type Envelope struct {
	FromName  string
	FromEmail string
	To        string
	Headers   map[string]string
}

// BuildMessage constructs an RFC 5322 multipart/alternative message
func BuildMessage(env Envelope, r *Result, now time.Time) []byte {
	var buf bytes.Buffer

	from := (&mail.Address{Name: env.FromName, Address: env.FromEmail}).String()

	// Headers
	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", env.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", r.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.New().String(), extractDomain(env.FromEmail)))

	for k, v := range env.Headers {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}

	boundary := uuid.New().String()
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	// Plain text part
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	writePart(&buf, "text/plain", r.Text)

	// HTML part
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	writePart(&buf, "text/html", r.HTML)

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes()
}

func writePart(buf *bytes.Buffer, contentType, body string) {
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=utf-8\r\n", contentType))
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(buf)
	body = strings.ReplaceAll(body, "\r\n", "\n")
	qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n")))
	qp.Close()
	buf.WriteString("\r\n")
}

// extractDomain extracts domain from email address
func extractDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
