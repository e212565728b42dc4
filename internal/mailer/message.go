package mailer

import (
	"bytes"
	"fmt"
	"mime/quotedprintable"
	"strings"
	"time"

	"github.com/google/uuid"
)

// buildMIME assembles the raw RFC 5322 message for SMTP delivery. Text
// and HTML parts are wrapped in multipart/alternative when both are
// present. Returns the message bytes and the generated Message-ID.
func buildMIME(params *SendParams, hostname string) ([]byte, string, error) {
	msgID := fmt.Sprintf("<%s@%s>", uuid.New().String(), hostname)

	var buf bytes.Buffer
	writeHeader(&buf, "From", formatFrom(params.From, params.FromName))
	writeHeader(&buf, "To", params.To)
	writeHeader(&buf, "Subject", params.Subject)
	writeHeader(&buf, "Message-ID", msgID)
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")
	for k, v := range params.Headers {
		writeHeader(&buf, k, v)
	}

	switch {
	case params.HTML != "" && params.Text != "":
		boundary := strings.ReplaceAll(uuid.New().String(), "-", "")
		writeHeader(&buf, "Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, boundary))
		buf.WriteString("\r\n")

		if err := writePart(&buf, boundary, "text/plain; charset=utf-8", params.Text); err != nil {
			return nil, "", err
		}
		if err := writePart(&buf, boundary, "text/html; charset=utf-8", params.HTML); err != nil {
			return nil, "", err
		}
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	case params.HTML != "":
		if err := writeBody(&buf, "text/html; charset=utf-8", params.HTML); err != nil {
			return nil, "", err
		}

	default:
		if err := writeBody(&buf, "text/plain; charset=utf-8", params.Text); err != nil {
			return nil, "", err
		}
	}

	return buf.Bytes(), msgID, nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

func writeBody(buf *bytes.Buffer, contentType, body string) error {
	writeHeader(buf, "Content-Type", contentType)
	writeHeader(buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")
	return encodeQP(buf, body)
}

func writePart(buf *bytes.Buffer, boundary, contentType, body string) error {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	return writeBody(buf, contentType, body)
}

func encodeQP(buf *bytes.Buffer, body string) error {
	w := quotedprintable.NewWriter(buf)
	if _, err := w.Write([]byte(body)); err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	buf.WriteString("\r\n")
	return nil
}
