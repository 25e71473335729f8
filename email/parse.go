package email

import (
	"io"
	"mime"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// ParseFile reads an RFC 5322 message from path. Only headers and the raw
// body are kept; MIME parts are not decoded.
func ParseFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	rec, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	rec.Filename = filepath.Base(path)
	return rec, nil
}

// Parse reads one message from r.
func Parse(r io.Reader) (*Record, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message")
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message body")
	}

	dec := new(mime.WordDecoder)
	subject := msg.Header.Get("Subject")
	if decoded, err := dec.DecodeHeader(subject); err == nil {
		subject = decoded
	}

	rec := &Record{
		Subject: strings.TrimSpace(subject),
		Sender:  strings.TrimSpace(msg.Header.Get("From")),
		Body:    string(body),
		Status:  StatusPending,
	}
	if date, err := msg.Header.Date(); err == nil {
		utc := date.UTC()
		rec.ReceivedAt = &utc
	}
	return rec, nil
}
