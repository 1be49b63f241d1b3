package imap

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/invoice-fetcher/model"
)

// maxNesting bounds how deep forwarded message/rfc822 parts are followed.
const maxNesting = 8

// ParseAttachments decodes a raw RFC 5322 message and returns every part
// that carries a filename, attachment or inline, in message order. Parts of
// type message/rfc822 are parsed in place, so attachments of forwarded
// messages are included.
func ParseAttachments(raw []byte) ([]model.Attachment, error) {
	return parseAttachments(raw, 0)
}

func parseAttachments(raw []byte, depth int) ([]model.Attachment, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var attachments []model.Attachment
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return attachments, fmt.Errorf("read part: %w", err)
		}
		if part == nil {
			continue
		}

		filename, contentType := partInfo(part.Header)
		if contentType == "message/rfc822" && depth < maxNesting {
			inner, err := io.ReadAll(part.Body)
			if err != nil {
				return attachments, fmt.Errorf("read forwarded message: %w", err)
			}
			nested, err := parseAttachments(inner, depth+1)
			attachments = append(attachments, nested...)
			if err != nil {
				return attachments, fmt.Errorf("forwarded message: %w", err)
			}
			continue
		}
		if filename == "" {
			continue
		}

		payload, err := io.ReadAll(part.Body)
		if err != nil {
			return attachments, fmt.Errorf("read attachment %q: %w", filename, err)
		}

		attachments = append(attachments, model.Attachment{
			Filename:    filename,
			ContentType: contentType,
			Payload:     payload,
		})
	}

	return attachments, nil
}

func partInfo(header mail.PartHeader) (filename, contentType string) {
	var h message.Header
	switch ph := header.(type) {
	case *mail.AttachmentHeader:
		h = ph.Header
	case *mail.InlineHeader:
		h = ph.Header
	default:
		return "", ""
	}

	contentType, _, _ = h.ContentType()
	// inline parts with a filename count as attachments too
	filename, _ = (&mail.AttachmentHeader{Header: h}).Filename()
	return filename, contentType
}
