package inbox

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/eraser-privacy/baunsu/internal/bounce"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

func init() {
	// Lets go-message decode encoded-words in non-UTF-8 charsets (Subject, From names)
	message.CharsetReader = charsetReader
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if charset == "" {
		return input, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToLower(charset))
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unhandled charset %q", charset)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// Message is a raw message fetched from a mailbox
type Message struct {
	UID        uint32 // IMAP UID for operations like move
	MessageID  string
	From       string
	FromName   string // Sender display name (e.g., "Mail Delivery Subsystem")
	Subject    string
	ReceivedAt time.Time
	Raw        []byte
}

// Detection pairs a message with its bounce result
type Detection struct {
	Message Message
	Result  *bounce.Result
}

// ReadHeader parses the top-level header block of a raw message
func ReadHeader(raw []byte) (textproto.Header, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return textproto.Header{}, fmt.Errorf("failed to read message header: %w", err)
	}
	return h, nil
}

// HeaderTree converts parsed header fields into the structured form the
// detector searches, in the order they appear in the message
func HeaderTree(h textproto.Header) bounce.Node {
	var pairs []bounce.Pair
	fields := h.Fields()
	for fields.Next() {
		value := strings.Join(bounce.Unfold(fields.Value()), " ")
		pairs = append(pairs, bounce.Pair{Name: fields.Key(), Value: value})
	}
	return bounce.HeaderList(pairs...)
}

// DetectHeaders scores only the top-level header block of raw, passed to the
// detector as a structured tree. Header fields are already unfolded, so
// bounce reports quoted in the body are not counted.
func DetectHeaders(detector *bounce.Detector, raw []byte) (*bounce.Result, error) {
	h, err := ReadHeader(raw)
	if err != nil {
		return nil, err
	}
	return detector.DetectSync(HeaderTree(h))
}

// ParseMessage builds a Message from raw bytes, filling the summary fields
// from its header. Malformed address or date headers are left empty.
func ParseMessage(raw []byte) (Message, error) {
	msg := Message{Raw: raw}

	th, err := ReadHeader(raw)
	if err != nil {
		return msg, err
	}
	h := mail.Header{Header: message.Header{Header: th}}

	msg.MessageID, _ = h.MessageID()
	msg.Subject, _ = h.Subject()
	if date, err := h.Date(); err == nil {
		msg.ReceivedAt = date
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
		msg.FromName = from[0].Name
	} else {
		msg.From = strings.TrimSpace(th.Get("From"))
	}
	return msg, nil
}
