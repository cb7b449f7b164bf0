package bounce

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractText(t *testing.T) {
	reg := DefaultRegistry()
	text := "Final-Recipient: rfc822; user@example.com\n" +
		"X-Mailer: mutt\n" +
		"final-recipient: rfc822; other@example.com\n" +
		"Subject: Undeliverable:\n mail returned"

	h := ExtractText(reg, text, nil)
	assert.Equal(t, []string{"final-recipient", "subject"}, h.Keys())
	assert.Equal(t, []string{" rfc822; user@example.com", " rfc822; other@example.com"}, h.Values("final-recipient"))
	assert.Equal(t, []string{" Undeliverable: mail returned"}, h.Values("subject"))
}

func TestExtractTextEvents(t *testing.T) {
	var got []Event
	ExtractText(DefaultRegistry(), "Action: failed\nhello", func(e Event) { got = append(got, e) })

	assert.Equal(t, []Event{
		{Type: EventLine, Line: "Action: failed"},
		{Type: EventMatch, Header: "action", Value: " failed"},
		{Type: EventLine, Line: "hello"},
	}, got)
}

func TestExtractTreeKeepsUnregistered(t *testing.T) {
	var got []Event
	root := HeaderList(Pair{"X-Mailer", "mutt"}, Pair{"ACTION", "failed"})
	h := ExtractTree(root, func(e Event) { got = append(got, e) })

	assert.Equal(t, []string{"x-mailer", "action"}, h.Keys())
	assert.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, EventMatch, e.Type)
	}
}
