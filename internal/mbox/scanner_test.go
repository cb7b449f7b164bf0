package mbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const archive = "From MAILER-DAEMON Mon Jan  2 15:04:05 2006\n" +
	"From: Mail Delivery Subsystem <MAILER-DAEMON@mx.example.com>\n" +
	"Subject: Undelivered Mail Returned to Sender\n" +
	"Message-ID: <bounce-1@mx.example.com>\n" +
	"X-Failed-Recipients: missing@example.org\n" +
	"\n" +
	"Action: failed\n" +
	"Status: 5.1.1\n" +
	"\n" +
	"From alice@example.com Mon Jan  2 16:00:00 2006\n" +
	"From: Alice <alice@example.com>\n" +
	"Subject: lunch?\n" +
	"Message-ID: <lunch@example.com>\n" +
	"\n" +
	"Are you free at noon?\n"

func TestScan(t *testing.T) {
	s := NewScanner(bounce.New())

	detections, err := s.Scan(context.Background(), strings.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, detections, 2)

	first := detections[0]
	assert.Equal(t, "bounce-1@mx.example.com", first.Message.MessageID)
	assert.Equal(t, "missing@example.org", first.Result.Recipient())
	for _, h := range []string{"from", "x-failed-recipients", "action", "status"} {
		assert.True(t, first.Result.Matches.Has(h), h)
	}

	second := detections[1]
	assert.Equal(t, "lunch@example.com", second.Message.MessageID)
	assert.Equal(t, 0, second.Result.Matches.Len())
	assert.Less(t, second.Result.Score, first.Result.Score)
}

func TestScanEmpty(t *testing.T) {
	detections, err := NewScanner(bounce.New()).Scan(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, detections)
}

func TestScanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bounces.mbox")
	require.NoError(t, os.WriteFile(path, []byte(archive), 0600))

	detections, err := NewScanner(bounce.New()).ScanFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, detections, 2)

	_, err = NewScanner(bounce.New()).ScanFile(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestScanCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(bounce.New()).Scan(ctx, strings.NewReader(archive))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanHeadersOnly(t *testing.T) {
	s := NewScanner(bounce.New())
	s.HeadersOnly = true

	detections, err := s.Scan(context.Background(), strings.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, detections, 2)

	first := detections[0].Result
	assert.True(t, first.Matches.Has("x-failed-recipients"))
	assert.False(t, first.Matches.Has("action"))
	assert.Equal(t, "missing@example.org", first.Recipient())
	assert.InDelta(t, 5.0/14, first.Score, 1e-9)
}
