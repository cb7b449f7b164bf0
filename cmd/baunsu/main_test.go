package main

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/eraser-privacy/baunsu/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawBounce = "From: Mail Delivery Subsystem <mailer-daemon@googlemail.com>\r\n" +
	"Subject: Delivery Status Notification (Failure)\r\n" +
	"Message-ID: <dsn-7@mx.google.com>\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; gone@example.com\r\n" +
	"Action: failed\r\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadInput(t *testing.T) {
	structured := `{"headers": [{"name": "Action", "value": "failed"}]}`

	tests := []struct {
		name string
		file string
		raw  bool
		kind string
	}{
		{"eml is text", "bounce.eml", false, "bytes"},
		{"json is structured", "message.json", false, "node"},
		{"yaml is structured", "message.YAML", false, "node"},
		{"raw flag forces text", "message.json", true, "bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := loadInput(writeFile(t, tt.file, structured), tt.raw)
			require.NoError(t, err)
			switch tt.kind {
			case "bytes":
				assert.IsType(t, []byte(nil), input)
			case "node":
				assert.IsType(t, bounce.Node{}, input)
			}
		})
	}

	_, err := loadInput(filepath.Join(t.TempDir(), "missing.eml"), false)
	assert.Error(t, err)

	_, err = loadInput(writeFile(t, "broken.json", `{"headers": [`), false)
	assert.Error(t, err)
}

func TestRecordFor(t *testing.T) {
	input, err := loadInput(writeFile(t, "bounce.eml", rawBounce), false)
	require.NoError(t, err)

	res, err := bounce.New().DetectSync(input)
	require.NoError(t, err)

	rec := recordFor(res, input)
	assert.True(t, rec.Bounced)
	assert.Equal(t, "gone@example.com", rec.Recipient)
	assert.Equal(t, "dsn-7@mx.google.com", rec.MessageID)
	assert.Equal(t, "Delivery Status Notification (Failure)", rec.Subject)
	assert.Contains(t, rec.Headers, "final-recipient")
}

func TestRunDetectSaves(t *testing.T) {
	dbFile = filepath.Join(t.TempDir(), "history.db")
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { dbFile, cfgFile = "", "" })

	paths := []string{
		writeFile(t, "bounce.eml", rawBounce),
		writeFile(t, "message.json", `{"payload": {"headers": [{"name": "Status", "value": "5.1.1"}]}}`),
	}
	require.NoError(t, runDetect(paths, false, true, true))

	store, err := history.NewStore(dbFile)
	require.NoError(t, err)
	defer store.Close()

	records, err := store.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, records[0].RunID, records[1].RunID)
	for _, r := range records {
		assert.Equal(t, history.SourceFile, r.Source)
		assert.True(t, r.Bounced)
	}
}

func TestRunDetectReportsFailures(t *testing.T) {
	err := runDetect([]string{filepath.Join(t.TempDir(), "missing.eml")}, false, true, false)
	assert.Error(t, err)
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in       string
		max      int
		expected string
	}{
		{"short", 10, "short"},
		{"Delivery Status Notification (Failure)", 12, "Delivery ..."},
		{"Unzustellbar: Empfänger unbekannt", 16, "Unzustellbar:..."},
		{"配信不能のお知らせです", 6, "配信不..."},
		{"Réponse", 2, "Ré"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			out := truncateString(tt.in, tt.max)
			assert.Equal(t, tt.expected, out)
			assert.True(t, utf8.ValidString(out))
			assert.LessOrEqual(t, utf8.RuneCountInString(out), tt.max)
		})
	}
}
