package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
inbox:
  enabled: true
  provider: gmail
  email: me@example.com
  password: app-password
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "imap.gmail.com", cfg.Inbox.Server)
	assert.Equal(t, 993, cfg.Inbox.Port)
	assert.Equal(t, "INBOX", cfg.Inbox.Folder)
	assert.Equal(t, "Bounces", cfg.Inbox.ArchiveFolder)
	assert.Equal(t, 7, cfg.Inbox.LookbackDays)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.History.Path)
	assert.NoError(t, cfg.Validate())
	assert.NoError(t, cfg.ValidateInbox())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.History.Path = "/tmp/bounces.db"
	cfg.Server.Port = 9090

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0600 {
		t.Errorf("got permissions %04o, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/bounces.db", loaded.History.Path)
	assert.Equal(t, 9090, loaded.Server.Port)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryPath(), cfg.History.Path)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inbox: [unclosed"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateInbox(t *testing.T) {
	tests := []struct {
		name  string
		inbox InboxConfig
	}{
		{"disabled", InboxConfig{}},
		{"no email", InboxConfig{Enabled: true, Password: "x", Server: "imap", Port: 993}},
		{"no password", InboxConfig{Enabled: true, Email: "a@b", Server: "imap", Port: 993}},
		{"no server", InboxConfig{Enabled: true, Email: "a@b", Password: "x", Port: 993}},
		{"no port", InboxConfig{Enabled: true, Email: "a@b", Password: "x", Server: "imap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Inbox: tt.inbox}
			assert.Error(t, cfg.ValidateInbox())
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}
