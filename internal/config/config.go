package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

const (
	defaultServerPort   = 8080
	defaultRateLimit    = 30
	defaultLookbackDays = 7
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	History HistoryConfig `yaml:"history"`
	Inbox   InboxConfig   `yaml:"inbox,omitempty"`
	Server  ServerConfig  `yaml:"server,omitempty"`
}

// HistoryConfig controls where detection results are recorded
type HistoryConfig struct {
	Path string `yaml:"path"` // SQLite database file (default: ~/.baunsu/history.db)
}

// InboxConfig holds IMAP settings for scanning a mailbox for bounces
type InboxConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Provider      string `yaml:"provider"`       // "gmail", "outlook", "imap"
	Server        string `yaml:"server"`         // e.g., "imap.gmail.com"
	Port          int    `yaml:"port"`           // e.g., 993
	Email         string `yaml:"email"`          // Account to log in as
	Password      string `yaml:"password"`       // App password (not main password)
	Folder        string `yaml:"folder"`         // Folder to scan (default: "INBOX")
	LookbackDays  int    `yaml:"lookback_days"`  // Default --days for monitor
	AutoArchive   bool   `yaml:"auto_archive"`   // Move bounced messages to ArchiveFolder
	ArchiveFolder string `yaml:"archive_folder"` // Folder to archive bounces to (default: "Bounces")
}

// ServerConfig holds settings for the local web service
type ServerConfig struct {
	Port      int `yaml:"port"`
	RateLimit int `yaml:"rate_limit"` // API requests per minute per client
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".baunsu", "config.yaml")
}

// DefaultHistoryPath is the database used when the config names none
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "baunsu_history.db"
	}
	return filepath.Join(home, ".baunsu", "history.db")
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) applyDefaults() {
	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath()
	}

	// Set inbox defaults
	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.ArchiveFolder == "" {
		c.Inbox.ArchiveFolder = "Bounces"
	}
	if c.Inbox.LookbackDays == 0 {
		c.Inbox.LookbackDays = defaultLookbackDays
	}
	if c.Inbox.Provider == "gmail" && c.Inbox.Server == "" {
		c.Inbox.Server = "imap.gmail.com"
		c.Inbox.Port = 993
	}
	if c.Inbox.Provider == "outlook" && c.Inbox.Server == "" {
		c.Inbox.Server = "outlook.office365.com"
		c.Inbox.Port = 993
	}

	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = defaultRateLimit
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.History.Path == "" {
		return fmt.Errorf("history: path is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server: rate_limit must not be negative")
	}
	return nil
}

// ValidateInbox validates inbox configuration (only called when inbox scanning is used)
func (c *Config) ValidateInbox() error {
	if !c.Inbox.Enabled {
		return fmt.Errorf("inbox: monitoring is not enabled in config")
	}
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required")
	}
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	if c.Inbox.Port == 0 {
		return fmt.Errorf("inbox: IMAP port is required")
	}
	return nil
}
