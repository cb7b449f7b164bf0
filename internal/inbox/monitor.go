package inbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/eraser-privacy/baunsu/internal/config"
)

const fetchBatchSize = 50

// Monitor handles the IMAP connection and runs bounce detection on fetched mail
type Monitor struct {
	config   config.InboxConfig
	client   *client.Client
	detector *bounce.Detector

	// HeadersOnly scores the parsed top-level header instead of the full text
	HeadersOnly bool
}

// NewMonitor creates a new inbox monitor
func NewMonitor(cfg config.InboxConfig, detector *bounce.Detector) *Monitor {
	return &Monitor{
		config:   cfg,
		detector: detector,
	}
}

// Connect establishes IMAP connection
func (m *Monitor) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)

	log.Printf("Connecting to IMAP server %s...", addr)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	log.Printf("Connected, logging in as %s...", m.config.Email)

	if err := c.Login(m.config.Email, m.config.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	m.client = c
	log.Printf("Login successful")
	return nil
}

// Disconnect closes the IMAP connection
func (m *Monitor) Disconnect() error {
	if m.client != nil {
		return m.client.Logout()
	}
	return nil
}

// FetchRecentMessages fetches full messages from the last N days of the configured folder
func (m *Monitor) FetchRecentMessages(ctx context.Context, days int) ([]Message, error) {
	if m.client == nil {
		return nil, fmt.Errorf("not connected to IMAP server")
	}

	mbox, err := m.client.Select(m.config.Folder, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.config.Folder, err)
	}

	log.Printf("Mailbox %s has %d messages", m.config.Folder, mbox.Messages)

	if mbox.Messages == 0 {
		return nil, nil
	}

	since := time.Now().AddDate(0, 0, -days)
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	log.Printf("Found %d emails since %s", len(uids), since.Format("2006-01-02"))

	var messages []Message
	for i := 0; i < len(uids); i += fetchBatchSize {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		end := min(i+fetchBatchSize, len(uids))
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[i:end]...)

		batch, err := m.fetchBatch(seqSet, end-i)
		if err != nil {
			log.Printf("Warning: error fetching batch: %v", err)
		}
		messages = append(messages, batch...)
	}
	return messages, nil
}

func (m *Monitor) fetchBatch(seqSet *imap.SeqSet, size int) ([]Message, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	fetched := make(chan *imap.Message, size)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqSet, items, fetched)
	}()

	var messages []Message
	for msg := range fetched {
		parsed, err := readMessage(msg, section)
		if err != nil {
			log.Printf("Warning: failed to read message %d: %v", msg.Uid, err)
			continue
		}
		messages = append(messages, parsed)
	}

	if err := <-done; err != nil {
		return messages, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// readMessage converts an IMAP message to our Message struct
func readMessage(msg *imap.Message, section *imap.BodySectionName) (Message, error) {
	r := msg.GetBody(section)
	if r == nil {
		return Message{}, fmt.Errorf("server returned no body")
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return Message{}, fmt.Errorf("failed to read body: %w", err)
	}

	parsed, err := ParseMessage(raw)
	if err != nil {
		log.Printf("Warning: message %d has an unreadable header: %v", msg.Uid, err)
	}
	parsed.UID = msg.Uid

	// The envelope is authoritative where the header could not be parsed
	if env := msg.Envelope; env != nil {
		if parsed.Subject == "" {
			parsed.Subject = env.Subject
		}
		if parsed.MessageID == "" {
			parsed.MessageID = env.MessageId
		}
		if parsed.ReceivedAt.IsZero() {
			parsed.ReceivedAt = env.Date
		}
		if parsed.From == "" && len(env.From) > 0 {
			parsed.From = env.From[0].Address()
			parsed.FromName = env.From[0].PersonalName
		}
	}
	return parsed, nil
}

// Detect runs bounce detection on each message's raw text, or on its header
// alone when HeadersOnly is set
func (m *Monitor) Detect(messages []Message) []Detection {
	detections := make([]Detection, 0, len(messages))
	for _, msg := range messages {
		res, err := m.score(msg.Raw)
		if err != nil {
			log.Printf("Warning: failed to scan message %q: %v", msg.Subject, err)
			continue
		}
		detections = append(detections, Detection{Message: msg, Result: res})
	}
	return detections
}

func (m *Monitor) score(raw []byte) (*bounce.Result, error) {
	if m.HeadersOnly {
		return DetectHeaders(m.detector, raw)
	}
	return m.detector.DetectSync(raw)
}

// ScanRecent fetches the last N days of mail and scores every message
func (m *Monitor) ScanRecent(ctx context.Context, days int) ([]Detection, error) {
	messages, err := m.FetchRecentMessages(ctx, days)
	if err != nil {
		return nil, err
	}

	detections := m.Detect(messages)
	log.Printf("Found %d bounces (out of %d messages)", len(Bounced(detections)), len(detections))
	return detections, nil
}

// Bounced filters detections down to messages flagged as bounces
func Bounced(detections []Detection) []Detection {
	var out []Detection
	for _, d := range detections {
		if d.Result.Bounced {
			out = append(out, d)
		}
	}
	return out
}

// WatchForNewMessages scans new mail as it arrives (blocking)
func (m *Monitor) WatchForNewMessages(ctx context.Context, callback func(Detection)) error {
	if m.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	if _, err := m.client.Select(m.config.Folder, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	updates := make(chan client.Update)
	m.client.Updates = updates

	stop := make(chan struct{})
	idleDone := make(chan error, 1)

	go func() {
		idleDone <- m.client.Idle(stop, nil)
	}()

	log.Printf("Watching for new emails (press Ctrl+C to stop)...")

	seen := make(map[uint32]bool)
	for {
		select {
		case <-ctx.Done():
			close(stop)
			return ctx.Err()
		case update := <-updates:
			u, ok := update.(*client.MailboxUpdate)
			if !ok {
				continue
			}
			log.Printf("New mail detected: %d messages", u.Mailbox.Messages)
			close(stop)
			<-idleDone

			messages, err := m.FetchRecentMessages(ctx, 1)
			if err != nil {
				log.Printf("Error fetching new email: %v", err)
			}
			for _, d := range m.Detect(messages) {
				if seen[d.Message.UID] {
					continue
				}
				seen[d.Message.UID] = true
				callback(d)
			}

			stop = make(chan struct{})
			go func() {
				idleDone <- m.client.Idle(stop, nil)
			}()
		case err := <-idleDone:
			if err != nil {
				return fmt.Errorf("IDLE error: %w", err)
			}
		}
	}
}

// EnsureFolderExists creates a folder/label if it doesn't already exist
func (m *Monitor) EnsureFolderExists(name string) error {
	if m.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.List("", "*", mailboxes)
	}()

	exists := false
	for mbox := range mailboxes {
		if strings.EqualFold(mbox.Name, name) {
			exists = true
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	if exists {
		log.Printf("Folder '%s' already exists", name)
		return nil
	}

	if err := m.client.Create(name); err != nil {
		return fmt.Errorf("failed to create folder '%s': %w", name, err)
	}

	log.Printf("Created folder '%s'", name)
	return nil
}

// ArchiveMessages moves messages to the archive folder
func (m *Monitor) ArchiveMessages(uids []uint32, folder string) error {
	if m.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	if len(uids) == 0 {
		return nil
	}

	// Re-select the scanned folder to ensure we're in the right mailbox
	if _, err := m.client.Select(m.config.Folder, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	// Try MOVE first (RFC 6851) - this is most efficient
	if err := m.client.UidMove(seqSet, folder); err != nil {
		log.Printf("MOVE not supported, falling back to COPY+DELETE: %v", err)

		if err := m.client.UidCopy(seqSet, folder); err != nil {
			return fmt.Errorf("failed to copy emails to '%s': %w", folder, err)
		}

		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.DeletedFlag}
		if err := m.client.UidStore(seqSet, item, flags, nil); err != nil {
			return fmt.Errorf("failed to mark emails as deleted: %w", err)
		}

		if err := m.client.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge deleted emails: %w", err)
		}
	}

	log.Printf("Archived %d emails to '%s'", len(uids), folder)
	return nil
}
