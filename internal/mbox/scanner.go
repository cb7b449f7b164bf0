package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	gombox "github.com/emersion/go-mbox"
	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/eraser-privacy/baunsu/internal/inbox"
)

// Scanner runs bounce detection over every message of an mbox archive
type Scanner struct {
	detector *bounce.Detector

	// HeadersOnly scores each message's parsed header instead of its full text
	HeadersOnly bool
}

func NewScanner(detector *bounce.Detector) *Scanner {
	return &Scanner{detector: detector}
}

// ScanFile opens path and scans it
func (s *Scanner) ScanFile(ctx context.Context, path string) ([]inbox.Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mbox: %w", err)
	}
	defer f.Close()

	return s.Scan(ctx, f)
}

// Scan reads messages from r in order. Messages whose header cannot be parsed
// are still scored on their raw text.
func (s *Scanner) Scan(ctx context.Context, r io.Reader) ([]inbox.Detection, error) {
	reader := gombox.NewReader(r)

	var detections []inbox.Detection
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return detections, err
		}

		mr, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return detections, fmt.Errorf("failed to read message %d: %w", i, err)
		}

		raw, err := io.ReadAll(mr)
		if err != nil {
			return detections, fmt.Errorf("failed to read message %d: %w", i, err)
		}

		msg, err := inbox.ParseMessage(raw)
		if err != nil {
			log.Printf("Warning: message %d has an unreadable header: %v", i, err)
		}

		var res *bounce.Result
		if s.HeadersOnly {
			res, err = inbox.DetectHeaders(s.detector, raw)
		} else {
			res, err = s.detector.DetectSync(raw)
		}
		if err != nil {
			log.Printf("Warning: failed to scan message %d: %v", i, err)
			continue
		}
		detections = append(detections, inbox.Detection{Message: msg, Result: res})
	}
	return detections, nil
}
