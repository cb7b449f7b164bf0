package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/eraser-privacy/baunsu/internal/history"
	"github.com/eraser-privacy/baunsu/internal/inbox"
	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	var days int
	var archive bool
	var watch bool
	var headersOnly bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Scan your inbox for bounced mail",
		Long: `Connect to your email inbox via IMAP and check recent messages for bounces.

This command will:
- Fetch messages from the last N days of the configured folder
- Score every message and record the results in history
- Optionally move bounced messages to the archive folder

Requires inbox configuration in config.yaml with IMAP settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(days, archive, watch, headersOnly)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Number of days to look back (default from config, 7)")
	cmd.Flags().BoolVar(&archive, "archive", false, "Move bounced messages to the archive folder")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep watching for new mail")
	cmd.Flags().BoolVar(&headersOnly, "headers", false, "Score only each message's top-level header")

	return cmd
}

func runMonitor(days int, archive, watch, headersOnly bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.ValidateInbox(); err != nil {
		fmt.Println("📧 Inbox monitoring is not configured.")
		fmt.Println()
		fmt.Println("To enable inbox monitoring, add the following to your config.yaml:")
		fmt.Println()
		fmt.Println("inbox:")
		fmt.Println("  enabled: true")
		fmt.Println("  provider: gmail")
		fmt.Println("  email: your-email@gmail.com")
		fmt.Println("  password: your-app-password  # Use an App Password, not your main password")
		return err
	}
	if days <= 0 {
		days = cfg.Inbox.LookbackDays
	}
	archive = archive || cfg.Inbox.AutoArchive

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	detector := newDetector()
	defer detector.Close()

	monitor := inbox.NewMonitor(cfg.Inbox, detector)
	monitor.HeadersOnly = headersOnly

	ctx, cancel := signalContext()
	defer cancel()

	if err := monitor.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to inbox: %w", err)
	}
	defer monitor.Disconnect()

	fmt.Printf("📬 Checking %s for bounces (last %d days)...\n", cfg.Inbox.Folder, days)
	fmt.Println()

	detections, err := monitor.ScanRecent(ctx, days)
	if err != nil {
		return fmt.Errorf("failed to scan inbox: %w", err)
	}
	if err := saveDetections(store, detections, history.SourceIMAP, cfg.Inbox.Folder); err != nil {
		return err
	}

	bounced := inbox.Bounced(detections)
	for _, d := range bounced {
		printDetection(d)
	}
	fmt.Println()
	fmt.Printf("📊 %d messages, %d bounced\n", len(detections), len(bounced))

	if archive && len(bounced) > 0 {
		if err := archiveBounces(monitor, bounced, cfg.Inbox.ArchiveFolder); err != nil {
			log.Printf("Warning: %v", err)
		}
	}

	if !watch {
		return nil
	}

	fmt.Println()
	err = monitor.WatchForNewMessages(ctx, func(d inbox.Detection) {
		if err := saveDetections(store, []inbox.Detection{d}, history.SourceIMAP, cfg.Inbox.Folder); err != nil {
			log.Printf("Warning: failed to save result: %v", err)
		}
		if !d.Result.Bounced {
			return
		}
		printDetection(d)
		if archive {
			if err := archiveBounces(monitor, []inbox.Detection{d}, cfg.Inbox.ArchiveFolder); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func archiveBounces(monitor *inbox.Monitor, bounced []inbox.Detection, folder string) error {
	if err := monitor.EnsureFolderExists(folder); err != nil {
		return err
	}

	uids := make([]uint32, 0, len(bounced))
	for _, d := range bounced {
		uids = append(uids, d.Message.UID)
	}
	if err := monitor.ArchiveMessages(uids, folder); err != nil {
		return fmt.Errorf("failed to archive bounces: %w", err)
	}
	fmt.Printf("📁 Moved %d bounces to %s\n", len(uids), folder)
	return nil
}
