package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/eraser-privacy/baunsu/internal/config"
	"github.com/eraser-privacy/baunsu/internal/history"
	"github.com/eraser-privacy/baunsu/internal/web"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbFile  string
	verbose bool
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbFile != "" {
		cfg.History.Path = dbFile
	}
	return cfg, nil
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// newDetector builds the detector, logging every notification with --verbose
func newDetector() *bounce.Detector {
	if !verbose {
		return bounce.New()
	}
	return bounce.New(bounce.WithObserver(bounce.ObserverFunc(logEvent)))
}

func logEvent(e bounce.Event) {
	switch e.Type {
	case bounce.EventLine:
		log.Printf("line: %s", e.Line)
	case bounce.EventMatch:
		log.Printf("match: %s =%s", e.Header, e.Value)
	case bounce.EventDetect:
		log.Printf("detect: %s (%d values)", e.Header, len(e.Matches))
	case bounce.EventEnd:
		if e.Err != nil {
			log.Printf("end: %v", e.Err)
		} else {
			log.Printf("end: score %.3f", e.Result.Score)
		}
	}
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "baunsu",
		Short: "baunsu - Detect bounced email",
		Long: `baunsu scores messages for the telltale headers of delivery status
notifications and tells you whether a message is a bounce.

It reads raw messages, structured JSON/YAML message resources, mbox
archives and IMAP inboxes, and keeps a local history of its verdicts.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.baunsu/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbFile, "db", "", "history database (default is $HOME/.baunsu/history.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every line, match and detection")

	// Add commands
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(mboxCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(registryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func historyCmd() *cobra.Command {
	var limit int
	var pruneDays int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show detection history and statistics",
		Long:  "Display recent detection results and overall totals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(limit, pruneDays)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent results to show")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "Delete results older than this many days first")

	return cmd
}

func runHistory(limit, pruneDays int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if pruneDays > 0 {
		deleted, err := store.DeleteBefore(time.Now().AddDate(0, 0, -pruneDays))
		if err != nil {
			return err
		}
		fmt.Printf("🗑️  Deleted %d results older than %d days\n\n", deleted, pruneDays)
	}

	stats, err := store.GetStats()
	if err != nil {
		return err
	}

	fmt.Println("📊 baunsu Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Scanned: %d\n", stats.Total)
	fmt.Printf("  Bounced: %d\n", stats.Bounced)
	fmt.Printf("  Runs: %d\n", stats.Runs)
	fmt.Printf("  Average score: %.3f\n", stats.AvgScore)

	records, err := store.GetRecent(limit)
	if err != nil {
		return err
	}

	if len(records) > 0 {
		fmt.Println()
		fmt.Printf("📜 Recent Results (last %d)\n", limit)
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		for _, r := range records {
			label := r.Subject
			if label == "" {
				label = r.Origin
			}
			fmt.Printf("%s %s [%s] %s (score %.3f)\n",
				verdictIcon(r.Bounced),
				r.ScannedAt.Format("2006-01-02 15:04"),
				r.Source,
				truncateString(label, 60),
				r.Score,
			)
			if r.Recipient != "" {
				fmt.Printf("   Recipient: %s\n", r.Recipient)
			}
		}
	}
	return nil
}

func serveCmd() *cobra.Command {
	var port int
	var open bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local web interface and JSON API",
		Long: `Start a local web server with a paste form for checking a message and a
JSON API for scripts:

  POST /api/detect     raw message text, or a JSON/YAML message resource
  GET  /api/history    recent results
  GET  /api/stats      totals
  GET  /api/registry   the known headers and their patterns
  POST /api/scan       scan the configured inbox in the background

The server listens on 127.0.0.1 only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, open)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config, 8080)")
	cmd.Flags().BoolVar(&open, "open", false, "Open the web UI in a browser")

	return cmd
}

func runServe(port int, open bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	detector := newDetector()
	defer detector.Close()

	server, err := web.NewServer(cfg, store, detector)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.Start(open)
}

func registryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "List the headers used to recognize bounces",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := bounce.DefaultRegistry()
			fmt.Printf("📋 %d known headers\n", reg.Len())
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			for _, e := range reg.Entries() {
				fmt.Printf("  %-24s %s\n", e.Name, strings.TrimPrefix(e.Pattern.String(), "(?i)"))
			}
			return nil
		},
	}
}

func verdictIcon(bounced bool) string {
	if bounced {
		return "🔴"
	}
	return "🟢"
}

// truncateString shortens s to at most maxLen runes
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
