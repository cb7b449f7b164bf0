package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/eraser-privacy/baunsu/internal/history"
	"github.com/eraser-privacy/baunsu/internal/inbox"
	"github.com/eraser-privacy/baunsu/internal/mbox"
	"github.com/spf13/cobra"
)

func detectCmd() *cobra.Command {
	var raw, asJSON, save bool

	cmd := &cobra.Command{
		Use:   "detect [files...]",
		Short: "Check messages for bounce headers",
		Long: `Score each file (or stdin when no file is given) for delivery status
notification headers.

Files ending in .json, .yaml or .yml are read as structured message
resources, such as a Gmail API message whose payload.headers is a list of
{name, value} objects. Everything else is read as raw message text.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(args, raw, asJSON, save)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Read .json/.yaml files as raw text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&save, "save", false, "Record results in history")

	return cmd
}

// fileResult is one detect verdict in --json output
type fileResult struct {
	File   string         `json:"file"`
	Result *bounce.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// loadInput reads a file as detector input
func loadInput(path string, raw bool) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if raw {
		return data, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		node, err := bounce.DecodeTree(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return node, nil
	default:
		return data, nil
	}
}

// recordFor fills the message summary of a history record when input is a
// raw message
func recordFor(res *bounce.Result, input any) history.Record {
	rec := history.FromResult(res)
	if data, ok := input.([]byte); ok {
		if msg, err := inbox.ParseMessage(data); err == nil {
			rec.MessageID = msg.MessageID
			rec.Subject = msg.Subject
			rec.From = msg.From
		}
	}
	return rec
}

func runDetect(paths []string, raw, asJSON, save bool) error {
	detector := newDetector()
	defer detector.Close()

	var store *history.Store
	if save {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err = openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
	}
	runID := history.NewRunID()

	type source struct {
		name  string
		input any
		err   error
	}
	var sources []source
	if len(paths) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sources = append(sources, source{name: "-", input: data})
	}
	for _, p := range paths {
		input, err := loadInput(p, raw)
		sources = append(sources, source{name: p, input: input, err: err})
	}

	var results []fileResult
	var failed, bounced int
	for _, src := range sources {
		fr := fileResult{File: src.name}
		var result *bounce.Result
		err := src.err
		if err == nil {
			result, err = detector.DetectSync(src.input)
		}
		if err != nil {
			failed++
			fr.Error = err.Error()
			results = append(results, fr)
			if !asJSON {
				fmt.Printf("❌ %s: %v\n", src.name, err)
			}
			continue
		}

		fr.Result = result
		results = append(results, fr)
		if result.Bounced {
			bounced++
		}
		if !asJSON {
			printResult(src.name, result)
		}

		if store != nil {
			rec := recordFor(result, src.input)
			rec.RunID = runID
			rec.Source = history.SourceFile
			rec.Origin = src.name
			if err := store.Add(&rec); err != nil {
				log.Printf("Warning: failed to save result for %s: %v", src.name, err)
			}
		}
	}

	if asJSON {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		fmt.Println(string(out))
	} else if len(sources) > 1 {
		fmt.Println()
		fmt.Printf("📊 %d checked, %d bounced, %d failed\n", len(sources), bounced, failed)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d inputs could not be checked", failed, len(sources))
	}
	return nil
}

func printResult(name string, res *bounce.Result) {
	verdict := "not a bounce"
	if res.Bounced {
		verdict = "BOUNCE"
	}
	fmt.Printf("%s %s: %s (score %.3f, %d/%d headers)\n",
		verdictIcon(res.Bounced), name, verdict, res.Score, res.Headers.Len(), res.Max)
	if r := res.Recipient(); r != "" {
		fmt.Printf("   Recipient: %s\n", r)
	}
	for _, h := range res.Matches.Keys() {
		for _, m := range res.Matches.Get(h) {
			fmt.Printf("   %s: %s\n", h, truncateString(strings.TrimSpace(m.Value), 70))
		}
	}
}

func mboxCmd() *cobra.Command {
	var save, bouncesOnly, headersOnly bool

	cmd := &cobra.Command{
		Use:   "mbox <file>",
		Short: "Check every message of an mbox archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMbox(args[0], save, bouncesOnly, headersOnly)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Record results in history")
	cmd.Flags().BoolVar(&bouncesOnly, "bounces", false, "Only list messages flagged as bounces")
	cmd.Flags().BoolVar(&headersOnly, "headers", false, "Score only each message's top-level header")

	return cmd
}

func runMbox(path string, save, bouncesOnly, headersOnly bool) error {
	detector := newDetector()
	defer detector.Close()

	ctx, cancel := signalContext()
	defer cancel()

	scanner := mbox.NewScanner(detector)
	scanner.HeadersOnly = headersOnly
	detections, err := scanner.ScanFile(ctx, path)
	if err != nil {
		return err
	}

	if save {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := saveDetections(store, detections, history.SourceMbox, path); err != nil {
			return err
		}
	}

	bounced := inbox.Bounced(detections)
	listed := detections
	if bouncesOnly {
		listed = bounced
	}
	for _, d := range listed {
		printDetection(d)
	}

	fmt.Println()
	fmt.Printf("📊 %d messages, %d bounced\n", len(detections), len(bounced))
	return nil
}

func printDetection(d inbox.Detection) {
	subject := d.Message.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	fmt.Printf("%s %s - %s (score %.3f)\n",
		verdictIcon(d.Result.Bounced),
		d.Message.ReceivedAt.Format("2006-01-02 15:04"),
		truncateString(subject, 60),
		d.Result.Score,
	)
	if r := d.Result.Recipient(); r != "" {
		fmt.Printf("   Recipient: %s\n", r)
	}
}

// saveDetections records one scan run. Messages already recorded under the
// same Message-ID are skipped.
func saveDetections(store *history.Store, detections []inbox.Detection, source history.Source, origin string) error {
	runID := history.NewRunID()
	var saved int
	for _, d := range detections {
		if d.Message.MessageID != "" {
			existing, err := store.FindByMessageID(d.Message.MessageID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
		}

		rec := history.FromResult(d.Result)
		rec.RunID = runID
		rec.Source = source
		rec.Origin = origin
		rec.MessageID = d.Message.MessageID
		rec.Subject = d.Message.Subject
		rec.From = d.Message.From
		if err := store.Add(&rec); err != nil {
			return err
		}
		saved++
	}
	log.Printf("Saved %d new results (run %s)", saved, runID)
	return nil
}
