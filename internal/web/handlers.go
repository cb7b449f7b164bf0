package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/eraser-privacy/baunsu/internal/history"
	"github.com/eraser-privacy/baunsu/internal/inbox"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	scanTimeout         = 5 * time.Minute
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// matchRow is one matched header as shown on the result page
type matchRow struct {
	Name   string
	Values []string
}

func resultView(res *bounce.Result) map[string]interface{} {
	var rows []matchRow
	for _, name := range res.Matches.Keys() {
		row := matchRow{Name: name}
		for _, m := range res.Matches.Get(name) {
			row.Values = append(row.Values, m.Value)
		}
		rows = append(rows, row)
	}
	return map[string]interface{}{
		"Score":     fmt.Sprintf("%.3f", res.Score),
		"Bounced":   res.Bounced,
		"Recipient": res.Recipient(),
		"Found":     res.Headers.Len(),
		"Max":       res.Max,
		"Matches":   rows,
	}
}

func (s *Server) indexData() map[string]interface{} {
	data := map[string]interface{}{
		"Title":   "Bounce detection",
		"Message": "",
		"Headers": s.detector.Registry().Keys(),
	}
	if s.historyStore != nil {
		if stats, err := s.historyStore.GetStats(); err == nil {
			data["Stats"] = stats
		}
		if records, err := s.historyStore.GetRecent(10); err == nil {
			data["Recent"] = records
		}
	}
	return data
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index.html", s.indexData())
}

func (s *Server) handleDetectForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	data := s.indexData()

	if err := r.ParseForm(); err != nil {
		data["Error"] = "Failed to parse form"
		s.render(w, r, http.StatusBadRequest, "index.html", data)
		return
	}

	text := r.FormValue("message")
	data["Message"] = text
	if text == "" {
		data["Error"] = "Paste a message to check"
		s.render(w, r, http.StatusUnprocessableEntity, "index.html", data)
		return
	}

	res, err := s.detector.DetectSync(text)
	if err != nil {
		data["Error"] = err.Error()
		s.render(w, r, http.StatusUnprocessableEntity, "index.html", data)
		return
	}
	data["Result"] = resultView(res)

	if r.FormValue("save") == "on" {
		if err := s.record(res, "form"); err != nil {
			log.Printf("Warning: failed to save detection: %v", err)
		}
	}
	s.render(w, r, http.StatusOK, "index.html", data)
}

// record stores a detection made through the web UI or API
func (s *Server) record(res *bounce.Result, origin string) error {
	if s.historyStore == nil {
		return nil
	}
	rec := history.FromResult(res)
	rec.RunID = history.NewRunID()
	rec.Source = history.SourceWeb
	rec.Origin = origin
	return s.historyStore.Add(&rec)
}

// decodeDetectBody turns a request body into detector input: JSON and YAML
// bodies are structured, everything else is message text
func decodeDetectBody(r *http.Request) (any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json", "application/yaml", "application/x-yaml", "text/yaml":
		return bounce.DecodeTree(body)
	default:
		return string(body), nil
	}
}

func (s *Server) handleAPIDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	msg, err := decodeDetectBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "message too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.detector.DetectSync(msg)
	if errors.Is(err, bounce.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if save, _ := strconv.ParseBool(r.URL.Query().Get("save")); save {
		if s.historyStore == nil {
			writeError(w, http.StatusServiceUnavailable, "history not available")
			return
		}
		if err := s.record(res, "api"); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.historyStore == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.historyStore.GetRecent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	if s.historyStore == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}

	stats, err := s.historyStore.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAPIRegistry(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name    string `json:"name"`
		Pattern string `json:"pattern"`
	}

	entries := s.detector.Registry().Entries()
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entry{Name: e.Name, Pattern: e.Pattern.String()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"max":     s.detector.Max(),
		"headers": out,
	})
}

// handleAPIScan starts a background scan of the configured inbox
func (s *Server) handleAPIScan(w http.ResponseWriter, r *http.Request) {
	if err := s.config.ValidateInbox(); err != nil || !s.config.Inbox.Enabled {
		writeError(w, http.StatusBadRequest, "inbox monitoring not configured")
		return
	}

	s.jobManager.Cleanup(defaultJobMaxAge)
	job, started := s.jobManager.Start(s.config.Inbox.Folder)
	if !started {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "a scan is already running",
			"job":   job.ToJSON(),
		})
		return
	}
	go s.runScanJob(job)

	writeJSON(w, http.StatusAccepted, job.ToJSON())
}

func (s *Server) runScanJob(job *Job) {
	ctx, cancel := context.WithTimeout(job.Context(), scanTimeout)
	defer cancel()

	monitor := inbox.NewMonitor(s.config.Inbox, s.detector)
	if err := monitor.Connect(ctx); err != nil {
		job.StopWithError(err.Error())
		return
	}
	defer monitor.Disconnect()

	messages, err := monitor.FetchRecentMessages(ctx, s.config.Inbox.LookbackDays)
	if err != nil {
		job.StopWithError(err.Error())
		return
	}
	job.SetTotal(len(messages))

	runID := history.NewRunID()
	var scanned, bounced int
	var bouncedUIDs []uint32
	for _, d := range monitor.Detect(messages) {
		if job.IsCancelled() {
			return
		}
		scanned++
		if d.Result.Bounced {
			bounced++
			bouncedUIDs = append(bouncedUIDs, d.Message.UID)
		}
		if s.historyStore != nil {
			rec := history.FromResult(d.Result)
			rec.RunID = runID
			rec.Source = history.SourceIMAP
			rec.Origin = s.config.Inbox.Folder
			rec.MessageID = d.Message.MessageID
			rec.Subject = d.Message.Subject
			rec.From = d.Message.From
			if err := s.historyStore.Add(&rec); err != nil {
				log.Printf("Warning: failed to save detection: %v", err)
			}
		}
		job.Update(scanned, bounced)
	}

	if s.config.Inbox.AutoArchive && len(bouncedUIDs) > 0 {
		folder := s.config.Inbox.ArchiveFolder
		if err := monitor.EnsureFolderExists(folder); err != nil {
			log.Printf("Warning: %v", err)
		} else if err := monitor.ArchiveMessages(bouncedUIDs, folder); err != nil {
			log.Printf("Warning: failed to archive bounces: %v", err)
		}
	}
	job.Complete()
}

// handleAPIJobStatus returns the status of a specific job
func (s *Server) handleAPIJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobManager.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.ToJSON())
}

// handleAPIJobCancel cancels a running job
func (s *Server) handleAPIJobCancel(w http.ResponseWriter, r *http.Request) {
	job := s.jobManager.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(JobStatusCancelled)})
}
