// Package eventlog implements the append-only event journal and its
// periodic summary collector. A run directory holds events.jsonl and
// summary.jsonl; a latest symlink always points at the current run.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/justapithecus/agora/internal/klog"
	"github.com/justapithecus/agora/types"
)

// EventLog is the append-only journal. Not safe for concurrent writers;
// the kernel serializes all appends.
type EventLog struct {
	logger *klog.Logger

	eventsFile *os.File
	writer     *bufio.Writer

	recent    []*types.Event
	recentCap int

	nextNumber int64

	collector *SummaryCollector
}

// Config configures an EventLog.
type Config struct {
	// RunsRoot is the directory under which per-run subdirectories are
	// created. Empty means single-file legacy mode: no run directory,
	// no symlink, no summary collector.
	RunsRoot string
	// RunID names this run's subdirectory under RunsRoot.
	RunID string
	// RecentCap bounds how many recent events read_recent can serve
	// from memory without re-reading the file.
	RecentCap int
	// Window is the event-number interval the summary collector
	// finalizes on.
	Window int64
	Logger *klog.Logger
}

// Open creates (or appends to) the event log for a run. In run-directory
// mode it creates RunsRoot/RunID/events.jsonl and updates the
// RunsRoot/latest symlink.
func Open(cfg Config) (*EventLog, error) {
	if cfg.RecentCap <= 0 {
		cfg.RecentCap = 256
	}

	var path string
	if cfg.RunsRoot != "" {
		runDir := filepath.Join(cfg.RunsRoot, cfg.RunID)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create run directory: %w", err)
		}
		path = filepath.Join(runDir, "events.jsonl")
		if err := updateLatestSymlink(cfg.RunsRoot, runDir); err != nil {
			return nil, fmt.Errorf("eventlog: update latest symlink: %w", err)
		}
	} else {
		path = "events.jsonl"
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}

	el := &EventLog{
		logger:     cfg.Logger,
		eventsFile: f,
		writer:     bufio.NewWriter(f),
		recentCap:  cfg.RecentCap,
	}

	if cfg.RunsRoot != "" {
		summaryPath := filepath.Join(cfg.RunsRoot, cfg.RunID, "summary.jsonl")
		sf, err := os.OpenFile(summaryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("eventlog: open %s: %w", summaryPath, err)
		}
		el.collector = NewSummaryCollector(sf, cfg.Window)
	}

	return el, nil
}

func updateLatestSymlink(runsRoot, runDir string) error {
	link := filepath.Join(runsRoot, "latest")
	_ = os.Remove(link)
	rel, err := filepath.Rel(runsRoot, runDir)
	if err != nil {
		rel = runDir
	}
	return os.Symlink(rel, link)
}

// Append stamps timestamp and event_number, writes one JSONL line, and
// notifies the summary collector (if any). Returns the stamped event.
func (el *EventLog) Append(eventType types.EventType, actor, reasoning string, payload map[string]any) (*types.Event, error) {
	n := atomic.AddInt64(&el.nextNumber, 1)
	ev := &types.Event{
		Timestamp:   time.Now().UTC(),
		EventNumber: n,
		EventType:   eventType,
		Actor:       actor,
		Reasoning:   reasoning,
		Payload:     payload,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("eventlog: marshal event: %w", err)
	}
	if _, err := el.writer.Write(line); err != nil {
		return nil, fmt.Errorf("eventlog: write event: %w", err)
	}
	if err := el.writer.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("eventlog: write newline: %w", err)
	}
	if err := el.writer.Flush(); err != nil {
		return nil, fmt.Errorf("eventlog: flush: %w", err)
	}

	el.recent = append(el.recent, ev)
	if len(el.recent) > el.recentCap {
		el.recent = el.recent[len(el.recent)-el.recentCap:]
	}

	if el.collector != nil {
		if err := el.collector.Observe(ev); err != nil && el.logger != nil {
			el.logger.Warn("summary collector observe failed", map[string]any{"error": err.Error()})
		}
	}

	return ev, nil
}

// CurrentEventNumber returns the last assigned event number (0 if none
// appended yet).
func (el *EventLog) CurrentEventNumber() int64 {
	return atomic.LoadInt64(&el.nextNumber)
}

// SetEventNumber restores the counter after a checkpoint restore.
func (el *EventLog) SetEventNumber(n int64) {
	atomic.StoreInt64(&el.nextNumber, n)
}

// ReadRecent returns up to n most recently appended events, oldest
// first.
func (el *EventLog) ReadRecent(n int) []*types.Event {
	if n <= 0 || n > len(el.recent) {
		n = len(el.recent)
	}
	out := make([]*types.Event, n)
	copy(out, el.recent[len(el.recent)-n:])
	return out
}

// Close flushes and closes the underlying files.
func (el *EventLog) Close() error {
	if err := el.writer.Flush(); err != nil {
		return err
	}
	if err := el.eventsFile.Close(); err != nil {
		return err
	}
	if el.collector != nil {
		return el.collector.Close()
	}
	return nil
}
