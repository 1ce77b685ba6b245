package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/justapithecus/agora/types"
)

const maxHighlights = 20

type agentCounters struct {
	Actions    int   `json:"actions"`
	Successes  int   `json:"successes"`
	Failures   int   `json:"failures"`
	LLMTokens  int64 `json:"llm_tokens"`
	Transferred int64 `json:"scrip_transferred"`
}

// summaryRecord is the JSONL shape emitted on finalize.
type summaryRecord struct {
	EventNumber          int64                     `json:"event_number"`
	Timestamp            time.Time                 `json:"timestamp"`
	AgentsActive         int                        `json:"agents_active"`
	ActionsExecuted      int                        `json:"actions_executed"`
	ActionsByType        map[types.EventType]int    `json:"actions_by_type"`
	TotalLLMTokens       int64                      `json:"total_llm_tokens"`
	TotalScripTransferred int64                     `json:"total_scrip_transferred"`
	ArtifactsCreated     int                        `json:"artifacts_created"`
	Errors               int                        `json:"errors"`
	Highlights           []string                   `json:"highlights"`
	PerAgent             map[string]agentCounters   `json:"per_agent"`
}

// SummaryCollector accumulates per-window counters and emits one JSONL
// record per finalize call.
type SummaryCollector struct {
	w      io.WriteCloser
	writer *bufio.Writer
	window int64

	windowStart int64
	cur         summaryRecord
	agentSeen   map[string]bool
}

// NewSummaryCollector creates a collector that writes finalized
// summaries to w. window is the event-number interval a window spans;
// <=0 disables automatic finalize-on-boundary (caller must call
// Finalize explicitly).
func NewSummaryCollector(w io.WriteCloser, window int64) *SummaryCollector {
	c := &SummaryCollector{w: w, writer: bufio.NewWriter(w), window: window}
	c.reset()
	return c
}

func (c *SummaryCollector) reset() {
	c.cur = summaryRecord{
		ActionsByType: make(map[types.EventType]int),
		Highlights:    make([]string, 0, maxHighlights),
		PerAgent:      make(map[string]agentCounters),
	}
	c.agentSeen = make(map[string]bool)
}

// Observe folds one event into the current window, finalizing and
// resetting automatically when the window boundary is crossed.
func (c *SummaryCollector) Observe(ev *types.Event) error {
	if c.window > 0 && c.windowStart == 0 {
		c.windowStart = ev.EventNumber
	}
	if c.window > 0 && ev.EventNumber-c.windowStart >= c.window {
		if err := c.Finalize(ev.EventNumber - 1); err != nil {
			return err
		}
		c.windowStart = ev.EventNumber
	}

	c.cur.ActionsExecuted++
	c.cur.ActionsByType[ev.EventType]++

	if ev.EventType == types.EventActionFailed || ev.EventType == types.EventKernelInvariant {
		c.cur.Errors++
	}
	if ev.EventType == types.EventArtifactWritten {
		c.cur.ArtifactsCreated++
	}
	if ev.EventType == types.EventTransferSettled {
		if amt, ok := ev.Payload["amount"].(int64); ok {
			c.cur.TotalScripTransferred += amt
		} else if amt, ok := ev.Payload["amount"].(float64); ok {
			c.cur.TotalScripTransferred += int64(amt)
		}
	}
	if ev.Actor != "" {
		if !c.agentSeen[ev.Actor] {
			c.agentSeen[ev.Actor] = true
			c.cur.AgentsActive++
		}
		ac := c.cur.PerAgent[ev.Actor]
		ac.Actions++
		if ev.EventType == types.EventActionFailed {
			ac.Failures++
		} else {
			ac.Successes++
		}
		c.cur.PerAgent[ev.Actor] = ac
	}
	if len(c.cur.Highlights) < maxHighlights {
		if h, ok := ev.Payload["highlight"].(string); ok && h != "" {
			c.cur.Highlights = append(c.cur.Highlights, h)
		}
	}

	return nil
}

// Finalize emits the current window's accumulated record as one JSON
// line and resets for the next window.
func (c *SummaryCollector) Finalize(eventNumber int64) error {
	c.cur.EventNumber = eventNumber
	c.cur.Timestamp = time.Now().UTC()

	line, err := json.Marshal(c.cur)
	if err != nil {
		return fmt.Errorf("eventlog: marshal summary: %w", err)
	}
	if _, err := c.writer.Write(line); err != nil {
		return fmt.Errorf("eventlog: write summary: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}

	c.reset()
	return nil
}

// Close flushes and closes the underlying writer.
func (c *SummaryCollector) Close() error {
	if err := c.writer.Flush(); err != nil {
		return err
	}
	return c.w.Close()
}
