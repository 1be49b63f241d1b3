package stats

import (
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventTypeMatched   EventType = "matched"
	EventTypeSaved     EventType = "saved"
	EventTypeDryRun    EventType = "dry_run"
	EventTypeRejected  EventType = "rejected"
	EventTypeSkipped   EventType = "skipped"
	EventTypeProcessed EventType = "processed"
	EventTypeError     EventType = "error"
)

// Event describes one step of a fetch run. Saved, DryRun and Rejected refer
// to a single attachment; the rest to a message.
type Event struct {
	Type     EventType
	UID      uint32
	Filename string
	Err      error
}

type Summary struct {
	Matched       int
	Processed     int
	Skipped       int
	FilesSaved    int
	FilesDryRun   int
	FilesRejected int
	Errors        int
	LastError     error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"matched", s.Matched,
		"processed", s.Processed,
		"skipped", s.Skipped,
		"filesSaved", s.FilesSaved,
		"filesDryRun", s.FilesDryRun,
		"filesRejected", s.FilesRejected,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Record applies evt to the running summary. A nil Collector ignores events.
func (c *Collector) Record(evt Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeMatched:
		c.summary.Matched++
	case EventTypeProcessed:
		c.summary.Processed++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeSaved:
		c.summary.FilesSaved++
	case EventTypeDryRun:
		c.summary.FilesDryRun++
	case EventTypeRejected:
		c.summary.FilesRejected++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

func (c *Collector) Snapshot() Summary {
	if c == nil {
		return Summary{}
	}
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reporter logs the collected summary once a run ends.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(collector *Collector, logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: collector,
		logger:    logger,
		started:   time.Now(),
	}
}

// Report logs the summary at info level, or at warn level when errors were
// recorded.
func (r *Reporter) Report() Summary {
	summary := r.collector.Snapshot()
	if r.logger == nil {
		return summary
	}
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if summary.Errors > 0 {
		r.logger.Warn("fetch summary", attrs...)
		return summary
	}
	r.logger.Info("fetch summary", attrs...)
	return summary
}
