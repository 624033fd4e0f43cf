// Package profiling records per-stage timings for analysis runs as JSONL,
// plus process resource snapshots so slow runs can be attributed to memory
// pressure versus provider latency.
package profiling

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Level determines how much a run records.
type Level string

const (
	LevelOff      Level = "off"      // no profiling
	LevelStages   Level = "stages"   // load/embed/compose/write/cluster timings
	LevelDetailed Level = "detailed" // stages plus per-stage resource snapshots
)

// StageTiming is one timing measurement, serialized as one JSONL line.
type StageTiming struct {
	Session    string         `json:"session"`
	Stage      string         `json:"stage"`
	StartTime  time.Time      `json:"start_time"`
	DurationMs float64        `json:"duration_ms"`
	Resources  *ResourceUsage `json:"resources,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ResourceUsage is a point-in-time process snapshot.
type ResourceUsage struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Profiler appends stage timings for one process to a JSONL file. Safe for
// concurrent use.
type Profiler struct {
	enabled bool
	level   Level

	mu      sync.Mutex
	logFile *os.File
	encoder *json.Encoder
	proc    *process.Process
}

// New creates a profiler writing to logPath. LevelOff returns a no-op
// profiler and opens nothing.
func New(level Level, logPath string) (*Profiler, error) {
	p := &Profiler{enabled: level != LevelOff && level != "", level: level}
	if !p.enabled {
		return p, nil
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open profiling log: %w", err)
	}
	p.logFile = f
	p.encoder = json.NewEncoder(f)

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		p.proc = proc
	}
	return p, nil
}

// Close flushes and closes the log file.
func (p *Profiler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logFile != nil {
		return p.logFile.Close()
	}
	return nil
}

// Start begins timing one stage of a session run and returns the function to
// call when the stage finishes.
func (p *Profiler) Start(session, stage string) func() {
	if !p.enabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.record(session, stage, start, time.Since(start), nil)
	}
}

// StartWithMetadata is Start plus arbitrary metadata on the resulting line
// (note counts, cache hit ratios).
func (p *Profiler) StartWithMetadata(session, stage string, metadata map[string]any) func() {
	if !p.enabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.record(session, stage, start, time.Since(start), metadata)
	}
}

func (p *Profiler) record(session, stage string, start time.Time, d time.Duration, metadata map[string]any) {
	t := StageTiming{
		Session:    session,
		Stage:      stage,
		StartTime:  start,
		DurationMs: float64(d.Microseconds()) / 1000.0,
		Metadata:   metadata,
	}
	if p.level == LevelDetailed {
		t.Resources = p.snapshot()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.encoder != nil {
		p.encoder.Encode(t)
	}
}

// snapshot reads current RSS and CPU for the process. Best-effort: a failed
// read yields nil rather than an aborted timing line.
func (p *Profiler) snapshot() *ResourceUsage {
	if p.proc == nil {
		return nil
	}
	u := &ResourceUsage{}
	if mem, err := p.proc.MemoryInfo(); err == nil && mem != nil {
		u.RSSBytes = mem.RSS
	}
	if cpu, err := p.proc.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	return u
}
