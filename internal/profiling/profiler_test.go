package profiling

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOffLevelIsNoop(t *testing.T) {
	p, err := New(LevelOff, "")
	if err != nil {
		t.Fatalf("LevelOff must not need a file: %v", err)
	}
	defer p.Close()

	stop := p.Start("2025-01-01", "embed")
	stop() // must not panic or write anywhere
}

func TestStageTimingsWrittenAsJSONL(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "profiling-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	logPath := filepath.Join(tmpDir, "profile.jsonl")

	p, err := New(LevelStages, logPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	stop := p.Start("2025-01-01", "cluster")
	time.Sleep(5 * time.Millisecond)
	stop()

	stop = p.StartWithMetadata("2025-01-01", "embed", map[string]any{"notes": 42})
	stop()
	p.Close()

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	defer f.Close()

	var timings []StageTiming
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var st StageTiming
		if err := json.Unmarshal(scanner.Bytes(), &st); err != nil {
			t.Fatalf("Line is not valid JSON: %v", err)
		}
		timings = append(timings, st)
	}
	if len(timings) != 2 {
		t.Fatalf("Expected 2 timing lines, got %d", len(timings))
	}
	if timings[0].Stage != "cluster" || timings[0].DurationMs <= 0 {
		t.Errorf("First timing wrong: %+v", timings[0])
	}
	if timings[1].Metadata["notes"] != float64(42) {
		t.Errorf("Metadata lost: %+v", timings[1].Metadata)
	}
	// Stages level omits resource snapshots.
	if timings[0].Resources != nil {
		t.Errorf("LevelStages should not snapshot resources: %+v", timings[0].Resources)
	}
}

func TestDetailedLevelSnapshotsResources(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "profiling-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	logPath := filepath.Join(tmpDir, "profile.jsonl")

	p, err := New(LevelDetailed, logPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start("2025-01-01", "write")()
	p.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	var st StageTiming
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("Bad JSONL line: %v", err)
	}
	if st.Resources == nil || st.Resources.RSSBytes == 0 {
		t.Errorf("Detailed level should record RSS, got %+v", st.Resources)
	}
}
