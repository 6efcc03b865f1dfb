package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestProgressTracker_BasicOperations(t *testing.T) {
	var buf bytes.Buffer
	pt := NewProgressTracker("sieve", 10, zerolog.New(&buf))

	pt.RecordCompletion()
	if n := pt.RecordCompletion(); n != 2 {
		t.Errorf("RecordCompletion returned %d, want 2", n)
	}

	if pt.Completed() != 2 {
		t.Errorf("expected completed=2, got %d", pt.Completed())
	}
	if pt.Total() != 10 {
		t.Errorf("expected total=10, got %d", pt.Total())
	}
	if pct := pt.ProgressPct(); pct != 20.0 {
		t.Errorf("expected progress 20%%, got %.1f%%", pct)
	}
	if remaining := pt.Remaining(); remaining != 8 {
		t.Errorf("expected remaining=8, got %d", remaining)
	}
}

func TestEstimateRemaining(t *testing.T) {
	tests := []struct {
		name        string
		elapsed     time.Duration
		done, total uint64
		want        time.Duration
	}{
		{"nothing done", time.Second, 0, 10, 0},
		{"quarter", time.Second, 1, 4, 3 * time.Second},
		{"half", 10 * time.Second, 5, 10, 10 * time.Second},
		{"finished", time.Minute, 10, 10, 0},
		{"overrun", time.Minute, 11, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateRemaining(tt.elapsed, tt.done, tt.total)
			diff := got - tt.want
			if diff < -time.Millisecond || diff > time.Millisecond {
				t.Errorf("EstimateRemaining = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateRemainingSaturates(t *testing.T) {
	got := EstimateRemaining(time.Hour, 1, ^uint64(0))
	if got <= 0 {
		t.Errorf("expected a saturated positive ETA, got %v", got)
	}
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	pt := NewProgressTracker("sieve", 0, zerolog.New(&buf))

	if pct := pt.ProgressPct(); pct != 100.0 {
		t.Errorf("expected 100%% for zero total, got %.1f%%", pct)
	}
	if eta := pt.ETA(); eta != 0 {
		t.Errorf("expected 0 ETA for zero total, got %v", eta)
	}
}

func TestProgressTracker_LogProgress(t *testing.T) {
	var buf bytes.Buffer
	SetPrettyMode(false)
	pt := NewProgressTracker("miller_rabin", 4, zerolog.New(&buf))
	pt.RecordCompletion()
	pt.LogProgress("progress")

	output := buf.String()
	for _, want := range []string{`"event":"progress"`, `"phase":"miller_rabin"`, `"done":1`, `"total":4`, `"progress_pct":25`, `"remaining":3`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}

func TestCompletionEvent_BasicFields(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(false)

	NewCompletionEvent(log, "test_event", "test_phase", 500*time.Millisecond).
		Str("key", "value").
		Int("count", 42).
		Uint64("big_count", 1000000).
		Log("test message")

	output := buf.String()
	for _, want := range []string{
		`"event":"test_event"`,
		`"phase":"test_phase"`,
		`"duration_ms":500`,
		`"key":"value"`,
		`"count":42`,
		`"big_count":1000000`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
	if strings.Contains(output, `"duration_h"`) {
		t.Errorf("unexpected human field outside pretty mode: %s", output)
	}
}

func TestCompletionEvent_BytesAndCounts(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(true)
	defer SetPrettyMode(false)

	NewCompletionEvent(log, "test_event", "test_phase", time.Second).
		Bytes("size", 1073741824).
		Count("primes", 1500000).
		Log("test message")

	output := buf.String()
	for _, want := range []string{
		`"size":1073741824`,
		`"primes":1500000`,
		`"size_h":"1.00 GiB"`,
		`"primes_h":"1.50M"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}

func TestCompletionEvent_Progress(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(true)
	defer SetPrettyMode(false)

	NewCompletionEvent(log, "test_event", "test_phase", time.Second).
		Progress(50, 100, 90*time.Second).
		Log("test message")

	output := buf.String()
	for _, want := range []string{
		`"done":50`,
		`"total":100`,
		`"progress_pct":50`,
		`"eta_ms":90000`,
		`"eta_h":"00:01:30"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}

func TestCompletionEvent_Rate(t *testing.T) {
	var buf bytes.Buffer
	SetPrettyMode(false)

	NewCompletionEvent(zerolog.New(&buf), "test_event", "test_phase", 2*time.Second).
		Rate("primes", 1000).
		Log("test message")

	if !strings.Contains(buf.String(), `"primes_per_sec":500`) {
		t.Errorf("expected primes_per_sec field, got: %s", buf.String())
	}
}

func TestCompletionEvent_Throughput(t *testing.T) {
	var buf bytes.Buffer
	SetPrettyMode(true)
	defer SetPrettyMode(false)

	NewCompletionEvent(zerolog.New(&buf), "test_event", "test_phase", time.Second).
		Throughput("write", 2*1024*1024).
		Log("test message")

	output := buf.String()
	for _, want := range []string{`"write_bytes_per_sec":2097152`, `"write_throughput_h":"2.00 MiB/s"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}

	buf.Reset()
	NewCompletionEvent(zerolog.New(&buf), "test_event", "test_phase", 0).
		Throughput("write", 100).
		Log("test message")
	if strings.Contains(buf.String(), "write_bytes_per_sec") {
		t.Errorf("zero duration produced a rate: %s", buf.String())
	}
}

func TestHelperFunctions(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(false)

	tests := []struct {
		event string
		ce    *CompletionEvent
	}{
		{"phase_completed", PhaseComplete(log, "base", time.Second)},
		{"unit_completed", UnitComplete(log, "sieve", time.Millisecond)},
		{"file_created", FileCreated(log, "write", time.Millisecond)},
		{"run_completed", RunComplete(log, "completed", time.Minute)},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.ce.Log("done")
		if !strings.Contains(buf.String(), `"event":"`+tt.event+`"`) {
			t.Errorf("expected %s event, got: %s", tt.event, buf.String())
		}
	}

	buf.Reset()
	RunComplete(log, "cancelled", time.Second).Log("run done")
	if !strings.Contains(buf.String(), `"status":"cancelled"`) {
		t.Errorf("expected status field, got: %s", buf.String())
	}
}

func TestCompletionEvent_LogDebug(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	SetPrettyMode(false)

	oldLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(oldLevel)

	NewCompletionEvent(log, "test_event", "test_phase", time.Second).LogDebug("debug message")

	if !strings.Contains(buf.String(), `"level":"debug"`) {
		t.Errorf("expected debug level, got: %s", buf.String())
	}
}
