package logging

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/primegen/pkg/humanfmt"
)

// ProgressTracker tracks completed units of a run and derives percentage and
// ETA from elapsed wall time. It is safe for concurrent use.
type ProgressTracker struct {
	total     uint64
	completed atomic.Uint64
	startTime time.Time
	log       zerolog.Logger
	phase     string
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(phase string, total uint64, log zerolog.Logger) *ProgressTracker {
	return &ProgressTracker{
		total:     total,
		startTime: time.Now(),
		log:       log,
		phase:     phase,
	}
}

// RecordCompletion records that one unit completed.
func (pt *ProgressTracker) RecordCompletion() uint64 {
	return pt.completed.Add(1)
}

// Completed returns the number of completed units.
func (pt *ProgressTracker) Completed() uint64 {
	return pt.completed.Load()
}

// Total returns the total count.
func (pt *ProgressTracker) Total() uint64 {
	return pt.total
}

// Remaining returns how many units are remaining.
func (pt *ProgressTracker) Remaining() uint64 {
	done := pt.completed.Load()
	if done >= pt.total {
		return 0
	}
	return pt.total - done
}

// StartedAt returns when tracking started.
func (pt *ProgressTracker) StartedAt() time.Time {
	return pt.startTime
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// ProgressPct returns the progress percentage (0-100).
func (pt *ProgressTracker) ProgressPct() float64 {
	if pt.total == 0 {
		return 100.0
	}
	return float64(pt.completed.Load()) * 100.0 / float64(pt.total)
}

// ETA extrapolates the remaining time from the elapsed time and the
// completed/total ratio. It is zero until the first completion.
func (pt *ProgressTracker) ETA() time.Duration {
	return EstimateRemaining(pt.Elapsed(), pt.completed.Load(), pt.total)
}

// EstimateRemaining returns elapsed * (total-done) / done.
func EstimateRemaining(elapsed time.Duration, done, total uint64) time.Duration {
	if done == 0 || done >= total {
		return 0
	}
	remaining := float64(total-done) / float64(done)
	eta := elapsed.Seconds() * remaining
	if eta > float64(1<<62)/float64(time.Second) {
		return time.Duration(1 << 62)
	}
	return time.Duration(eta * float64(time.Second))
}

// LogProgress emits a progress event for the tracker's phase.
func (pt *ProgressTracker) LogProgress(msg string) {
	NewCompletionEvent(pt.log, "progress", pt.phase, pt.Elapsed()).
		ProgressFromTracker(pt).
		Log(msg)
}

// CompletionEvent helps build consistent completion log events.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]any
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]any),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Uint64 adds a uint64 field.
func (ce *CompletionEvent) Uint64(key string, val uint64) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bytes adds byte count with optional human-readable companion.
func (ce *CompletionEvent) Bytes(key string, bytes int64) *CompletionEvent {
	ce.fields[key] = bytes
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(bytes)
	}
	return ce
}

// BytesUint64 adds a uint64 byte count field.
func (ce *CompletionEvent) BytesUint64(key string, bytes uint64) *CompletionEvent {
	return ce.Bytes(key, int64(bytes))
}

// Count adds count with optional human-readable companion.
func (ce *CompletionEvent) Count(key string, n uint64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.CountUint64(n)
	}
	return ce
}

// Progress adds progress fields (done, total, percentage, optional ETA).
func (ce *CompletionEvent) Progress(done, total uint64, eta time.Duration) *CompletionEvent {
	ce.fields["done"] = done
	ce.fields["total"] = total
	if total > 0 {
		ce.fields["progress_pct"] = float64(done) * 100.0 / float64(total)
		if IsPrettyMode() {
			ce.fields["progress_h"] = humanfmt.CountUint64(done) + "/" + humanfmt.CountUint64(total)
		}
	}
	if eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Clock(eta)
		}
	}
	return ce
}

// ProgressFromTracker adds progress fields and the remaining unit count from a
// ProgressTracker.
func (ce *CompletionEvent) ProgressFromTracker(pt *ProgressTracker) *CompletionEvent {
	ce.fields["remaining"] = pt.Remaining()
	return ce.Progress(pt.Completed(), pt.Total(), pt.ETA())
}

// Rate adds a per-second rate for n items over the event's duration.
func (ce *CompletionEvent) Rate(key string, n uint64) *CompletionEvent {
	if ce.elapsed > 0 {
		ce.fields[key+"_per_sec"] = float64(n) / ce.elapsed.Seconds()
	}
	return ce
}

// Throughput adds a bytes-per-second rate over the event's duration, with a
// human companion such as "12.50 MiB/s" in pretty mode.
func (ce *CompletionEvent) Throughput(key string, bytes uint64) *CompletionEvent {
	if ce.elapsed <= 0 {
		return ce
	}
	ce.fields[key+"_bytes_per_sec"] = float64(bytes) / ce.elapsed.Seconds()
	if IsPrettyMode() {
		ce.fields[key+"_throughput_h"] = humanfmt.ThroughputUint64(bytes, ce.elapsed)
	}
	return ce
}

// Log emits the completion event.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the completion event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())

	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}

	e.Msg(msg)
}

// PhaseComplete logs a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// UnitComplete logs the flush of one segment or chunk.
func UnitComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "unit_completed", phase, elapsed)
}

// FileCreated logs a file creation completion event.
func FileCreated(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "file_created", phase, elapsed)
}

// RunComplete logs the terminal event of a run.
func RunComplete(log zerolog.Logger, status string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "run_completed", "run", elapsed).Str("status", status)
}
