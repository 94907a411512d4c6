// Package audit records an append-only JSONL trail of the actions the
// assistant takes on a user's behalf: tool invocations and results,
// approval decisions, file operations, backups, and rollbacks.
//
// Writes are buffered and asynchronous so recording never stalls a turn.
// A disabled Log is a no-op and safe to call from anywhere.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// Log writes audit events as JSON lines to the configured sink.
type Log struct {
	cfg Config

	mu       sync.Mutex
	out      *bufio.Writer
	enc      *json.Encoder
	file     *os.File
	writeErr error

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	now  func() time.Time
	rand func() float64
}

// Open creates the trail described by cfg. A disabled config yields a
// no-op Log and no error.
func Open(cfg Config) (*Log, error) {
	cfg = cfg.withDefaults()
	l := &Log{
		cfg:  cfg,
		now:  time.Now,
		rand: rand.Float64,
	}
	if !cfg.Enabled {
		return l, nil
	}

	switch {
	case cfg.Output == "stdout":
		l.out = bufio.NewWriter(os.Stdout)
	case cfg.Output == "stderr":
		l.out = bufio.NewWriter(os.Stderr)
	case strings.HasPrefix(cfg.Output, "file:"):
		path := strings.TrimPrefix(cfg.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open audit output: %w", err)
		}
		l.file = f
		l.out = bufio.NewWriter(f)
	default:
		return nil, fmt.Errorf("invalid audit output %q", cfg.Output)
	}
	l.enc = json.NewEncoder(l.out)

	l.events = make(chan Event, cfg.BufferSize)
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Enabled reports whether events are being recorded.
func (l *Log) Enabled() bool {
	return l.cfg.Enabled
}

// Record stamps and enqueues an event. When the buffer is full the event
// is written synchronously rather than dropped.
func (l *Log) Record(ctx context.Context, ev Event) {
	if !l.cfg.Enabled {
		return
	}
	if l.cfg.SampleRate < 1.0 && l.rand() > l.cfg.SampleRate {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if ev.TurnID == "" {
		ev.TurnID = observability.TurnID(ctx)
	}

	select {
	case l.events <- ev:
	default:
		l.writeEvent(ev)
	}
}

// Close drains buffered events and releases the sink.
func (l *Log) Close() error {
	if !l.cfg.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	err := l.writeErr
	l.mu.Unlock()

	if l.file != nil {
		if cerr := l.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (l *Log) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-l.events:
			l.writeEvent(ev)
		case <-ticker.C:
			l.flush()
		case <-l.done:
			for {
				select {
				case ev := <-l.events:
					l.writeEvent(ev)
				default:
					l.flush()
					return
				}
			}
		}
	}
}

func (l *Log) writeEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(ev); err != nil && l.writeErr == nil {
		l.writeErr = err
	}
}

func (l *Log) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.out.Flush(); err != nil && l.writeErr == nil {
		l.writeErr = err
	}
}

// ToolInvocation records a tool call about to execute.
func (l *Log) ToolInvocation(ctx context.Context, call models.ToolCall) {
	if !l.cfg.Enabled {
		return
	}
	details := map[string]any{}
	input := string(call.ArgumentsJSON())
	if l.cfg.IncludeToolInput {
		if len(input) > l.cfg.MaxFieldSize {
			input = input[:l.cfg.MaxFieldSize] + "...(truncated)"
		}
		details["input"] = input
	} else if input != "" {
		details["input_hash"] = hashString(input)
	}
	l.Record(ctx, Event{
		Type:    EventToolInvocation,
		Tool:    call.Name,
		CallID:  call.ID,
		Details: details,
	})
}

// ToolCompletion records the outcome of an executed tool call.
func (l *Log) ToolCompletion(ctx context.Context, tool string, result models.ToolResult) {
	if !l.cfg.Enabled {
		return
	}
	details := map[string]any{}
	if l.cfg.IncludeToolOutput {
		output := result.Data
		if len(output) > l.cfg.MaxFieldSize {
			output = output[:l.cfg.MaxFieldSize] + "...(truncated)"
		}
		details["output"] = output
	} else if result.Data != "" {
		details["output_size"] = len(result.Data)
	}

	ev := Event{
		Type:       EventToolCompletion,
		Tool:       tool,
		CallID:     result.CallID,
		Outcome:    "ok",
		DurationMS: result.DurationMS,
		Details:    details,
	}
	if !result.OK {
		ev.Outcome = "error"
		ev.Error = result.Error
	}
	l.Record(ctx, ev)
}

// ToolDenied records a tool call that was blocked before execution.
// Reason is the synthesized result kind, such as "denied" or "unapproved".
func (l *Log) ToolDenied(ctx context.Context, tool, callID, reason string) {
	l.Record(ctx, Event{
		Type:    EventToolDenied,
		Tool:    tool,
		CallID:  callID,
		Outcome: reason,
	})
}

// ApprovalDecision records a user answering an approval prompt.
func (l *Log) ApprovalDecision(ctx context.Context, decision models.ApprovalDecision) {
	outcome := "denied"
	if decision.Approved {
		outcome = "approved"
	}
	l.Record(ctx, Event{
		Type:    EventApprovalDecision,
		Tool:    decision.ToolName,
		Outcome: outcome,
		Details: map[string]any{
			"scope":    string(decision.Scope),
			"category": decision.Category,
		},
	})
}

// RiskAssessment records the safety evaluation of a file operation.
func (l *Log) RiskAssessment(ctx context.Context, opID, level string, score float64) {
	l.Record(ctx, Event{
		Type:        EventRiskAssessment,
		OperationID: opID,
		Outcome:     level,
		Details:     map[string]any{"score": score},
	})
}

// FileOperation records an executed workspace mutation.
func (l *Log) FileOperation(ctx context.Context, opID, operation string, targets []string, outcome string, err error) {
	ev := Event{
		Type:        EventFileOperation,
		OperationID: opID,
		Outcome:     outcome,
		Details: map[string]any{
			"operation": operation,
			"targets":   targets,
		},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	l.Record(ctx, ev)
}

// BackupCreated records a pre-operation snapshot.
func (l *Log) BackupCreated(ctx context.Context, opID, backupID, path string, size int64) {
	l.Record(ctx, Event{
		Type:        EventBackupCreated,
		OperationID: opID,
		Details: map[string]any{
			"backup_id": backupID,
			"path":      path,
			"size":      size,
		},
	})
}

// BackupPruned records retention removing a snapshot.
func (l *Log) BackupPruned(ctx context.Context, backupID, reason string) {
	l.Record(ctx, Event{
		Type:    EventBackupPruned,
		Outcome: reason,
		Details: map[string]any{"backup_id": backupID},
	})
}

// RollbackCompleted records the result of undoing an operation.
func (l *Log) RollbackCompleted(ctx context.Context, opID string, steps int, outcome string, errs []string) {
	ev := Event{
		Type:        EventRollback,
		OperationID: opID,
		Outcome:     outcome,
		Details:     map[string]any{"steps": steps},
	}
	if len(errs) > 0 {
		ev.Error = strings.Join(errs, "; ")
	}
	l.Record(ctx, ev)
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
