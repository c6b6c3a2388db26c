// Package admission decides what happens when a card is presented at the
// gate: entry, exit, a denied attempt, or an unknown card.
//
// The entry/exit toggle is derived from the gate log alone. The most recent
// entry or exit for a student decides the next one; denied attempts never
// move it.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrEmptyUID = errors.New("admission: empty card uid")

// Directory is what the engine needs from the student store.
type Directory interface {
	FindStudentByCardUID(ctx context.Context, uid string) (Student, bool, error)
	LastNonDeniedAction(ctx context.Context, identifier string) (Action, bool, error)
	WindowFor(ctx context.Context, p Profile, day Weekday) (Window, error)
	AppendLog(ctx context.Context, entry LogEntry) error
}

// Engine turns scans into decisions. Decide calls are serialized so a read
// of the last action and the append that follows it are never interleaved
// with another scan.
type Engine struct {
	dir Directory
	log *slog.Logger
	now func() time.Time

	mu sync.Mutex
}

func NewEngine(dir Directory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{dir: dir, log: logger, now: time.Now}
}

// Decide processes one scan. Directory failures are returned as errors and
// leave the log untouched.
func (e *Engine) Decide(ctx context.Context, scan ScanEvent) (Decision, error) {
	if scan.UID == "" {
		return Decision{}, ErrEmptyUID
	}
	if scan.At.IsZero() {
		scan.At = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	d := Decision{ScanID: scan.ID, UID: scan.UID, At: scan.At}

	st, found, err := e.dir.FindStudentByCardUID(ctx, scan.UID)
	if err != nil {
		return Decision{}, fmt.Errorf("find student by card %s: %w", scan.UID, err)
	}
	if !found {
		d.Action = UnknownCard
		e.log.Info("Unknown card", "uid", scan.UID, "scan", scan.ID)
		return d, nil
	}
	d.Student = &st

	if st.Staff {
		next, err := e.nextToggle(ctx, st.Identifier)
		if err != nil {
			return Decision{}, err
		}
		d.Action = next
	} else {
		action, err := e.studentAction(ctx, st, scan.At)
		if err != nil {
			return Decision{}, err
		}
		d.Action = action
		d.Alert = st.Penalized
	}

	entry := LogEntry{Identifier: st.Identifier, Action: d.Action, At: scan.At}
	if err := e.dir.AppendLog(ctx, entry); err != nil {
		return Decision{}, fmt.Errorf("append log for %s: %w", st.Identifier, err)
	}

	e.log.Info("Scan decided",
		"identifier", st.Identifier,
		"action", d.Action,
		"alert", d.Alert,
		"staff", st.Staff,
		"scan", scan.ID)
	return d, nil
}

func (e *Engine) studentAction(ctx context.Context, st Student, at time.Time) (Action, error) {
	day := WeekdayOf(at)
	w, err := e.dir.WindowFor(ctx, st.Profile, day)
	if err != nil {
		return "", fmt.Errorf("window for %s %s: %w", st.Profile, day, err)
	}

	if w.Denied() {
		e.log.Debug("Day closed", "identifier", st.Identifier, "window", w)
		return Denied, nil
	}
	if !w.Contains(TimeOfDayOf(at)) {
		e.log.Debug("Outside window", "identifier", st.Identifier, "window", w, "time", at.Format("15:04:05"))
		return Denied, nil
	}
	return e.nextToggle(ctx, st.Identifier)
}

func (e *Engine) nextToggle(ctx context.Context, identifier string) (Action, error) {
	last, found, err := e.dir.LastNonDeniedAction(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("last action for %s: %w", identifier, err)
	}
	if !found {
		return Entry, nil
	}
	return Toggle(last), nil
}
