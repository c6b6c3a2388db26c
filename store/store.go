// Package store defines the persistence contract for students, the gate log
// and admission windows. Implementations live in store/memory and
// store/sqlite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schoolgate/admission"
	"schoolgate/protocol"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrCardInUse      = errors.New("store: card already assigned to another student")
	ErrInvalidCard    = errors.New("store: invalid card uid")
	ErrInvalidStudent = errors.New("store: invalid student")
	ErrInvalidWindow  = errors.New("store: invalid window")
)

// Store is the full persistence contract. The admission engine only needs
// the admission.Directory part; the rest serves operators and reporting.
type Store interface {
	admission.Directory

	FindStudentByIdentifier(ctx context.Context, identifier string) (admission.Student, bool, error)

	// AssignCard binds uid to the student, replacing any previous card.
	// ErrNotFound if the student does not exist, ErrCardInUse if another
	// student holds the card.
	AssignCard(ctx context.Context, identifier, uid string) error

	// PutStudent creates or replaces a student by identifier.
	PutStudent(ctx context.Context, st admission.Student) error

	SetWindow(ctx context.Context, w admission.Window) error
	Windows(ctx context.Context) ([]admission.Window, error)

	// RecentLogs returns up to n entries, newest first. An empty action
	// matches every action.
	RecentLogs(ctx context.Context, action admission.Action, n int) ([]admission.LogEntry, error)

	// LogsOn returns the entries on day's calendar date, in day's location,
	// oldest first.
	LogsOn(ctx context.Context, day time.Time) ([]admission.LogEntry, error)

	Close() error
}

// NormalizeStudent checks st and cleans its card UID.
func NormalizeStudent(st admission.Student) (admission.Student, error) {
	st.Identifier = strings.TrimSpace(st.Identifier)
	if st.Identifier == "" {
		return st, fmt.Errorf("%w: identifier is required", ErrInvalidStudent)
	}
	p, err := admission.ParseProfile(string(st.Profile))
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrInvalidStudent, err)
	}
	st.Profile = p
	if st.CardUID != "" {
		uid := protocol.CleanUID(st.CardUID)
		if uid == "" {
			return st, fmt.Errorf("%w: %q", ErrInvalidCard, st.CardUID)
		}
		st.CardUID = uid
	}
	return st, nil
}

// NormalizeCard cleans uid the same way the serial reader does.
func NormalizeCard(uid string) (string, error) {
	clean := protocol.CleanUID(uid)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidCard, uid)
	}
	return clean, nil
}

// ValidateWindow checks the profile and day. A window may have both bounds
// or neither.
func ValidateWindow(w admission.Window) (admission.Window, error) {
	p, err := admission.ParseProfile(string(w.Profile))
	if err != nil {
		return w, fmt.Errorf("%w: %w", ErrInvalidWindow, err)
	}
	w.Profile = p
	if !w.Day.Valid() {
		return w, fmt.Errorf("%w: %w: %d", ErrInvalidWindow, admission.ErrInvalidWeekday, int(w.Day))
	}
	if (w.Start == nil) != (w.End == nil) {
		return w, fmt.Errorf("%w: start and end must both be set or both be empty", ErrInvalidWindow)
	}
	for _, c := range []*admission.TimeOfDay{w.Start, w.End} {
		if c != nil && (*c < 0 || *c >= admission.Clock(24, 0, 0)) {
			return w, fmt.Errorf("%w: %w: %s", ErrInvalidWindow, admission.ErrInvalidTimeOfDay, *c)
		}
	}
	return w, nil
}

// DayBounds returns the start of day's date and the start of the next one.
func DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}
