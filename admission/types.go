package admission

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidProfile   = errors.New("admission: invalid profile")
	ErrInvalidWeekday   = errors.New("admission: invalid weekday")
	ErrInvalidTimeOfDay = errors.New("admission: invalid time of day")
	ErrInvalidAction    = errors.New("admission: invalid action")
)

// Profile is the scheduling category a student belongs to. Each profile has
// its own weekly admission windows.
type Profile string

const (
	ResidentCommuter Profile = "resident_commuter"
	Boarder          Profile = "boarder"
)

// Profiles lists every profile that has admission windows.
var Profiles = []Profile{ResidentCommuter, Boarder}

// ParseProfile accepts the canonical names and the school's own terms
// ("Evci", "Yurtçu"). Anything else is rejected.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "resident_commuter", "commuter", "evci":
		return ResidentCommuter, nil
	case "boarder", "yurtçu", "yurtcu":
		return Boarder, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidProfile, s)
}

// Weekday counts from Monday = 0 to Sunday = 6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf returns the weekday of t in t's own location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return time.Weekday((int(d) + 1) % 7).String()
}

// ParseWeekday accepts 0-6 or an English day name.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= '0' && s[0] <= '6' {
		return Weekday(s[0] - '0'), nil
	}
	for d := Monday; d <= Sunday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// TimeOfDay is an offset from midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(t.Hour(), t.Minute(), t.Second()), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
}

// Clock builds a TimeOfDay from its parts.
func Clock(hour, min, sec int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour +
		time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second)
}

// TimeOfDayOf returns the wall clock time of t, to full precision.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return Clock(t.Hour(), t.Minute(), t.Second()) + TimeOfDay(t.Nanosecond())
}

func (c TimeOfDay) String() string {
	d := time.Duration(c)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if s := (d % time.Minute) / time.Second; s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Window is the permitted time of day for one profile on one weekday. A
// window with either bound missing denies the whole day.
type Window struct {
	Profile Profile
	Day     Weekday
	Start   *TimeOfDay
	End     *TimeOfDay
}

// NewWindow builds an open window from start to end.
func NewWindow(p Profile, day Weekday, start, end TimeOfDay) Window {
	return Window{Profile: p, Day: day, Start: &start, End: &end}
}

// Denied reports whether the whole day is closed.
func (w Window) Denied() bool {
	return w.Start == nil || w.End == nil
}

// Contains reports whether c lies inside the window, bounds included. When
// Start is after End the window runs past midnight.
func (w Window) Contains(c TimeOfDay) bool {
	if w.Denied() {
		return false
	}
	start, end := *w.Start, *w.End
	if start <= end {
		return c >= start && c <= end
	}
	return c >= start || c <= end
}

func (w Window) String() string {
	if w.Denied() {
		return fmt.Sprintf("%s %s closed", w.Profile, w.Day)
	}
	return fmt.Sprintf("%s %s %s-%s", w.Profile, w.Day, *w.Start, *w.End)
}

// Action is the outcome of a scan.
type Action string

const (
	Entry       Action = "entry"
	Exit        Action = "exit"
	Denied      Action = "denied"
	UnknownCard Action = "unknown_card"
)

// ParseAction parses a logged action. UnknownCard is never logged, so it is
// not accepted.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case Entry, Exit, Denied:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Toggle returns the next action after last: Exit after an Entry, Entry
// otherwise.
func Toggle(last Action) Action {
	if last == Entry {
		return Exit
	}
	return Entry
}

// Student is a card holder as kept by the directory.
type Student struct {
	Identifier  string
	DisplayName string
	Profile     Profile
	Staff       bool
	Penalized   bool
	CardUID     string // empty when no card is assigned
}

// LogEntry is one line of the append-only gate log.
type LogEntry struct {
	Identifier string
	Action     Action
	At         time.Time
}

// ScanEvent is one card read. ID correlates the scan with its decision.
type ScanEvent struct {
	ID  uuid.UUID
	UID string
	At  time.Time
}

// NewScan stamps a card read with a fresh ID.
func NewScan(uid string, at time.Time) ScanEvent {
	return ScanEvent{ID: uuid.New(), UID: uid, At: at}
}

// Decision is the engine's answer to a scan.
type Decision struct {
	ScanID  uuid.UUID
	UID     string
	Action  Action
	Alert   bool
	Student *Student // nil for UnknownCard
	At      time.Time
}
