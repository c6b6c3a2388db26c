// Package memory is an in-memory Store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"schoolgate/admission"
	"schoolgate/store"
)

type windowKey struct {
	profile admission.Profile
	day     admission.Weekday
}

type Store struct {
	mu       sync.RWMutex
	students map[string]admission.Student // by identifier
	cards    map[string]string            // card uid -> identifier
	windows  map[windowKey]admission.Window
	logs     []admission.LogEntry
}

var _ store.Store = (*Store)(nil)

// New returns an empty store. Every window starts closed.
func New() *Store {
	return &Store{
		students: make(map[string]admission.Student),
		cards:    make(map[string]string),
		windows:  make(map[windowKey]admission.Window),
	}
}

func (s *Store) FindStudentByCardUID(_ context.Context, uid string) (admission.Student, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.cards[uid]
	if !ok {
		return admission.Student{}, false, nil
	}
	return s.students[id], true, nil
}

func (s *Store) FindStudentByIdentifier(_ context.Context, identifier string) (admission.Student, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[identifier]
	return st, ok, nil
}

func (s *Store) PutStudent(_ context.Context, st admission.Student) error {
	st, err := store.NormalizeStudent(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st.CardUID != "" {
		if owner, ok := s.cards[st.CardUID]; ok && owner != st.Identifier {
			return fmt.Errorf("%w: %s", store.ErrCardInUse, st.CardUID)
		}
	}
	if prev, ok := s.students[st.Identifier]; ok && prev.CardUID != "" {
		delete(s.cards, prev.CardUID)
	}
	s.students[st.Identifier] = st
	if st.CardUID != "" {
		s.cards[st.CardUID] = st.Identifier
	}
	return nil
}

func (s *Store) AssignCard(_ context.Context, identifier, uid string) error {
	uid, err := store.NormalizeCard(uid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[identifier]
	if !ok {
		return fmt.Errorf("%w: student %s", store.ErrNotFound, identifier)
	}
	if owner, ok := s.cards[uid]; ok && owner != identifier {
		return fmt.Errorf("%w: %s", store.ErrCardInUse, uid)
	}
	if st.CardUID != "" {
		delete(s.cards, st.CardUID)
	}
	st.CardUID = uid
	s.students[identifier] = st
	s.cards[uid] = identifier
	return nil
}

func (s *Store) LastNonDeniedAction(_ context.Context, identifier string) (admission.Action, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		last  admission.LogEntry
		found bool
	)
	for _, e := range s.logs {
		if e.Identifier != identifier || e.Action == admission.Denied {
			continue
		}
		// Ties go to the later append.
		if !found || !e.At.Before(last.At) {
			last, found = e, true
		}
	}
	return last.Action, found, nil
}

func (s *Store) AppendLog(_ context.Context, entry admission.LogEntry) error {
	if _, err := admission.ParseAction(string(entry.Action)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) WindowFor(_ context.Context, p admission.Profile, day admission.Weekday) (admission.Window, error) {
	w, err := store.ValidateWindow(admission.Window{Profile: p, Day: day})
	if err != nil {
		return admission.Window{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if got, ok := s.windows[windowKey{w.Profile, w.Day}]; ok {
		return got, nil
	}
	return w, nil
}

func (s *Store) SetWindow(_ context.Context, w admission.Window) error {
	w, err := store.ValidateWindow(w)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[windowKey{w.Profile, w.Day}] = w
	return nil
}

func (s *Store) Windows(ctx context.Context) ([]admission.Window, error) {
	var out []admission.Window
	for _, p := range admission.Profiles {
		for d := admission.Monday; d <= admission.Sunday; d++ {
			w, err := s.WindowFor(ctx, p, d)
			if err != nil {
				return nil, err
			}
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) RecentLogs(_ context.Context, action admission.Action, n int) ([]admission.LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	var out []admission.LogEntry
	for _, e := range s.logs {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	// Newest first; equal timestamps keep reverse append order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) LogsOn(_ context.Context, day time.Time) ([]admission.LogEntry, error) {
	from, to := store.DayBounds(day)

	s.mu.RLock()
	var out []admission.LogEntry
	for _, e := range s.logs {
		if !e.At.Before(from) && e.At.Before(to) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Logs returns a copy of the whole log in append order. Test helper.
func (s *Store) Logs() []admission.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]admission.LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Store) Close() error { return nil }
