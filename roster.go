package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"schoolgate/admission"
	"schoolgate/store"
)

// Roster loads students from a tab-separated roster file into the store.
//
// Each line is
//
//	identifier<TAB>profile<TAB>flags<TAB>card uid<TAB>display name
//
// where flags is a comma-separated list of "staff" and "penalized", or "-".
// The card column may be empty or "-". Blank lines and lines starting with
// '#' are skipped.
type Roster struct {
	path  string
	store store.Store
	log   *slog.Logger
}

// NewRoster creates a roster loader. An empty path disables it.
func NewRoster(path string, st store.Store, logger *slog.Logger) *Roster {
	return &Roster{path: path, store: st, log: logger}
}

// Load reads the roster file and writes every student. Malformed lines are
// logged and skipped; a store failure stops the load.
func (r *Roster) Load(ctx context.Context) (int, error) {
	if r.path == "" {
		return 0, nil
	}
	file, err := os.Open(r.path)
	if err != nil {
		return 0, fmt.Errorf("open roster: %w", err)
	}
	defer file.Close()

	students, err := r.parse(file)
	if err != nil {
		return 0, err
	}

	for _, st := range students {
		if st.CardUID == "" {
			// Keep a card assigned at the gate since the roster was written.
			old, found, err := r.store.FindStudentByIdentifier(ctx, st.Identifier)
			if err != nil {
				return 0, err
			}
			if found {
				st.CardUID = old.CardUID
			}
		}
		if err := r.store.PutStudent(ctx, st); err != nil {
			return 0, fmt.Errorf("roster student %s: %w", st.Identifier, err)
		}
	}
	r.log.Info("Roster loaded", "path", r.path, "students", len(students))
	return len(students), nil
}

func (r *Roster) parse(in io.Reader) ([]admission.Student, error) {
	var students []admission.Student
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		st, err := parseRosterLine(line)
		if err != nil {
			r.log.Warn("Skipping roster line", "line", lineNo, "err", err)
			continue
		}
		students = append(students, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return students, nil
}

func parseRosterLine(line string) (admission.Student, error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 5 {
		return admission.Student{}, fmt.Errorf("want 5 tab-separated fields, got %d", len(parts))
	}

	p, err := admission.ParseProfile(parts[1])
	if err != nil {
		return admission.Student{}, err
	}
	st := admission.Student{
		Identifier:  strings.TrimSpace(parts[0]),
		Profile:     p,
		DisplayName: strings.TrimSpace(strings.Join(parts[4:], " ")),
	}

	for _, flag := range strings.Split(parts[2], ",") {
		switch strings.ToLower(strings.TrimSpace(flag)) {
		case "", "-":
		case "staff":
			st.Staff = true
		case "penalized":
			st.Penalized = true
		default:
			return admission.Student{}, fmt.Errorf("unknown flag %q", flag)
		}
	}

	if card := strings.TrimSpace(parts[3]); card != "" && card != "-" {
		st.CardUID = card
	}

	return store.NormalizeStudent(st)
}
