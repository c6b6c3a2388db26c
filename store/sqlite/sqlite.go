// Package sqlite implements store.Store on the gate's SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"schoolgate/admission"
	dbpkg "schoolgate/db"
	"schoolgate/store"
)

type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.Store = (*Store)(nil)

// New wraps an open, migrated database. Writes go through writer.
func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

// Open opens the database at cfg.Path, migrates it and starts the writer.
// Close releases both.
func Open(ctx context.Context, cfg dbpkg.Config, opts ...Option) (*Store, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := dbpkg.Open(ctx, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	return New(conn, dbpkg.NewWorker(conn)), nil
}

func (s *Store) Close() error {
	s.writer.Close()
	return s.db.Close()
}

const studentColumns = `identifier, display_name, profile, is_staff, penalized, card_uid`

func scanStudent(row interface{ Scan(...any) error }) (admission.Student, error) {
	var (
		st              admission.Student
		profile         string
		staff, penalize int
		card            sql.NullString
	)
	if err := row.Scan(&st.Identifier, &st.DisplayName, &profile, &staff, &penalize, &card); err != nil {
		return admission.Student{}, err
	}
	p, err := admission.ParseProfile(profile)
	if err != nil {
		return admission.Student{}, err
	}
	st.Profile = p
	st.Staff = staff != 0
	st.Penalized = penalize != 0
	st.CardUID = card.String
	return st, nil
}

func (s *Store) findStudent(ctx context.Context, where string, arg any) (admission.Student, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+studentColumns+` FROM students WHERE `+where+` = ?;
`, arg)
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return admission.Student{}, false, nil
	}
	if err != nil {
		return admission.Student{}, false, fmt.Errorf("find student by %s: %w", where, err)
	}
	return st, true, nil
}

func (s *Store) FindStudentByCardUID(ctx context.Context, uid string) (admission.Student, bool, error) {
	return s.findStudent(ctx, "card_uid", uid)
}

func (s *Store) FindStudentByIdentifier(ctx context.Context, identifier string) (admission.Student, bool, error) {
	return s.findStudent(ctx, "identifier", identifier)
}

// cardOwner returns who holds uid, or "" if nobody does.
func cardOwner(ctx context.Context, tx *sql.Tx, uid string) (string, error) {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT identifier FROM students WHERE card_uid = ?;`, uid).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return owner, err
}

func (s *Store) PutStudent(ctx context.Context, st admission.Student) error {
	st, err := store.NormalizeStudent(st)
	if err != nil {
		return err
	}

	var card any
	if st.CardUID != "" {
		card = st.CardUID
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if st.CardUID != "" {
			owner, err := cardOwner(ctx, tx, st.CardUID)
			if err != nil {
				return fmt.Errorf("PutStudent card owner: %w", err)
			}
			if owner != "" && owner != st.Identifier {
				return fmt.Errorf("%w: %s", store.ErrCardInUse, st.CardUID)
			}
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO students(`+studentColumns+`)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(identifier) DO UPDATE SET
  display_name = excluded.display_name,
  profile      = excluded.profile,
  is_staff     = excluded.is_staff,
  penalized    = excluded.penalized,
  card_uid     = excluded.card_uid;
`, st.Identifier, st.DisplayName, string(st.Profile), boolInt(st.Staff), boolInt(st.Penalized), card); err != nil {
			return fmt.Errorf("PutStudent upsert: %w", err)
		}
		return nil
	})
}

func (s *Store) AssignCard(ctx context.Context, identifier, uid string) error {
	uid, err := store.NormalizeCard(uid)
	if err != nil {
		return err
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		owner, err := cardOwner(ctx, tx, uid)
		if err != nil {
			return fmt.Errorf("AssignCard card owner: %w", err)
		}
		if owner != "" && owner != identifier {
			return fmt.Errorf("%w: %s", store.ErrCardInUse, uid)
		}

		res, err := tx.ExecContext(ctx, `UPDATE students SET card_uid = ? WHERE identifier = ?;`, uid, identifier)
		if err != nil {
			return fmt.Errorf("AssignCard update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("AssignCard rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: student %s", store.ErrNotFound, identifier)
		}
		return nil
	})
}

func (s *Store) LastNonDeniedAction(ctx context.Context, identifier string) (admission.Action, bool, error) {
	var action string
	err := s.db.QueryRowContext(ctx, `
SELECT action FROM gate_logs
WHERE identifier = ? AND action <> 'denied'
ORDER BY at_ms DESC, id DESC
LIMIT 1;
`, identifier).Scan(&action)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("LastNonDeniedAction: %w", err)
	}
	a, err := admission.ParseAction(action)
	if err != nil {
		return "", false, err
	}
	return a, true, nil
}

func (s *Store) AppendLog(ctx context.Context, entry admission.LogEntry) error {
	if _, err := admission.ParseAction(string(entry.Action)); err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO gate_logs(identifier, action, at_ms) VALUES (?, ?, ?);
`, entry.Identifier, string(entry.Action), entry.At.UnixMilli()); err != nil {
			return fmt.Errorf("AppendLog insert: %w", err)
		}
		return nil
	})
}

func (s *Store) WindowFor(ctx context.Context, p admission.Profile, day admission.Weekday) (admission.Window, error) {
	w, err := store.ValidateWindow(admission.Window{Profile: p, Day: day})
	if err != nil {
		return admission.Window{}, err
	}

	var start, end sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
SELECT start_sec, end_sec FROM admission_windows WHERE profile = ? AND weekday = ?;
`, string(w.Profile), int(w.Day)).Scan(&start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		// Missing rows close the day, same as NULL bounds.
		return w, nil
	}
	if err != nil {
		return admission.Window{}, fmt.Errorf("WindowFor %s: %w", w, err)
	}
	return withBounds(w, start, end), nil
}

func withBounds(w admission.Window, start, end sql.NullInt64) admission.Window {
	if start.Valid && end.Valid {
		s := admission.TimeOfDay(time.Duration(start.Int64) * time.Second)
		e := admission.TimeOfDay(time.Duration(end.Int64) * time.Second)
		w.Start, w.End = &s, &e
	}
	return w
}

func (s *Store) SetWindow(ctx context.Context, w admission.Window) error {
	w, err := store.ValidateWindow(w)
	if err != nil {
		return err
	}

	var start, end any
	if !w.Denied() {
		start = int64(time.Duration(*w.Start) / time.Second)
		end = int64(time.Duration(*w.End) / time.Second)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO admission_windows(profile, weekday, start_sec, end_sec)
VALUES (?, ?, ?, ?)
ON CONFLICT(profile, weekday) DO UPDATE SET
  start_sec = excluded.start_sec,
  end_sec   = excluded.end_sec;
`, string(w.Profile), int(w.Day), start, end); err != nil {
			return fmt.Errorf("SetWindow upsert: %w", err)
		}
		return nil
	})
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

func (s *Store) RecentLogs(ctx context.Context, action admission.Action, n int) ([]admission.LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT identifier, action, at_ms FROM gate_logs
WHERE ? = '' OR action = ?
ORDER BY at_ms DESC, id DESC
LIMIT ?;
`, string(action), string(action), n)
	if err != nil {
		return nil, fmt.Errorf("RecentLogs: %w", err)
	}
	return scanLogs(rows, time.Local)
}

func (s *Store) LogsOn(ctx context.Context, day time.Time) ([]admission.LogEntry, error) {
	from, to := store.DayBounds(day)
	rows, err := s.db.QueryContext(ctx, `
SELECT identifier, action, at_ms FROM gate_logs
WHERE at_ms >= ? AND at_ms < ?
ORDER BY at_ms, id;
`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("LogsOn: %w", err)
	}
	return scanLogs(rows, day.Location())
}

func scanLogs(rows *sql.Rows, loc *time.Location) ([]admission.LogEntry, error) {
	defer rows.Close()

	var out []admission.LogEntry
	for rows.Next() {
		var (
			e      admission.LogEntry
			action string
			atMs   int64
		)
		if err := rows.Scan(&e.Identifier, &action, &atMs); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		a, err := admission.ParseAction(action)
		if err != nil {
			return nil, err
		}
		e.Action = a
		e.At = time.UnixMilli(atMs).In(loc)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
