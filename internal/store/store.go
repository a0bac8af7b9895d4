// Package store persists session activity to a local SQLite database.
//
// Every recording method is fire-and-forget: the call queues work for a
// single writer goroutine and returns immediately. Persistence failures are
// logged and never surface to the network operation that triggered them.
// The single writer also keeps SQLite free of write contention and preserves
// causal order (a student's join row always lands before their violations).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_code TEXT UNIQUE NOT NULL,
	password     TEXT NOT NULL,
	teacher_ip   TEXT NOT NULL,
	start_time   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	end_time     TIMESTAMP,
	status       TEXT DEFAULT 'active',
	focus_mode   BOOLEAN DEFAULT 0,
	max_students INTEGER DEFAULT 200
);

CREATE TABLE IF NOT EXISTS students (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   INTEGER,
	student_name TEXT NOT NULL,
	student_ip   TEXT NOT NULL,
	join_time    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	leave_time   TIMESTAMP,
	status       TEXT DEFAULT 'connected',
	FOREIGN KEY (session_id) REFERENCES sessions (id)
);

CREATE TABLE IF NOT EXISTS violations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     INTEGER,
	student_id     INTEGER,
	violation_type TEXT NOT NULL,
	description    TEXT,
	timestamp      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (session_id) REFERENCES sessions (id),
	FOREIGN KEY (student_id) REFERENCES students (id)
);
`

const (
	queueDepth   = 256
	writeTimeout = 10 * time.Second
)

// Store is the SQLite-backed persistence collaborator.
type Store struct {
	db    *sqlx.DB
	ops   chan func(ctx context.Context)
	done  chan struct{}
	stopC chan struct{}

	// Writer-goroutine state only; never touched elsewhere. Student rows are
	// keyed by connection ID so duplicate display names stay distinct.
	sessionID  int64
	studentIDs map[string]int64
}

// Open connects to the database file, applies the schema, and starts the
// writer goroutine.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:         db,
		ops:        make(chan func(ctx context.Context), queueDepth),
		done:       make(chan struct{}),
		stopC:      make(chan struct{}),
		studentIDs: make(map[string]int64),
	}
	go s.writeLoop()
	return s, nil
}

// Close drains queued writes and closes the database.
func (s *Store) Close() error {
	close(s.stopC)
	<-s.done
	return s.db.Close()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			s.runOp(op)
		case <-s.stopC:
			// Drain whatever is queued before shutting down.
			for {
				select {
				case op := <-s.ops:
					s.runOp(op)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) runOp(op func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	op(ctx)
}

// enqueue hands work to the writer. A full queue drops the record with a log
// line rather than blocking the caller.
func (s *Store) enqueue(name string, op func(ctx context.Context)) {
	select {
	case s.ops <- op:
	default:
		log.Warn().Str("op", name).Msg("persistence queue full, record dropped")
	}
}

// SessionStarted opens the persistence record for a new session.
func (s *Store) SessionStarted(code, password, teacherAddr string, maxStudents int) {
	s.enqueue("session_started", func(ctx context.Context) {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (session_code, password, teacher_ip, max_students) VALUES (?, ?, ?, ?)`,
			code, password, teacherAddr, maxStudents)
		if err != nil {
			log.Error().Err(err).Str("code", code).Msg("record session start failed")
			return
		}
		s.sessionID, _ = res.LastInsertId()
		s.studentIDs = make(map[string]int64)
	})
}

// StudentJoined adds a student row under the current session.
func (s *Store) StudentJoined(connID, studentName, addr string) {
	s.enqueue("student_joined", func(ctx context.Context) {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO students (session_id, student_name, student_ip) VALUES (?, ?, ?)`,
			s.sessionID, studentName, addr)
		if err != nil {
			log.Error().Err(err).Str("student", studentName).Msg("record student join failed")
			return
		}
		id, _ := res.LastInsertId()
		s.studentIDs[connID] = id
	})
}

// StudentLeft marks a student disconnected.
func (s *Store) StudentLeft(connID, studentName string) {
	s.enqueue("student_left", func(ctx context.Context) {
		id, ok := s.studentIDs[connID]
		if !ok {
			return
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE students SET leave_time = CURRENT_TIMESTAMP, status = 'disconnected' WHERE id = ?`, id)
		if err != nil {
			log.Error().Err(err).Str("student", studentName).Msg("record student leave failed")
		}
	})
}

// ViolationRecorded stores one surfaced violation.
func (s *Store) ViolationRecorded(connID, studentName, violationType, description string) {
	s.enqueue("violation", func(ctx context.Context) {
		studentID := s.studentIDs[connID]
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO violations (session_id, student_id, violation_type, description) VALUES (?, ?, ?, ?)`,
			s.sessionID, studentID, violationType, description)
		if err != nil {
			log.Error().Err(err).Str("student", studentName).Str("type", violationType).Msg("record violation failed")
		}
	})
}

// FocusModeChanged persists the session's focus-mode flag.
func (s *Store) FocusModeChanged(enabled bool) {
	s.enqueue("focus_mode", func(ctx context.Context) {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET focus_mode = ? WHERE id = ?`, enabled, s.sessionID)
		if err != nil {
			log.Error().Err(err).Bool("enabled", enabled).Msg("record focus mode failed")
		}
	})
}

// SessionEnded closes the session record and marks stragglers disconnected.
func (s *Store) SessionEnded() {
	s.enqueue("session_ended", func(ctx context.Context) {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET end_time = CURRENT_TIMESTAMP, status = 'ended' WHERE id = ?`, s.sessionID); err != nil {
			log.Error().Err(err).Msg("record session end failed")
			return
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE students SET leave_time = CURRENT_TIMESTAMP, status = 'disconnected'
			 WHERE session_id = ? AND status = 'connected'`, s.sessionID); err != nil {
			log.Error().Err(err).Msg("record student disconnects failed")
		}
	})
}

// Flush blocks until every queued write has been applied. Test hook.
func (s *Store) Flush() {
	doneC := make(chan struct{})
	s.ops <- func(context.Context) { close(doneC) }
	<-doneC
}
