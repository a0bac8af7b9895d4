package store

import (
	"context"
	"time"
)

// SessionRow mirrors one sessions record.
type SessionRow struct {
	ID          int64      `db:"id"`
	SessionCode string     `db:"session_code"`
	Password    string     `db:"password"`
	TeacherIP   string     `db:"teacher_ip"`
	StartTime   time.Time  `db:"start_time"`
	EndTime     *time.Time `db:"end_time"`
	Status      string     `db:"status"`
	FocusMode   bool       `db:"focus_mode"`
	MaxStudents int        `db:"max_students"`
}

// StudentRow mirrors one students record.
type StudentRow struct {
	ID          int64      `db:"id"`
	SessionID   int64      `db:"session_id"`
	StudentName string     `db:"student_name"`
	StudentIP   string     `db:"student_ip"`
	JoinTime    time.Time  `db:"join_time"`
	LeaveTime   *time.Time `db:"leave_time"`
	Status      string     `db:"status"`
}

// ViolationRow mirrors one violations record.
type ViolationRow struct {
	ID            int64     `db:"id"`
	SessionID     int64     `db:"session_id"`
	StudentID     int64     `db:"student_id"`
	ViolationType string    `db:"violation_type"`
	Description   string    `db:"description"`
	Timestamp     time.Time `db:"timestamp"`
}

// GetSession loads a session record by code.
func (s *Store) GetSession(ctx context.Context, code string) (*SessionRow, error) {
	var row SessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE session_code = ?`, code)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SessionStudents lists students recorded for a session, join order.
func (s *Store) SessionStudents(ctx context.Context, sessionID int64) ([]StudentRow, error) {
	var rows []StudentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM students WHERE session_id = ? ORDER BY join_time, id`, sessionID)
	return rows, err
}

// SessionViolations lists violations recorded for a session, newest last.
func (s *Store) SessionViolations(ctx context.Context, sessionID int64) ([]ViolationRow, error) {
	var rows []ViolationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM violations WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	return rows, err
}
