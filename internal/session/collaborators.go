package session

import "context"

// Recorder is the persistence collaborator. Every call is a fire-and-forget
// notification: implementations must never block the caller and must swallow
// their own failures (log-and-continue).
// Records are keyed by connection ID, not display name: names are chosen by
// students and two of them picking the same one must not share rows.
type Recorder interface {
	SessionStarted(code, password, teacherAddr string, maxStudents int)
	StudentJoined(connID, studentName, addr string)
	StudentLeft(connID, studentName string)
	ViolationRecorded(connID, studentName, violationType, description string)
	FocusModeChanged(enabled bool)
	SessionEnded()
}

// NopRecorder discards all notifications.
type NopRecorder struct{}

func (NopRecorder) SessionStarted(string, string, string, int)       {}
func (NopRecorder) StudentJoined(string, string, string)             {}
func (NopRecorder) StudentLeft(string, string)                       {}
func (NopRecorder) ViolationRecorded(string, string, string, string) {}
func (NopRecorder) FocusModeChanged(bool)                            {}
func (NopRecorder) SessionEnded()                                    {}

// Observer receives live classroom events for the teacher-side UI feed.
// Callbacks run on network goroutines and must return quickly.
type Observer interface {
	StudentJoined(connID, studentName, addr string)
	StudentLeft(connID, studentName string)
	// Violation is invoked only for surfaced (non-suppressed) reports; count
	// is the occurrence number within the current throttle window.
	Violation(connID, studentName, violationType, description string, count int)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StudentJoined(string, string, string)          {}
func (NopObserver) StudentLeft(string, string)                    {}
func (NopObserver) Violation(string, string, string, string, int) {}

// ScreenCaptureProvider supplies encoded frame bytes on demand. The core
// forwards frames opaquely and never interprets pixel content.
type ScreenCaptureProvider interface {
	Frame(ctx context.Context) ([]byte, error)
}
