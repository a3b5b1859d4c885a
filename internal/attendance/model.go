package attendance

import "time"

// AttendanceRecord is the day's time-in/time-out row for a student in a section.
type AttendanceRecord struct {
	ID         string     `json:"id"`
	StudentID  string     `json:"student_id"`
	FullName   string     `json:"full_name"`
	Department string     `json:"department"`
	Date       string     `json:"date"`
	TimeIn     time.Time  `json:"time_in"`
	TimeOut    *time.Time `json:"time_out,omitempty"`
	SectionID  string     `json:"section_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Present reports whether the record has not been timed out.
func (r AttendanceRecord) Present() bool { return r.TimeOut == nil }

// Session is one login/logout interval for a student within a section on one day.
type Session struct {
	ID            string     `json:"id"`
	StudentID     string     `json:"student_id"`
	SectionID     string     `json:"section_id"`
	Date          string     `json:"date"`
	LoginTime     time.Time  `json:"login_time"`
	LogoutTime    *time.Time `json:"logout_time,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Active reports whether the session has not been logged out.
func (s Session) Active() bool { return s.LogoutTime == nil }

// Stats summarises a day of attendance.
type Stats struct {
	TotalToday int `json:"total_today"`
	PresentNow int `json:"present_now"`
}

// ScanEvent is one entry of the append-only scan audit log.
type ScanEvent struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	StudentID  string    `json:"student_id"`
	FullName   string    `json:"full_name"`
	SectionID  string    `json:"section_id"`
	Decision   string    `json:"decision"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
