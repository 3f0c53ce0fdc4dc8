package model

import "time"

// ExportEvent records a bulk data export by the host application.
type ExportEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	RowCount    int64     `json:"row_count"`
	ByteCount   int64     `json:"byte_count"`
	Destination string    `json:"destination"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type LoginEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SourceIP   string    `json:"source_ip"`
	Success    bool      `json:"success"`
	OccurredAt time.Time `json:"occurred_at"`
}

// QueryEvent is one intercepted query. The honeytoken rule scans these.
type QueryEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SourceIP   string    `json:"source_ip"`
	QueryText  string    `json:"query_text"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewExportEvent(userID string, rows, bytes int64, destination string, at time.Time) ExportEvent {
	return ExportEvent{ID: generateID(), UserID: userID, RowCount: rows, ByteCount: bytes,
		Destination: destination, OccurredAt: orNow(at)}
}

func NewLoginEvent(userID, sourceIP string, success bool, at time.Time) LoginEvent {
	return LoginEvent{ID: generateID(), UserID: userID, SourceIP: sourceIP, Success: success, OccurredAt: orNow(at)}
}

func NewQueryEvent(userID, sourceIP, queryText string, at time.Time) QueryEvent {
	return QueryEvent{ID: generateID(), UserID: userID, SourceIP: sourceIP, QueryText: queryText, OccurredAt: orNow(at)}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return Now()
	}
	return StoredTime(t)
}

// ExportWindow aggregates exports within one detection window.
type ExportWindow struct {
	Start time.Time
	Rows  int64
	Bytes int64
	Users map[string]int64
}

// Baseline summarises prior windows.
type Baseline struct {
	Mean    float64
	StdDev  float64
	Windows int
}

// HasData reports whether there was any history to average.
func (b Baseline) HasData() bool {
	return b.Windows > 0 && b.Mean > 0
}

// LoginProfile is a user's established behaviour over the history period.
type LoginProfile struct {
	UserID      string
	KnownIPs    map[string]bool
	ActiveHours map[int]bool
	Logins      int
	Mature      bool
}

// ScanCursor marks how far a scan over query events has got. Events are
// ordered by (OccurredAt, ID). TokenID is set while a query's honeytoken hits
// are only partly recorded and names the last hit recorded.
type ScanCursor struct {
	At      time.Time `json:"at"`
	QueryID string    `json:"query_id"`
	TokenID string    `json:"token_id"`
}

// Covers reports whether q was fully handled before the cursor was saved.
func (c ScanCursor) Covers(q QueryEvent) bool {
	if c.QueryID == "" {
		return false
	}
	switch {
	case q.OccurredAt.Before(c.At):
		return true
	case q.OccurredAt.Equal(c.At):
		if q.ID == c.QueryID {
			return c.TokenID == ""
		}
		return q.ID < c.QueryID
	}
	return false
}

// Resumes reports whether hits for q must skip tokens up to TokenID.
func (c ScanCursor) Resumes(q QueryEvent) bool {
	return c.QueryID == q.ID && c.TokenID != ""
}
