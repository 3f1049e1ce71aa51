package session

// Status is a session's lifecycle state (§3, §4.2.2).
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusIdle     Status = "idle"
	StatusClosed   Status = "closed"
)

func (s Status) String() string { return string(s) }
