package protocol

// ProjectInfo mirrors a single entry of projects.json (§6).
type ProjectInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Keywords    []string `json:"keywords,omitempty"`
	TechStack   []string `json:"techStack,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ProjectsListData wraps ProjectInfo per the resolved Open Question in §9:
// list responses always use the wrapped form.
type ProjectsListData struct {
	Projects []ProjectInfo `json:"projects"`
}

// SessionInfo is the wire shape of a Session returned by list_sessions.
type SessionInfo struct {
	ID             string `json:"id"`
	ProjectID      string `json:"projectId"`
	WorkingDir     string `json:"workingDir"`
	Status         string `json:"status"`
	LastActivity   int64  `json:"lastActivity"`
	IsQuickSession bool   `json:"isQuickSession"`
}

// SessionsListData wraps SessionInfo.
type SessionsListData struct {
	Sessions []SessionInfo `json:"sessions"`
}

// SessionStartedData is the status{session_started} payload data.
type SessionStartedData struct {
	SessionID          string `json:"sessionId"`
	ProjectID          string `json:"projectId"`
	IsQuickSession     bool   `json:"isQuickSession"`
	HasPreviousContext bool   `json:"hasPreviousContext"`
}

// SessionClosedData is the status{session_closed} payload data.
type SessionClosedData struct {
	SessionID string `json:"sessionId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
}

// HistorySummary is one entry returned by get_session_history.
type HistorySummary struct {
	SessionID string `json:"sessionId"`
	StartedAt int64  `json:"startedAt"`
	EndedAt   int64  `json:"endedAt,omitempty"`
	Preview   string `json:"preview"`
}

// SessionHistoryData wraps HistorySummary.
type SessionHistoryData struct {
	History []HistorySummary `json:"history"`
}

// LastSessionOutputData is the get_last_session_output payload data.
type LastSessionOutputData struct {
	Output string `json:"output"`
}

// FileUploadedData is the upload_file payload data.
type FileUploadedData struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
	Size     int    `json:"size"`
}
