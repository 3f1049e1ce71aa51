package agent

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/pocketclaude/pocketclaude/internal/protocol"
	"github.com/pocketclaude/pocketclaude/internal/session"
)

func (d *Dispatcher) handleListProjects() {
	projs := d.catalog.List()
	list := make([]protocol.ProjectInfo, 0, len(projs))
	for _, p := range projs {
		list = append(list, protocol.ProjectInfo{
			ID:          p.ID,
			Name:        p.Name,
			Path:        p.Path,
			Keywords:    p.Keywords,
			TechStack:   p.TechStack,
			Description: p.Description,
		})
	}
	d.sendStatus("", protocol.StatusProjectsList, protocol.ProjectsListData{Projects: list})
}

func (d *Dispatcher) handleListSessions() {
	infos := d.mgr.List()
	list := make([]protocol.SessionInfo, 0, len(infos))
	for _, info := range infos {
		list = append(list, protocol.SessionInfo{
			ID:             info.ID,
			ProjectID:      info.ProjectID,
			WorkingDir:     info.WorkingDir,
			Status:         info.Status,
			LastActivity:   info.LastActivity,
			IsQuickSession: info.IsQuickSession,
		})
	}
	d.sendStatus("", protocol.StatusSessionsList, protocol.SessionsListData{Sessions: list})
}

func (d *Dispatcher) handleStartSession(cmd protocol.CommandPayload) {
	info, err := d.mgr.Start(cmd.ProjectID)
	if err != nil {
		if err == session.ErrProjectNotFound {
			d.sendError("", protocol.ErrProjectNotFound, "no such project: "+cmd.ProjectID)
			return
		}
		d.sendError("", protocol.ErrInternal, err.Error())
		return
	}
	d.sendStatus(info.SessionID, protocol.StatusSessionStarted, protocol.SessionStartedData{
		SessionID:          info.SessionID,
		ProjectID:          info.ProjectID,
		IsQuickSession:     info.IsQuickSession,
		HasPreviousContext: info.HasPreviousContext,
	})
}

func (d *Dispatcher) handleSendInput(cmd protocol.CommandPayload) {
	if cmd.SessionID == "" {
		d.sendError("", protocol.ErrMissingSessionID, "sessionId is required")
		return
	}
	if cmd.Input == "" {
		d.sendError(cmd.SessionID, protocol.ErrMissingInput, "input is required")
		return
	}
	if err := d.mgr.SendInput(cmd.SessionID, cmd.Input); err != nil {
		d.sendError(cmd.SessionID, protocol.ErrSessionNotFound, "no such session: "+cmd.SessionID)
	}
}

func (d *Dispatcher) handleCloseSession(cmd protocol.CommandPayload) {
	if cmd.SessionID == "" {
		d.sendError("", protocol.ErrMissingSessionID, "sessionId is required")
		return
	}
	if err := d.mgr.Close(cmd.SessionID); err != nil {
		d.sendError(cmd.SessionID, protocol.ErrSessionNotFound, "no such session: "+cmd.SessionID)
		return
	}
	d.sendStatus(cmd.SessionID, protocol.StatusSessionClosed, nil)
}

func (d *Dispatcher) handleKeepalive(cmd protocol.CommandPayload) {
	if cmd.SessionID == "" {
		d.sendError("", protocol.ErrMissingSessionID, "sessionId is required")
		return
	}
	if err := d.mgr.Keepalive(cmd.SessionID); err != nil {
		d.sendError(cmd.SessionID, protocol.ErrSessionNotFound, "no such session: "+cmd.SessionID)
	}
}

func (d *Dispatcher) handleGetSessionHistory(cmd protocol.CommandPayload) {
	if cmd.ProjectID == "" {
		d.sendError("", protocol.ErrMissingProjectID, "projectId is required")
		return
	}
	summaries, err := d.hist.ListSummaries(cmd.ProjectID, 0)
	if err != nil {
		d.sendError("", protocol.ErrInternal, err.Error())
		return
	}
	list := make([]protocol.HistorySummary, 0, len(summaries))
	for _, s := range summaries {
		list = append(list, protocol.HistorySummary{
			SessionID: s.SessionID,
			StartedAt: s.StartedAt,
			EndedAt:   s.EndedAt,
			Preview:   s.Preview,
		})
	}
	d.sendStatus("", protocol.StatusSessionHistory, protocol.SessionHistoryData{History: list})
}

func (d *Dispatcher) handleGetLastOutput(cmd protocol.CommandPayload) {
	if cmd.ProjectID == "" {
		d.sendError("", protocol.ErrMissingProjectID, "projectId is required")
		return
	}
	output, err := d.hist.LastOutput(cmd.ProjectID)
	if err != nil {
		d.sendError("", protocol.ErrInternal, err.Error())
		return
	}
	d.sendStatus("", protocol.StatusLastSessionOutput, protocol.LastSessionOutputData{Output: output})
}

func (d *Dispatcher) handleUploadFile(cmd protocol.CommandPayload) {
	if cmd.SessionID == "" {
		d.sendError("", protocol.ErrMissingSessionID, "sessionId is required")
		return
	}
	if cmd.FileName == "" || cmd.FileContent == "" {
		d.sendError(cmd.SessionID, protocol.ErrMissingFileData, "fileName and fileContent are required")
		return
	}

	workingDir, ok := d.mgr.WorkingDir(cmd.SessionID)
	if !ok {
		d.sendError(cmd.SessionID, protocol.ErrSessionNotFound, "no such session: "+cmd.SessionID)
		return
	}

	name := sanitizeFileName(cmd.FileName)

	data, err := base64.StdEncoding.DecodeString(cmd.FileContent)
	if err != nil {
		d.sendError(cmd.SessionID, protocol.ErrUploadFailed, "fileContent is not valid base64")
		return
	}

	uploadsDir := filepath.Join(workingDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		d.sendError(cmd.SessionID, protocol.ErrUploadFailed, err.Error())
		return
	}
	destPath := filepath.Join(uploadsDir, name)
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		d.sendError(cmd.SessionID, protocol.ErrUploadFailed, err.Error())
		return
	}

	d.sendStatus(cmd.SessionID, protocol.StatusFileUploaded, protocol.FileUploadedData{
		FileName: name,
		FilePath: destPath,
		Size:     len(data),
	})
}

// sanitizeFileName replaces every character outside [A-Za-z0-9._-] with
// "_" — including path separators, so "../../etc/passwd" becomes
// ".._.._etc_passwd" rather than being rejected or silently re-based.
func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
