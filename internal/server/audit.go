package server

import (
	"context"
	"net/http"
	"time"

	"file-exchanger/internal/db"
)

// Auditor records security relevant events. *db.AuditStore implements it;
// without a database the events go to the structured log.
type Auditor interface {
	Record(ctx context.Context, ev db.Event) error
}

// LogAuditor writes audit events as log entries.
type LogAuditor struct {
	Logger *Logger
}

func (a LogAuditor) Record(_ context.Context, ev db.Event) error {
	fields := map[string]any{
		"action":  string(ev.Action),
		"space":   ev.Space,
		"ip":      ev.IPAddress,
		"success": ev.Success,
	}
	if ev.RequestID != "" {
		fields["rid"] = ev.RequestID
	}
	if ev.RoomID != "" {
		fields["room"] = ev.RoomID
	}
	if ev.Filename != "" {
		fields["file"] = ev.Filename
	}
	if ev.Size > 0 {
		fields["size"] = ev.Size
	}
	if ev.Detail != "" {
		fields["detail"] = ev.Detail
	}
	a.Logger.Info("audit", fields)
	return nil
}

// audit stamps ev with the caller's address and request id and records it.
// The record outlives a client that already hung up.
func (s *Server) audit(r *http.Request, ev db.Event) {
	ev.IPAddress = getClientIP(r)
	ev.RequestID = RequestIDFromContext(r.Context())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if err := s.auditor.Record(ctx, ev); err != nil {
		Warn("audit_failed", map[string]any{"rid": ev.RequestID, "action": string(ev.Action)})
	}
}
