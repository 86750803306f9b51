package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Action names an audited operation.
type Action string

const (
	ActionRoomCreated    Action = "room_created"
	ActionRoomJoined     Action = "room_joined"
	ActionJoinFailed     Action = "join_failed"
	ActionFileUploaded   Action = "file_uploaded"
	ActionFileDownloaded Action = "file_downloaded"
	ActionFileDeleted    Action = "file_deleted"
)

// Space values for Event.Space.
const (
	SpaceFlat = "flat"
	SpaceRoom = "room"
)

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Action    Action    `json:"action"`
	Space     string    `json:"space"`
	RoomID    string    `json:"room_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Size      int64     `json:"size,omitempty"`
	IPAddress string    `json:"ip_address"`
	RequestID string    `json:"request_id,omitempty"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
}

// AuditStore persists events to the audit_events table.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore wraps an open pool. Run RunMigrations first.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record inserts ev, filling in the id and timestamp when unset.
func (s *AuditStore) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, occurred_at, action, space, room_id, filename,
			size_bytes, ip_address, request_id, success, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.ID,
		ev.Time,
		string(ev.Action),
		ev.Space,
		nullString(ev.RoomID),
		nullString(ev.Filename),
		nullInt(ev.Size),
		ev.IPAddress,
		nullString(ev.RequestID),
		ev.Success,
		nullString(ev.Detail),
	)
	return err
}

// Recent returns up to limit events, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, action, space, room_id, filename,
		       size_bytes, ip_address, request_id, success, detail
		FROM audit_events
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev                                  Event
			action                              string
			roomID, filename, requestID, detail sql.NullString
			size                                sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.Time, &action, &ev.Space, &roomID, &filename,
			&size, &ev.IPAddress, &requestID, &ev.Success, &detail); err != nil {
			return nil, err
		}
		ev.Action = Action(action)
		ev.RoomID = roomID.String
		ev.Filename = filename.String
		ev.Size = size.Int64
		ev.RequestID = requestID.String
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Ping checks the database connection.
func (s *AuditStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}
