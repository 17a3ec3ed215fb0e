package domain

import (
	"context"
	"time"
)

// ConnectionRecord is one downstream connection's lifecycle entry.
type ConnectionRecord struct {
	ID             string
	RemoteAddr     string
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
	CloseReason    string
	Displaced      bool
}

// ConnectionJournal records downstream connection lifecycles. It never stores relayed payloads.
type ConnectionJournal interface {
	RecordConnect(ctx context.Context, rec ConnectionRecord) error
	RecordDisplaced(ctx context.Context, id string) error
	RecordDisconnect(ctx context.Context, id string, at time.Time, reason string) error
	Recent(ctx context.Context, limit int) ([]ConnectionRecord, error)
}
