package domain

import (
	"context"
	"time"
)

// FillStore persists executed fills.
type FillStore interface {
	Insert(ctx context.Context, fill FillRecord) error
	ListSince(ctx context.Context, since time.Time) ([]FillRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
}

// SnapshotStore persists an opaque, versioned state blob such as the
// position tracker.
type SnapshotStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}
