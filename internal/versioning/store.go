package versioning

import (
	"context"
	"time"
)

// Store is the durable record of versions, their artifacts, change logs and outbox.
// Reads outside a transaction see committed state only.
type Store interface {
	GetVersion(ctx context.Context, id string) (*Version, error)
	CurrentVersion(ctx context.Context, eventNo string) (*Version, error)
	// ListVersions returns an event's history, newest first.
	ListVersions(ctx context.Context, eventNo string) ([]Version, error)
	SearchVersions(ctx context.Context, q HistoryQuery) ([]Version, int, error)
	ListArtifacts(ctx context.Context, eventNo, versionCode string, configType ConfigType) ([]Artifact, error)
	// ListChangeLogs returns a version's entries in insertion order.
	ListChangeLogs(ctx context.Context, versionID string) ([]ChangeLog, error)

	// WithTx runs fn in one transaction. Any error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface. Every mutation and its change-log entry go through the same Tx.
type Tx interface {
	// LockEvent serializes writers of one event's active pointer until the transaction ends.
	LockEvent(ctx context.Context, eventNo string, timeout time.Duration) error

	GetVersion(ctx context.Context, id string) (*Version, error)
	CurrentVersion(ctx context.Context, eventNo string) (*Version, error)
	VersionCodeExists(ctx context.Context, eventNo, versionCode string) (bool, error)
	InsertVersion(ctx context.Context, v *Version) error
	UpdateVersion(ctx context.Context, v *Version) error
	DeleteVersion(ctx context.Context, id string) error

	GetArtifact(ctx context.Context, id string) (*Artifact, error)
	ListArtifacts(ctx context.Context, eventNo, versionCode string, configType ConfigType) ([]Artifact, error)
	InsertArtifact(ctx context.Context, a *Artifact) error
	UpdateArtifact(ctx context.Context, a *Artifact) error
	DeleteArtifact(ctx context.Context, id string) error
	DeleteArtifacts(ctx context.Context, eventNo, versionCode string) (int, error)

	AppendChangeLog(ctx context.Context, entry *ChangeLog) error
	EnqueueOutbox(ctx context.Context, msg *OutboxMessage) error
}

// OutboxStore feeds the relay. fn is called once per pending message in id order;
// a nil result marks the message published, an error records a failed attempt.
type OutboxStore interface {
	ProcessOutbox(ctx context.Context, limit int, fn func(ctx context.Context, msg OutboxMessage) error) (int, error)
}
