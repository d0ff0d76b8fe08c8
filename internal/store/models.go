package store

import (
	"encoding/json"
	"time"
)

// OperationType is the kind of local mutation a queued operation carries.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
	OperationUpload OperationType = "upload"
)

// PendingOperation is a queued local mutation awaiting transmission to the
// remote system. It survives process restarts until acknowledged or evicted.
type PendingOperation struct {
	ID         string          `json:"id"`
	Operation  OperationType   `json:"operation"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// FieldResolution is the per-field decision state on a conflict.
type FieldResolution string

const (
	ResolutionPending   FieldResolution = "pending"
	ResolutionUseLocal  FieldResolution = "use_local"
	ResolutionUseServer FieldResolution = "use_server"
	ResolutionCustom    FieldResolution = "custom"
)

// FieldConflict is a single attribute whose local and remote values disagree.
// Resolution only moves forward from pending; it never reverts.
type FieldConflict struct {
	FieldName     string          `json:"field_name"`
	DisplayName   string          `json:"display_name"`
	FieldType     string          `json:"field_type"`
	LocalValue    string          `json:"local_value"`
	RemoteValue   string          `json:"remote_value"`
	Resolution    FieldResolution `json:"resolution"`
	ResolvedValue string          `json:"resolved_value,omitempty"`
}

// Conflict records an entity whose local and remote versions diverged.
// Created by the analyzer, persisted until the resolver settles it.
type Conflict struct {
	ID               string          `json:"id"`
	EntityType       string          `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	LocalData        json.RawMessage `json:"local_data"`
	RemoteData       json.RawMessage `json:"remote_data"`
	LocalModifiedAt  time.Time       `json:"local_modified_at"`
	RemoteModifiedAt time.Time       `json:"remote_modified_at"`
	FieldConflicts   []FieldConflict `json:"field_conflicts"`
	DetectedAt       time.Time       `json:"detected_at"`
}

// SyncMetadata is the durable record of sync bookkeeping. It is mutated only
// by the orchestrator at the end of a pass and written atomically.
type SyncMetadata struct {
	LastSyncTime      time.Time     `json:"last_sync_time"`
	LastSyncDuration  time.Duration `json:"last_sync_duration"`
	TotalSyncs        int           `json:"total_syncs"`
	ConflictsResolved int           `json:"conflicts_resolved"`
	FailedSyncs       int           `json:"failed_syncs"`
	Conflicts         []Conflict    `json:"conflicts,omitempty"`
}

// TrackedChange is a lightweight audit record of a local mutation routed
// through QueueChange.
type TrackedChange struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  OperationType   `json:"operation"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	ChangedAt  time.Time       `json:"changed_at"`
}

// SyncHistory summarizes one completed sync pass.
type SyncHistory struct {
	ID                string    `json:"id"`
	Mode              string    `json:"mode"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
	ItemsPushed       int       `json:"items_pushed"`
	ItemsPulled       int       `json:"items_pulled"`
	ConflictsResolved int       `json:"conflicts_resolved"`
	Success           bool      `json:"success"`
	Message           string    `json:"message,omitempty"`
}
