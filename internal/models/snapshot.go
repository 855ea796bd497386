package models

import "time"

// ResourceState captures a resource's content before a repair touched it.
// Exists=false records that the resource was absent, so restore removes it.
type ResourceState struct {
	Content []byte `json:"content"`
	Exists  bool   `json:"exists"`
	Mode    uint32 `json:"mode,omitempty"`
}

// Snapshot is a point-in-time capture of resource content enabling rollback.
type Snapshot struct {
	ID        string                   `json:"id"`
	Resources map[string]ResourceState `json:"resources"`
	CreatedAt time.Time                `json:"created_at"`
}
