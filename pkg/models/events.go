package models

import "time"

// Audit actions derived from the metadata document.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionShare   = "share"
	ActionRequest = "request"
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// AuditEvent is one entry in the projected audit trail. The trail is not
// stored anywhere; it is recomputed from the metadata document on demand,
// so its retention equals the document's.
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	User       string    `json:"user"`
	Namespace  string    `json:"namespace"`
	Key        string    `json:"key"`
	ValueHash  string    `json:"valueHash,omitempty"`
	TargetUser string    `json:"targetUser,omitempty"`
}

// MetadataEvent is the full-state change notification delivered to live
// subscribers. Consumers replace their cached document with Metadata; the
// event carries no delta.
type MetadataEvent struct {
	Namespace string             `json:"namespace"`
	Metadata  *NamespaceMetadata `json:"metadata"`
}
