package models

import "time"

// Request statuses for AccessRequest.Status.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
)

// ShareGrant records that a secret was shared with a user while the secret
// held a particular value. The grant stays in the document forever; it only
// authorizes access while ValueHash still matches the secret's current
// fingerprint, so rewriting the value implicitly revokes every prior grant.
type ShareGrant struct {
	Key       string    `json:"key"`
	ValueHash string    `json:"valueHash"`
	SharedBy  string    `json:"sharedBy"`
	SharedTo  string    `json:"sharedTo"`
	SharedAt  time.Time `json:"sharedAt"`
	Approved  bool      `json:"approved"`
}

// AccessRequest is a user's request to be granted access to a secret.
// At most one pending request per (key, requestedBy) exists at a time.
type AccessRequest struct {
	Key         string    `json:"key"`
	RequestedBy string    `json:"requestedBy"`
	RequestedAt time.Time `json:"requestedAt"`
	Status      string    `json:"status"`
}

// SecretMeta is the per-key ledger entry. The secret value itself lives in
// the value store; only its fingerprint is recorded here.
type SecretMeta struct {
	Owner          string          `json:"owner"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ValueHash      string          `json:"valueHash"`
	SharedWith     []ShareGrant    `json:"sharedWith"`
	AccessRequests []AccessRequest `json:"accessRequests"`
}

// PendingRequest returns the single pending access request for the given
// user, or nil if none exists.
func (m *SecretMeta) PendingRequest(requestedBy string) *AccessRequest {
	for i := range m.AccessRequests {
		r := &m.AccessRequests[i]
		if r.RequestedBy == requestedBy && r.Status == StatusPending {
			return r
		}
	}
	return nil
}

// NamespaceMetadata is the whole ledger document for one namespace. It is
// the single source of truth for authorization and audit, and is always
// read-modify-written as a unit.
type NamespaceMetadata struct {
	Namespace string                 `json:"namespace"`
	Secrets   map[string]*SecretMeta `json:"secrets"`
}

// NewNamespaceMetadata returns an empty document for the namespace. A
// missing document in the store reads as this.
func NewNamespaceMetadata(namespace string) *NamespaceMetadata {
	return &NamespaceMetadata{
		Namespace: namespace,
		Secrets:   map[string]*SecretMeta{},
	}
}
