// Package policy holds the pure access predicates consulted before every
// read of a secret value and every sharing decision. The predicates look
// only at the metadata document; they never touch the store.
package policy

import "github.com/oleksiyp/kubernetes-native-secrets/pkg/models"

// HasAccess reports whether user may read the value of key. The owner
// always has access; anyone else needs a share grant whose pinned
// fingerprint still matches the secret's current one. A grant pinned to a
// superseded fingerprint is stale: the value changed since the share, and
// access lapses until the secret is re-shared.
func HasAccess(meta *models.NamespaceMetadata, key, user string) bool {
	secret, ok := meta.Secrets[key]
	if !ok {
		return false
	}
	if secret.Owner == user {
		return true
	}
	for _, grant := range secret.SharedWith {
		if grant.SharedTo == user && grant.ValueHash == secret.ValueHash {
			return true
		}
	}
	return false
}

// CanApprove reports whether user may approve or deny access requests for
// key. Approval rights track access rights, not ownership: any current
// accessor can extend access further.
func CanApprove(meta *models.NamespaceMetadata, key, user string) bool {
	return HasAccess(meta, key, user)
}

// IsOwner reports whether user holds the owner-only rights on key
// (delete, reassign, rewrite).
func IsOwner(meta *models.NamespaceMetadata, key, user string) bool {
	secret, ok := meta.Secrets[key]
	return ok && secret.Owner == user
}
