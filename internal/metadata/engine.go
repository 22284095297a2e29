// Package metadata implements the mutation engine for the per-namespace
// secret ledger. Every mutation is one read-modify-write cycle of the
// whole namespace document, retried on version conflicts.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oleksiyp/kubernetes-native-secrets/internal/policy"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/storage"
	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

// defaultMaxRetries bounds the compare-and-swap retry loop before the
// operation surfaces ErrConflict.
const defaultMaxRetries = 5

// errNoChange is returned by a mutator to signal that the document should
// not be written and no event emitted (the duplicate-request no-op).
var errNoChange = errors.New("no change")

// Publisher receives the full document after every successful mutation.
type Publisher interface {
	Broadcast(namespace string, meta *models.NamespaceMetadata)
}

// Engine orchestrates all metadata mutations against one storage backend.
type Engine struct {
	store      storage.Backend
	pub        Publisher
	maxRetries int
	now        func() time.Time
}

// NewEngine creates an Engine. pub may be nil when no live-update channel
// is wired (CLI tooling, tests).
func NewEngine(store storage.Backend, pub Publisher) *Engine {
	return &Engine{
		store:      store,
		pub:        pub,
		maxRetries: defaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Namespaces returns the namespaces eligible for secret management.
func (e *Engine) Namespaces(ctx context.Context) ([]string, error) {
	return e.store.ListNamespaces(ctx)
}

// GetMetadata returns the current metadata document for a namespace.
// A namespace with no document yet reads as an empty one.
func (e *Engine) GetMetadata(ctx context.Context, namespace string) (*models.NamespaceMetadata, error) {
	meta, _, err := e.store.ReadMetadata(ctx, namespace)
	return meta, err
}

// SecretView is one entry of a filtered listing. Value is nil and Metadata
// reduced to RestrictedMeta when the caller lacks access: the caller may
// see that a secret exists and who owns it, nothing more.
type SecretView struct {
	Value    *string `json:"value"`
	Metadata any     `json:"metadata"`
}

// RestrictedMeta is the metadata stub shown for inaccessible secrets.
type RestrictedMeta struct {
	Owner     string `json:"owner"`
	HasAccess bool   `json:"hasAccess"`
}

// ListSecrets returns every secret in the namespace with values filtered
// by the caller's access.
func (e *Engine) ListSecrets(ctx context.Context, namespace, caller string) (map[string]SecretView, *models.NamespaceMetadata, error) {
	values, err := e.store.ReadValues(ctx, namespace)
	if err != nil {
		return nil, nil, err
	}
	meta, _, err := e.store.ReadMetadata(ctx, namespace)
	if err != nil {
		return nil, nil, err
	}

	views := map[string]SecretView{}
	for key := range values {
		if policy.HasAccess(meta, key, caller) {
			value := values[key]
			views[key] = SecretView{Value: &value, Metadata: meta.Secrets[key]}
			continue
		}
		restricted := RestrictedMeta{HasAccess: false}
		if secret, ok := meta.Secrets[key]; ok {
			restricted.Owner = secret.Owner
		}
		views[key] = SecretView{Value: nil, Metadata: restricted}
	}
	return views, meta, nil
}

// UpsertSecret writes a secret value and updates its ledger entry. A new
// key makes the actor its owner; an existing key requires the actor to be
// the owner. The recomputed fingerprint implicitly revokes every prior
// grant when the value actually changed.
func (e *Engine) UpsertSecret(ctx context.Context, namespace, key, value, actor string) (*models.NamespaceMetadata, error) {
	if key == "" || value == "" {
		return nil, fmt.Errorf("%w: key and value are required", ErrInvalidInput)
	}

	// Authorization first, before anything touches the store.
	current, _, err := e.store.ReadMetadata(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if _, exists := current.Secrets[key]; exists && !policy.IsOwner(current, key, actor) {
		return nil, fmt.Errorf("%w: %s is not the owner of %s", ErrForbidden, actor, key)
	}

	// Value before metadata: a failed metadata write leaves the ledger
	// unchanged and the operation retriable.
	values, err := e.store.ReadValues(ctx, namespace)
	if err != nil {
		return nil, err
	}
	values[key] = value
	if err := e.store.WriteValues(ctx, namespace, values); err != nil {
		return nil, err
	}

	fingerprint := Fingerprint([]byte(value))
	meta, err := e.update(ctx, namespace, func(meta *models.NamespaceMetadata) error {
		secret, exists := meta.Secrets[key]
		if !exists {
			now := e.now()
			meta.Secrets[key] = &models.SecretMeta{
				Owner:          actor,
				CreatedAt:      now,
				UpdatedAt:      now,
				ValueHash:      fingerprint,
				SharedWith:     []models.ShareGrant{},
				AccessRequests: []models.AccessRequest{},
			}
			return nil
		}
		if secret.Owner != actor {
			return fmt.Errorf("%w: %s is not the owner of %s", ErrForbidden, actor, key)
		}
		secret.UpdatedAt = e.now()
		secret.ValueHash = fingerprint
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("namespace", namespace).Str("key", key).Str("actor", actor).Msg("secret upserted")
	return meta, nil
}

// DeleteSecret removes a secret's value and its ledger entry, including
// all share and request history. Owner only.
func (e *Engine) DeleteSecret(ctx context.Context, namespace, key, actor string) (*models.NamespaceMetadata, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}

	current, _, err := e.store.ReadMetadata(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if _, exists := current.Secrets[key]; !exists {
		return nil, fmt.Errorf("%w: secret %s", ErrNotFound, key)
	}
	if !policy.IsOwner(current, key, actor) {
		return nil, fmt.Errorf("%w: %s is not the owner of %s", ErrForbidden, actor, key)
	}

	values, err := e.store.ReadValues(ctx, namespace)
	if err != nil {
		return nil, err
	}
	delete(values, key)
	// An emptied bucket removes the backing object; zero keys is a valid
	// namespace state, not an error.
	if err := e.store.WriteValues(ctx, namespace, values); err != nil {
		return nil, err
	}

	meta, err := e.update(ctx, namespace, func(meta *models.NamespaceMetadata) error {
		if _, exists := meta.Secrets[key]; !exists {
			return errNoChange
		}
		delete(meta.Secrets, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("namespace", namespace).Str("key", key).Str("actor", actor).Msg("secret deleted")
	return meta, nil
}

// ShareSecret appends a grant for sharedTo, pinned to the secret's current
// fingerprint. sharedBy must currently have access.
func (e *Engine) ShareSecret(ctx context.Context, namespace, key, sharedBy, sharedTo string) (*models.NamespaceMetadata, error) {
	if key == "" || sharedTo == "" {
		return nil, fmt.Errorf("%w: key and sharedTo are required", ErrInvalidInput)
	}
	return e.update(ctx, namespace, func(meta *models.NamespaceMetadata) error {
		secret, exists := meta.Secrets[key]
		if !exists {
			return fmt.Errorf("%w: secret %s", ErrNotFound, key)
		}
		if !policy.HasAccess(meta, key, sharedBy) {
			return fmt.Errorf("%w: %s has no access to %s", ErrForbidden, sharedBy, key)
		}
		secret.SharedWith = append(secret.SharedWith, models.ShareGrant{
			Key:       key,
			ValueHash: secret.ValueHash,
			SharedBy:  sharedBy,
			SharedTo:  sharedTo,
			SharedAt:  e.now(),
			Approved:  true,
		})
		return nil
	})
}

// RequestAccess records a pending access request. A second request while
// one is already pending is a silent no-op: nothing is written and no
// event emitted.
func (e *Engine) RequestAccess(ctx context.Context, namespace, key, requestedBy string) (*models.NamespaceMetadata, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	return e.update(ctx, namespace, func(meta *models.NamespaceMetadata) error {
		secret, exists := meta.Secrets[key]
		if !exists {
			return fmt.Errorf("%w: secret %s", ErrNotFound, key)
		}
		if secret.PendingRequest(requestedBy) != nil {
			return errNoChange
		}
		secret.AccessRequests = append(secret.AccessRequests, models.AccessRequest{
			Key:         key,
			RequestedBy: requestedBy,
			RequestedAt: e.now(),
			Status:      models.StatusPending,
		})
		return nil
	})
}

// RespondToAccessRequest resolves the pending request for (key,
// requestedBy). The approver must currently have access. Approval appends
// a grant exactly as ShareSecret would, with sharedBy set to the approver.
func (e *Engine) RespondToAccessRequest(ctx context.Context, namespace, key, requestedBy string, approved bool, approver string) (*models.NamespaceMetadata, error) {
	if key == "" || requestedBy == "" {
		return nil, fmt.Errorf("%w: key and requestedBy are required", ErrInvalidInput)
	}
	return e.update(ctx, namespace, func(meta *models.NamespaceMetadata) error {
		secret, exists := meta.Secrets[key]
		if !exists {
			return fmt.Errorf("%w: secret %s", ErrNotFound, key)
		}
		if !policy.CanApprove(meta, key, approver) {
			return fmt.Errorf("%w: %s cannot approve requests for %s", ErrForbidden, approver, key)
		}
		request := secret.PendingRequest(requestedBy)
		if request == nil {
			return fmt.Errorf("%w: no pending request by %s for %s", ErrNotFound, requestedBy, key)
		}
		if approved {
			request.Status = models.StatusApproved
			secret.SharedWith = append(secret.SharedWith, models.ShareGrant{
				Key:       key,
				ValueHash: secret.ValueHash,
				SharedBy:  approver,
				SharedTo:  requestedBy,
				SharedAt:  e.now(),
				Approved:  true,
			})
		} else {
			request.Status = models.StatusDenied
		}
		return nil
	})
}

// ReassignOwner transfers ownership of key to newOwner. Only the current
// owner may reassign; no other field changes, so existing grants stay
// valid and the previous owner keeps access only through a matching grant.
func (e *Engine) ReassignOwner(ctx context.Context, namespace, key, newOwner, actor string) (*models.NamespaceMetadata, error) {
	if key == "" || newOwner == "" {
		return nil, fmt.Errorf("%w: key and newOwner are required", ErrInvalidInput)
	}
	return e.update(ctx, namespace, func(meta *models.NamespaceMetadata) error {
		secret, exists := meta.Secrets[key]
		if !exists {
			return fmt.Errorf("%w: secret %s", ErrNotFound, key)
		}
		if secret.Owner != actor {
			return fmt.Errorf("%w: %s is not the owner of %s", ErrForbidden, actor, key)
		}
		secret.Owner = newOwner
		return nil
	})
}

// update runs one mutation through the compare-and-swap cycle: read the
// document and its version token, apply the mutator, write back expecting
// the same token, and retry from a fresh read when a concurrent writer got
// there first.
func (e *Engine) update(ctx context.Context, namespace string, mutate func(*models.NamespaceMetadata) error) (*models.NamespaceMetadata, error) {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		meta, version, err := e.store.ReadMetadata(ctx, namespace)
		if err != nil {
			return nil, err
		}
		if err := mutate(meta); err != nil {
			if errors.Is(err, errNoChange) {
				return meta, nil
			}
			return nil, err
		}
		err = e.store.WriteMetadata(ctx, namespace, meta, version)
		if errors.Is(err, storage.ErrConflict) {
			log.Debug().Str("namespace", namespace).Int("attempt", attempt+1).Msg("metadata write conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.pub != nil {
			e.pub.Broadcast(namespace, meta)
		}
		return meta, nil
	}
	return nil, fmt.Errorf("%w: namespace %s: too many concurrent writers", ErrConflict, namespace)
}
