package storage

import (
	"context"
	"errors"

	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-swap write loses against a
// concurrent writer. The caller re-reads and retries.
var ErrConflict = errors.New("conflict")

// ErrUnavailable is returned when the underlying store cannot be reached
// or the call deadline expires. Retriable; no partial state was written.
var ErrUnavailable = errors.New("store unavailable")

// Backend is the persistence interface for the secrets service: the value
// buckets, the per-namespace metadata ledger, and change observation.
type Backend interface {
	// ListNamespaces returns the namespaces eligible for secret management.
	ListNamespaces(ctx context.Context) ([]string, error)

	// ReadValues returns the decoded value bucket for a namespace.
	// A missing bucket reads as an empty map, not an error.
	ReadValues(ctx context.Context, namespace string) (map[string]string, error)

	// WriteValues replaces the namespace's value bucket as a whole.
	// An empty map removes the backing object entirely.
	WriteValues(ctx context.Context, namespace string, values map[string]string) error

	// ReadMetadata returns the namespace's metadata document together with
	// the store's version token. A missing document reads as an empty
	// document with an empty token.
	ReadMetadata(ctx context.Context, namespace string) (*models.NamespaceMetadata, string, error)

	// WriteMetadata persists the document only if the stored version still
	// matches expectedVersion, returning ErrConflict otherwise. An empty
	// expectedVersion asserts the document does not exist yet.
	WriteMetadata(ctx context.Context, namespace string, meta *models.NamespaceMetadata, expectedVersion string) error

	// WatchMetadata delivers every observed metadata document change on
	// events, including changes made by other processes. It blocks until
	// ctx is done or the underlying stream fails, and returns the reason.
	WatchMetadata(ctx context.Context, events chan<- models.MetadataEvent) error

	Close()
}
