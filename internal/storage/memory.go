package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

// MemoryBackend is an in-process Backend for tests and local development.
// It applies the same compare-and-swap semantics as the durable backends.
type MemoryBackend struct {
	mu         sync.Mutex
	namespaces []string
	values     map[string]map[string]string
	docs       map[string][]byte // serialized NamespaceMetadata
	versions   map[string]int64
	watchers   map[chan models.MetadataEvent]struct{}
}

// NewMemoryBackend creates a MemoryBackend with the given eligible
// namespaces.
func NewMemoryBackend(namespaces ...string) *MemoryBackend {
	return &MemoryBackend{
		namespaces: namespaces,
		values:     map[string]map[string]string{},
		docs:       map[string][]byte{},
		versions:   map[string]int64{},
		watchers:   map[chan models.MetadataEvent]struct{}{},
	}
}

func (m *MemoryBackend) ListNamespaces(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.namespaces))
	copy(out, m.namespaces)
	sort.Strings(out)
	return out, nil
}

func (m *MemoryBackend) ReadValues(ctx context.Context, namespace string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.values[namespace] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryBackend) WriteValues(ctx context.Context, namespace string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(values) == 0 {
		delete(m.values, namespace)
		return nil
	}
	bucket := map[string]string{}
	for k, v := range values {
		bucket[k] = v
	}
	m.values[namespace] = bucket
	return nil
}

func (m *MemoryBackend) ReadMetadata(ctx context.Context, namespace string) (*models.NamespaceMetadata, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[namespace]
	if !ok {
		return models.NewNamespaceMetadata(namespace), "", nil
	}
	meta, err := decodeDocument(raw, namespace)
	if err != nil {
		return nil, "", err
	}
	return meta, strconv.FormatInt(m.versions[namespace], 10), nil
}

func (m *MemoryBackend) WriteMetadata(ctx context.Context, namespace string, meta *models.NamespaceMetadata, expectedVersion string) error {
	raw, err := EncodeDocument(meta)
	if err != nil {
		return err
	}

	m.mu.Lock()
	_, exists := m.docs[namespace]
	if exists {
		if expectedVersion != strconv.FormatInt(m.versions[namespace], 10) {
			m.mu.Unlock()
			return ErrConflict
		}
	} else if expectedVersion != "" {
		m.mu.Unlock()
		return ErrConflict
	}
	m.docs[namespace] = raw
	m.versions[namespace]++
	watchers := make([]chan models.MetadataEvent, 0, len(m.watchers))
	for ch := range m.watchers {
		watchers = append(watchers, ch)
	}
	m.mu.Unlock()

	// Notify outside the lock; decode a fresh copy per watcher so
	// subscribers never alias the writer's document.
	for _, ch := range watchers {
		copied, err := decodeDocument(raw, namespace)
		if err != nil {
			continue
		}
		select {
		case ch <- models.MetadataEvent{Namespace: namespace, Metadata: copied}:
		default:
		}
	}
	return nil
}

func (m *MemoryBackend) WatchMetadata(ctx context.Context, events chan<- models.MetadataEvent) error {
	ch := make(chan models.MetadataEvent, 64)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.watchers, ch)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (m *MemoryBackend) Close() {}

// EncodeDocument serializes a metadata document the way it is stored:
// indented JSON, so the ConfigMap stays readable under kubectl.
func EncodeDocument(meta *models.NamespaceMetadata) ([]byte, error) {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata document: %w", err)
	}
	return raw, nil
}

func decodeDocument(raw []byte, namespace string) (*models.NamespaceMetadata, error) {
	meta := models.NewNamespaceMetadata(namespace)
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("decoding metadata document for %s: %w", namespace, err)
	}
	if meta.Secrets == nil {
		meta.Secrets = map[string]*models.SecretMeta{}
	}
	return meta, nil
}
