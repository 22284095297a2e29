package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/oleksiyp/kubernetes-native-secrets/internal/policy"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/storage"
	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

const (
	ns    = "team-a"
	alice = "alice@x.com"
	bob   = "bob@x.com"
	carol = "carol@x.com"
)

func newTestEngine() (*Engine, *storage.MemoryBackend) {
	store := storage.NewMemoryBackend(ns)
	return NewEngine(store, nil), store
}

func TestUpsertCreatesOwnedSecret(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	meta, err := eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	secret := meta.Secrets["DB_PASS"]
	if secret == nil {
		t.Fatal("expected DB_PASS entry in metadata")
	}
	if secret.Owner != alice {
		t.Errorf("expected owner %s, got %s", alice, secret.Owner)
	}
	if secret.CreatedAt != secret.UpdatedAt {
		t.Error("createdAt and updatedAt should match on first write")
	}
	if secret.ValueHash != Fingerprint([]byte("s3cr3t")) {
		t.Error("fingerprint should match the stored value")
	}
	if !policy.HasAccess(meta, "DB_PASS", alice) {
		t.Error("owner must always have access")
	}
}

func TestUpsertByNonOwnerForbidden(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	if _, err := eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_, err := eng.UpsertSecret(ctx, ns, "DB_PASS", "evil", bob)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	// The value must be untouched by the rejected write.
	views, _, err := eng.ListSecrets(ctx, ns, alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if v := views["DB_PASS"].Value; v == nil || *v != "s3cr3t" {
		t.Errorf("expected value s3cr3t, got %v", v)
	}
}

func TestUpsertMissingFields(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	if _, err := eng.UpsertSecret(ctx, ns, "", "v", alice); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty key: expected ErrInvalidInput, got %v", err)
	}
	if _, err := eng.UpsertSecret(ctx, ns, "K", "", alice); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty value: expected ErrInvalidInput, got %v", err)
	}
}

func TestFingerprintRevocation(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	if _, err := eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	meta, err := eng.ShareSecret(ctx, ns, "DB_PASS", alice, bob)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if !policy.HasAccess(meta, "DB_PASS", bob) {
		t.Fatal("bob should have access after share")
	}

	meta, err = eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t2", alice)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if policy.HasAccess(meta, "DB_PASS", bob) {
		t.Error("value change must revoke bob's access")
	}
	if len(meta.Secrets["DB_PASS"].SharedWith) != 1 {
		t.Error("stale grant must stay in history")
	}
	for _, grant := range meta.Secrets["DB_PASS"].SharedWith {
		if grant.ValueHash == meta.Secrets["DB_PASS"].ValueHash {
			t.Error("every pre-existing grant must carry a superseded fingerprint")
		}
	}
}

func TestIdenticalRewriteKeepsGrants(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck
	eng.ShareSecret(ctx, ns, "DB_PASS", alice, bob)       //nolint:errcheck

	meta, err := eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !policy.HasAccess(meta, "DB_PASS", bob) {
		t.Error("rewriting the identical value must not revoke grants")
	}
}

func TestShareRequiresAccess(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck

	if _, err := eng.ShareSecret(ctx, ns, "DB_PASS", bob, carol); !errors.Is(err, ErrForbidden) {
		t.Errorf("share without access: expected ErrForbidden, got %v", err)
	}

	// A grantee with a valid grant may share onward.
	if _, err := eng.ShareSecret(ctx, ns, "DB_PASS", alice, bob); err != nil {
		t.Fatalf("share: %v", err)
	}
	meta, err := eng.ShareSecret(ctx, ns, "DB_PASS", bob, carol)
	if err != nil {
		t.Fatalf("onward share: %v", err)
	}
	if !policy.HasAccess(meta, "DB_PASS", carol) {
		t.Error("carol should have access after onward share")
	}
}

func TestShareMissingSecret(t *testing.T) {
	eng, _ := newTestEngine()
	if _, err := eng.ShareSecret(context.Background(), ns, "NOPE", alice, bob); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestAccessIdempotent(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck

	if _, err := eng.RequestAccess(ctx, ns, "DB_PASS", bob); err != nil {
		t.Fatalf("request: %v", err)
	}
	meta, err := eng.RequestAccess(ctx, ns, "DB_PASS", bob)
	if err != nil {
		t.Fatalf("duplicate request: %v", err)
	}

	pending := 0
	for _, r := range meta.Secrets["DB_PASS"].AccessRequests {
		if r.Status == models.StatusPending {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("expected exactly one pending request, got %d", pending)
	}
}

func TestApprovalGrantsAccess(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck
	eng.RequestAccess(ctx, ns, "DB_PASS", bob)            //nolint:errcheck

	meta, err := eng.RespondToAccessRequest(ctx, ns, "DB_PASS", bob, true, alice)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !policy.HasAccess(meta, "DB_PASS", bob) {
		t.Error("approval must grant access immediately")
	}
	if meta.Secrets["DB_PASS"].AccessRequests[0].Status != models.StatusApproved {
		t.Error("request status should be approved")
	}
	if got := meta.Secrets["DB_PASS"].SharedWith[0].SharedBy; got != alice {
		t.Errorf("grant should record the approver, got %s", got)
	}

	// A new request after resolution is allowed again.
	meta, err = eng.RequestAccess(ctx, ns, "DB_PASS", bob)
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if len(meta.Secrets["DB_PASS"].AccessRequests) != 2 {
		t.Error("resolved request should not block a new one")
	}
}

func TestDenyLeavesNoAccess(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck
	eng.RequestAccess(ctx, ns, "DB_PASS", bob)            //nolint:errcheck

	meta, err := eng.RespondToAccessRequest(ctx, ns, "DB_PASS", bob, false, alice)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if policy.HasAccess(meta, "DB_PASS", bob) {
		t.Error("denied request must not grant access")
	}
	if meta.Secrets["DB_PASS"].AccessRequests[0].Status != models.StatusDenied {
		t.Error("request status should be denied")
	}
}

func TestRespondWithoutPendingRequest(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck

	if _, err := eng.RespondToAccessRequest(ctx, ns, "DB_PASS", bob, true, alice); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing pending request, got %v", err)
	}
}

func TestRespondRequiresApprovalRight(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck
	eng.RequestAccess(ctx, ns, "DB_PASS", bob)            //nolint:errcheck

	if _, err := eng.RespondToAccessRequest(ctx, ns, "DB_PASS", bob, true, carol); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestReassignOwner(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck
	eng.ShareSecret(ctx, ns, "DB_PASS", alice, bob)       //nolint:errcheck

	if _, err := eng.ReassignOwner(ctx, ns, "DB_PASS", bob, carol); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-owner reassign: expected ErrForbidden, got %v", err)
	}

	meta, err := eng.ReassignOwner(ctx, ns, "DB_PASS", bob, alice)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if meta.Secrets["DB_PASS"].Owner != bob {
		t.Errorf("expected owner %s, got %s", bob, meta.Secrets["DB_PASS"].Owner)
	}
	// Grants untouched: the fingerprint did not change.
	if len(meta.Secrets["DB_PASS"].SharedWith) != 1 {
		t.Error("reassign must not touch grants")
	}
	// The old owner lost owner-only rights.
	if _, err := eng.DeleteSecret(ctx, ns, "DB_PASS", alice); !errors.Is(err, ErrForbidden) {
		t.Errorf("old owner delete: expected ErrForbidden, got %v", err)
	}
}

func TestDeleteSecret(t *testing.T) {
	eng, store := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck

	if _, err := eng.DeleteSecret(ctx, ns, "DB_PASS", bob); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-owner delete: expected ErrForbidden, got %v", err)
	}
	if _, err := eng.DeleteSecret(ctx, ns, "NOPE", alice); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing delete: expected ErrNotFound, got %v", err)
	}

	meta, err := eng.DeleteSecret(ctx, ns, "DB_PASS", alice)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, exists := meta.Secrets["DB_PASS"]; exists {
		t.Error("metadata entry should be gone")
	}
	values, err := store.ReadValues(ctx, ns)
	if err != nil {
		t.Fatalf("read values: %v", err)
	}
	if len(values) != 0 {
		t.Error("value bucket should be empty after last delete")
	}
}

// conflictingStore forces the first n metadata writes to fail with a
// version conflict, simulating a concurrent writer.
type conflictingStore struct {
	storage.Backend
	remaining int
}

func (c *conflictingStore) WriteMetadata(ctx context.Context, namespace string, meta *models.NamespaceMetadata, expectedVersion string) error {
	if c.remaining > 0 {
		c.remaining--
		return storage.ErrConflict
	}
	return c.Backend.WriteMetadata(ctx, namespace, meta, expectedVersion)
}

func TestConflictRetry(t *testing.T) {
	store := &conflictingStore{Backend: storage.NewMemoryBackend(ns), remaining: 2}
	eng := NewEngine(store, nil)
	ctx := context.Background()

	if _, err := eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice); err != nil {
		t.Fatalf("upsert should succeed within the retry budget: %v", err)
	}
}

func TestConflictExhaustion(t *testing.T) {
	store := &conflictingStore{Backend: storage.NewMemoryBackend(ns), remaining: 100}
	eng := NewEngine(store, nil)

	_, err := eng.UpsertSecret(context.Background(), ns, "DB_PASS", "s3cr3t", alice)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict after retry exhaustion, got %v", err)
	}
}

// The scenario from the design discussion: request, approve, then a value
// change lapses the approved access.
func TestApprovedAccessLapsesOnUpdate(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck
	eng.RequestAccess(ctx, ns, "DB_PASS", bob)            //nolint:errcheck

	meta, err := eng.RespondToAccessRequest(ctx, ns, "DB_PASS", bob, true, alice)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !policy.HasAccess(meta, "DB_PASS", bob) {
		t.Fatal("bob should have access after approval")
	}

	meta, err = eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t2", alice)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if policy.HasAccess(meta, "DB_PASS", bob) {
		t.Error("bob's access should lapse after the value change")
	}
	if len(meta.Secrets["DB_PASS"].SharedWith) != 1 {
		t.Error("the approved grant should remain in history")
	}
}

func TestListSecretsFiltersByAccess(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice)  //nolint:errcheck
	eng.UpsertSecret(ctx, ns, "API_KEY", "abcd1234", alice) //nolint:errcheck
	eng.ShareSecret(ctx, ns, "DB_PASS", alice, bob)         //nolint:errcheck

	views, _, err := eng.ListSecrets(ctx, ns, bob)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if v := views["DB_PASS"].Value; v == nil || *v != "s3cr3t" {
		t.Errorf("bob should see DB_PASS value, got %v", v)
	}
	if views["API_KEY"].Value != nil {
		t.Error("bob should not see API_KEY value")
	}
	restricted, ok := views["API_KEY"].Metadata.(RestrictedMeta)
	if !ok {
		t.Fatalf("expected restricted metadata stub, got %T", views["API_KEY"].Metadata)
	}
	if restricted.Owner != alice || restricted.HasAccess {
		t.Errorf("unexpected restricted stub: %+v", restricted)
	}
}

// recordingPublisher captures broadcast calls.
type recordingPublisher struct {
	events []models.MetadataEvent
}

func (p *recordingPublisher) Broadcast(namespace string, meta *models.NamespaceMetadata) {
	p.events = append(p.events, models.MetadataEvent{Namespace: namespace, Metadata: meta})
}

func TestMutationsPublish(t *testing.T) {
	pub := &recordingPublisher{}
	eng := NewEngine(storage.NewMemoryBackend(ns), pub)
	ctx := context.Background()

	eng.UpsertSecret(ctx, ns, "DB_PASS", "s3cr3t", alice) //nolint:errcheck
	eng.RequestAccess(ctx, ns, "DB_PASS", bob)            //nolint:errcheck
	eng.RequestAccess(ctx, ns, "DB_PASS", bob)            //nolint:errcheck  (duplicate: no event)

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events (duplicate request is silent), got %d", len(pub.events))
	}
	if pub.events[0].Namespace != ns {
		t.Errorf("unexpected event namespace %s", pub.events[0].Namespace)
	}
}
