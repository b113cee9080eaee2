package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/asofdb/asof/internal/core/domain"
)

// memoryVersionRepo implements ports.VersionRepository for store-level tests.
// The sqlite adapter has its own tests against a real database.
type memoryVersionRepo struct {
	versions []domain.Version
	clock    time.Time
}

func newMemoryVersionRepo() *memoryVersionRepo {
	return &memoryVersionRepo{clock: time.UnixMilli(1_000_000)}
}

func (r *memoryVersionRepo) Append(_ context.Context, v domain.Version) (domain.Version, error) {
	r.clock = r.clock.Add(time.Millisecond)
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.clock
	}
	r.versions = append(r.versions, v)
	return v, nil
}

func (r *memoryVersionRepo) AppendMany(ctx context.Context, vs []domain.Version) ([]domain.Version, error) {
	out := make([]domain.Version, 0, len(vs))
	for _, v := range vs {
		appended, err := r.Append(ctx, v)
		if err != nil {
			return nil, err
		}
		out = append(out, appended)
	}
	return out, nil
}

func (r *memoryVersionRepo) LatestAsOf(_ context.Context, collection, id string, at time.Time) (domain.Version, error) {
	var current *domain.Version
	for i := range r.versions {
		v := r.versions[i]
		if v.Collection != collection || v.ID != id || !v.CreatedAt.Before(at) {
			continue
		}
		if current == nil || v.CreatedAt.After(current.CreatedAt) {
			current = &r.versions[i]
		}
	}
	if current == nil || current.Tombstoned {
		return domain.Version{}, domain.ErrNotFound
	}
	return *current, nil
}

func (r *memoryVersionRepo) CurrentAsOf(ctx context.Context, collection string, filter domain.Filter, at time.Time) ([]domain.Version, error) {
	seen := map[string]bool{}
	var out []domain.Version
	for _, v := range r.versions {
		if v.Collection != collection || seen[v.ID] {
			continue
		}
		if !filter.IsZero() && !matches(v, filter) {
			continue
		}
		seen[v.ID] = true
		current, err := r.LatestAsOf(ctx, collection, v.ID, at)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, current)
	}
	return out, nil
}

func matches(v domain.Version, f domain.Filter) bool {
	if f.Field == "id" {
		return v.ID == f.Value
	}
	var payload map[string]any
	if err := json.Unmarshal(v.Payload, &payload); err != nil {
		return false
	}
	return fmt.Sprintf("%v", payload[f.PayloadPath()]) == f.Value
}

func passAll(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(nil)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return v
}

func coopValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(json.RawMessage(coopSchema))
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return v
}

func TestCreateStampsReadersFromCaller(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVersionRepo()
	store := NewRecordStore(repo, "coops", passAll(t))

	id, err := store.Create(ctx, json.RawMessage(`{"name":"red"}`), domain.Subscriber("alice", ""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(repo.versions) != 1 {
		t.Fatalf("expected one version, got %d", len(repo.versions))
	}
	v := repo.versions[0]
	if v.ID != id || len(v.AuthorizedReaders) != 1 || v.AuthorizedReaders[0] != "alice" {
		t.Fatalf("unexpected version: %+v", v)
	}

	if _, err := store.Create(ctx, json.RawMessage(`{"name":"pub"}`), domain.Internal()); err != nil {
		t.Fatalf("create public: %v", err)
	}
	if readers := repo.versions[1].AuthorizedReaders; len(readers) != 0 {
		t.Fatalf("internal create should be public, got readers %v", readers)
	}
}

func TestCreateRejectsSchemaViolation(t *testing.T) {
	store := NewRecordStore(newMemoryVersionRepo(), "coops", coopValidator(t))

	_, err := store.Create(context.Background(), json.RawMessage(`{"farm_id":"f1"}`), domain.Internal())
	var violation *domain.ErrSchemaViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestCreateManyPartitionsAcceptedAndRejected(t *testing.T) {
	store := NewRecordStore(newMemoryVersionRepo(), "coops", coopValidator(t))

	payloads := []json.RawMessage{
		json.RawMessage(`{"name":"red"}`),
		json.RawMessage(`{"farm_id":"no-name"}`),
		json.RawMessage(`{"name":"yellow"}`),
		json.RawMessage(`{"name":3}`),
	}
	result, err := store.CreateMany(context.Background(), payloads, domain.Internal())
	if err != nil {
		t.Fatalf("create many: %v", err)
	}
	if len(result.Accepted) != 2 {
		t.Fatalf("expected 2 accepted, got %d", len(result.Accepted))
	}
	if len(result.Rejected) != 2 {
		t.Fatalf("expected 2 rejected, got %d", len(result.Rejected))
	}
	if result.Accepted[0] == result.Accepted[1] {
		t.Fatalf("accepted ids must be distinct")
	}
}

func TestTimeTravelReads(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVersionRepo()
	store := NewRecordStore(repo, "coops", passAll(t))

	id, err := store.Create(ctx, json.RawMessage(`{"name":"red"}`), domain.Internal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t0 := repo.versions[0].CreatedAt

	if _, err := store.Update(ctx, id, json.RawMessage(`{"name":"purple"}`), domain.Internal()); err != nil {
		t.Fatalf("update: %v", err)
	}
	t1 := repo.versions[1].CreatedAt

	// Before the first version: not found.
	if _, err := store.ReadLatestAsOf(ctx, id, t0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("read at t0 should be not-found (strict <), got %v", err)
	}

	// Between versions: v1.
	v, err := store.ReadLatestAsOf(ctx, id, t1)
	if err != nil {
		t.Fatalf("read between versions: %v", err)
	}
	if string(v.Payload) != `{"name":"red"}` {
		t.Fatalf("expected red, got %s", v.Payload)
	}

	// After the second version: v2.
	v, err = store.ReadLatestAsOf(ctx, id, t1.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("read after update: %v", err)
	}
	if string(v.Payload) != `{"name":"purple"}` {
		t.Fatalf("expected purple, got %s", v.Payload)
	}
}

func TestRemoveIsTimestamped(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVersionRepo()
	store := NewRecordStore(repo, "coops", passAll(t))

	id, err := store.Create(ctx, json.RawMessage(`{"name":"red"}`), domain.Internal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	tombstoneAt := repo.versions[1].CreatedAt

	// Before the tombstone the prior version is still visible.
	if _, err := store.ReadLatestAsOf(ctx, id, tombstoneAt); err != nil {
		t.Fatalf("read before tombstone: %v", err)
	}
	// At or after the tombstone the entity is gone.
	if _, err := store.ReadLatestAsOf(ctx, id, tombstoneAt.Add(time.Millisecond)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("read after tombstone: expected not-found, got %v", err)
	}

	if err := store.Remove(ctx, "missing-id"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("remove missing: expected not-found, got %v", err)
	}
}

func TestRemoveManySkipsMissing(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVersionRepo()
	store := NewRecordStore(repo, "coops", passAll(t))

	id, err := store.Create(ctx, json.RawMessage(`{"name":"red"}`), domain.Internal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := store.RemoveMany(ctx, []string{id, "nope"})
	if err != nil {
		t.Fatalf("remove many: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != id {
		t.Fatalf("expected only %s deleted, got %v", id, deleted)
	}
}

func TestUpdateMissingEntity(t *testing.T) {
	store := NewRecordStore(newMemoryVersionRepo(), "coops", passAll(t))

	_, err := store.Update(context.Background(), "ghost", json.RawMessage(`{"name":"x"}`), domain.Internal())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestListFiltersVisibility(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVersionRepo()
	store := NewRecordStore(repo, "coops", passAll(t))

	if _, err := store.Create(ctx, json.RawMessage(`{"name":"mine"}`), domain.Subscriber("alice", "")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, json.RawMessage(`{"name":"public"}`), domain.Internal()); err != nil {
		t.Fatalf("create: %v", err)
	}

	asBob, err := store.List(ctx, domain.Subscriber("bob", ""), time.Time{})
	if err != nil {
		t.Fatalf("list as bob: %v", err)
	}
	if len(asBob) != 1 || string(asBob[0].Payload) != `{"name":"public"}` {
		t.Fatalf("bob should only see the public record, got %d", len(asBob))
	}

	asAlice, err := store.List(ctx, domain.Subscriber("alice", ""), time.Time{})
	if err != nil {
		t.Fatalf("list as alice: %v", err)
	}
	if len(asAlice) != 2 {
		t.Fatalf("alice should see both records, got %d", len(asAlice))
	}

	internal, err := store.List(ctx, domain.Internal(), time.Time{})
	if err != nil {
		t.Fatalf("list internal: %v", err)
	}
	if len(internal) != 2 {
		t.Fatalf("internal should see everything, got %d", len(internal))
	}
}

func TestIdempotentReadAtFixedInstant(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVersionRepo()
	store := NewRecordStore(repo, "coops", passAll(t))

	id, err := store.Create(ctx, json.RawMessage(`{"name":"red"}`), domain.Internal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	at := repo.versions[0].CreatedAt.Add(time.Millisecond)

	first, err := store.ReadLatestAsOf(ctx, id, at)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := store.ReadLatestAsOf(ctx, id, at)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if string(first.Payload) != string(second.Payload) || !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("reads at a fixed instant must be identical")
	}
}
