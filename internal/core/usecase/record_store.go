package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asofdb/asof/internal/core/domain"
	"github.com/asofdb/asof/internal/core/ports"
)

// RecordStore exposes one collection's version log. Writes append; they never
// mutate history. Reads are bitemporal: every read takes a reference instant
// and observes the collection as it stood then. A zero instant means "now",
// resolved once per call.
type RecordStore struct {
	repo       ports.VersionRepository
	collection string
	validator  ports.PayloadValidator
	now        func() time.Time
}

func NewRecordStore(repo ports.VersionRepository, collection string, validator ports.PayloadValidator) *RecordStore {
	return &RecordStore{repo: repo, collection: collection, validator: validator, now: time.Now}
}

func (s *RecordStore) Collection() string {
	return s.collection
}

// Create validates payload, stamps the caller's reader set, and appends the
// entity's first version. Returns the new logical id.
func (s *RecordStore) Create(ctx context.Context, payload json.RawMessage, caller domain.Caller) (string, error) {
	if err := s.validator.Validate(payload); err != nil {
		return "", err
	}

	version, err := s.repo.Append(ctx, domain.Version{
		Collection:        s.collection,
		ID:                uuid.NewString(),
		Payload:           payload,
		AuthorizedReaders: caller.Readers(),
	})
	if err != nil {
		return "", fmt.Errorf("append version: %w", err)
	}
	return version.ID, nil
}

type BulkCreateResult struct {
	Accepted []string
	Rejected []json.RawMessage
}

// CreateMany validates each payload independently and never fails the batch
// for one bad payload: valid payloads are appended, invalid ones come back in
// Rejected.
func (s *RecordStore) CreateMany(ctx context.Context, payloads []json.RawMessage, caller domain.Caller) (BulkCreateResult, error) {
	result := BulkCreateResult{Accepted: []string{}, Rejected: []json.RawMessage{}}
	good := make([]domain.Version, 0, len(payloads))

	readers := caller.Readers()
	for _, payload := range payloads {
		if err := s.validator.Validate(payload); err != nil {
			result.Rejected = append(result.Rejected, payload)
			continue
		}
		good = append(good, domain.Version{
			Collection:        s.collection,
			ID:                uuid.NewString(),
			Payload:           payload,
			AuthorizedReaders: readers,
		})
	}

	appended, err := s.repo.AppendMany(ctx, good)
	if err != nil {
		return BulkCreateResult{}, fmt.Errorf("append versions: %w", err)
	}
	for _, v := range appended {
		result.Accepted = append(result.Accepted, v.ID)
	}
	return result, nil
}

// ReadLatestAsOf returns id's current version at the reference instant: the
// greatest CreatedAt strictly before it. domain.ErrNotFound when the entity
// did not exist yet, or was tombstoned at or before the instant.
func (s *RecordStore) ReadLatestAsOf(ctx context.Context, id string, at time.Time) (domain.Version, error) {
	if err := domain.ValidateID(id); err != nil {
		return domain.Version{}, err
	}
	return s.repo.LatestAsOf(ctx, s.collection, id, s.resolve(at))
}

// ReadManyAsOf collapses all versions matching filter to one current version
// per id at the reference instant. Tombstoned entities are absent.
func (s *RecordStore) ReadManyAsOf(ctx context.Context, filter domain.Filter, at time.Time) ([]domain.Version, error) {
	return s.repo.CurrentAsOf(ctx, s.collection, filter, s.resolve(at))
}

// Update appends a replacement version for id. The payload replaces the prior
// one whole; there is no partial merge. domain.ErrNotFound when the entity has
// no live current version.
func (s *RecordStore) Update(ctx context.Context, id string, payload json.RawMessage, caller domain.Caller) (domain.Version, error) {
	if err := domain.ValidateID(id); err != nil {
		return domain.Version{}, err
	}
	if _, err := s.repo.LatestAsOf(ctx, s.collection, id, s.now()); err != nil {
		return domain.Version{}, err
	}
	if err := s.validator.Validate(payload); err != nil {
		return domain.Version{}, err
	}

	version, err := s.repo.Append(ctx, domain.Version{
		Collection:        s.collection,
		ID:                id,
		Payload:           payload,
		AuthorizedReaders: caller.Readers(),
	})
	if err != nil {
		return domain.Version{}, fmt.Errorf("append version: %w", err)
	}
	return version, nil
}

// Remove appends a tombstone version stamped with its own CreatedAt. Deletion
// is itself a timestamped event: reads before the tombstone's instant still
// see the prior live version, reads at or after it see nothing.
func (s *RecordStore) Remove(ctx context.Context, id string) error {
	if err := domain.ValidateID(id); err != nil {
		return err
	}
	if _, err := s.repo.LatestAsOf(ctx, s.collection, id, s.now()); err != nil {
		return err
	}

	_, err := s.repo.Append(ctx, domain.Version{
		Collection: s.collection,
		ID:         id,
		Payload:    json.RawMessage(`{}`),
		Tombstoned: true,
	})
	if err != nil {
		return fmt.Errorf("append tombstone: %w", err)
	}
	return nil
}

// RemoveMany tombstones each id independently and returns the ids that were
// live. Missing ids are skipped, not errors.
func (s *RecordStore) RemoveMany(ctx context.Context, ids []string) ([]string, error) {
	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		err := s.Remove(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// List returns every entity's current version at the reference instant,
// filtered to those visible to caller.
func (s *RecordStore) List(ctx context.Context, caller domain.Caller, at time.Time) ([]domain.Version, error) {
	versions, err := s.repo.CurrentAsOf(ctx, s.collection, domain.Filter{}, s.resolve(at))
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Version, 0, len(versions))
	for _, v := range versions {
		if v.VisibleTo(caller) {
			visible = append(visible, v)
		}
	}
	return visible, nil
}

func (s *RecordStore) resolve(at time.Time) time.Time {
	if at.IsZero() {
		return s.now()
	}
	return at
}
