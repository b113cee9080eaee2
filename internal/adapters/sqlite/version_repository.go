package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/asofdb/asof/internal/adapters/sqlite/gormsqlite"
	"github.com/asofdb/asof/internal/core/domain"
)

type versionModel struct {
	Seq               int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	Collection        string `gorm:"column:collection;not null"`
	ID                string `gorm:"column:id;not null"`
	Payload           string `gorm:"column:payload;not null"`
	AuthorizedReaders string `gorm:"column:authorized_readers;not null"`
	Tombstoned        bool   `gorm:"column:tombstoned;not null"`
	CreatedAt         int64  `gorm:"column:created_at;not null"`
}

func (versionModel) TableName() string {
	return "record_versions"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	Collection    string     `gorm:"column:collection;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

// VersionRepository persists the append-only version log. Every append also
// writes a change-feed outbox row in the same transaction, so the feed never
// desynchronizes from the log. CreatedAt is epoch millis and strictly
// increases per (collection, id): when the wall clock has not advanced past
// the entity's last version, the new version is stamped one milli later.
type VersionRepository struct {
	db *gormsqlite.DB
}

func NewVersionRepository(db *gormsqlite.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

func (r *VersionRepository) Append(ctx context.Context, version domain.Version) (domain.Version, error) {
	var result domain.Version
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		appended, err := appendVersion(tx, version)
		if err != nil {
			return err
		}
		result = appended
		return nil
	})
	if err != nil {
		return domain.Version{}, err
	}
	return result, nil
}

func (r *VersionRepository) AppendMany(ctx context.Context, versions []domain.Version) ([]domain.Version, error) {
	result := make([]domain.Version, 0, len(versions))
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		for _, version := range versions {
			appended, err := appendVersion(tx, version)
			if err != nil {
				return err
			}
			result = append(result, appended)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func appendVersion(tx *gormsqlite.Tx, version domain.Version) (domain.Version, error) {
	var lastCreated int64
	err := tx.Model(&versionModel{}).
		Where("collection = ? AND id = ?", version.Collection, version.ID).
		Select("COALESCE(MAX(created_at), 0)").
		Scan(&lastCreated).Error
	if err != nil {
		return domain.Version{}, fmt.Errorf("query last version: %w", err)
	}

	createdAt := version.CreatedAt.UnixMilli()
	if version.CreatedAt.IsZero() {
		createdAt = time.Now().UnixMilli()
	}
	if createdAt <= lastCreated {
		createdAt = lastCreated + 1
	}

	readers, err := json.Marshal(readerSet(version.AuthorizedReaders))
	if err != nil {
		return domain.Version{}, fmt.Errorf("marshal readers: %w", err)
	}

	model := versionModel{
		Collection:        version.Collection,
		ID:                version.ID,
		Payload:           string(version.Payload),
		AuthorizedReaders: string(readers),
		Tombstoned:        version.Tombstoned,
		CreatedAt:         createdAt,
	}
	if err := tx.Create(&model).Error; err != nil {
		return domain.Version{}, fmt.Errorf("insert version: %w", err)
	}

	if err := insertOutbox(tx, version, lastCreated, createdAt); err != nil {
		return domain.Version{}, err
	}

	version.CreatedAt = time.UnixMilli(createdAt)
	version.AuthorizedReaders = readerSet(version.AuthorizedReaders)
	return version, nil
}

func insertOutbox(tx *gormsqlite.Tx, version domain.Version, lastCreated, createdAt int64) error {
	eventType := domain.EventRecordCreated
	switch {
	case version.Tombstoned:
		eventType = domain.EventRecordDeleted
	case lastCreated > 0:
		eventType = domain.EventRecordUpdated
	}

	envelope := domain.EventEnvelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Collection: version.Collection,
		RecordID:   version.ID,
		OccurredAt: time.UnixMilli(createdAt).UTC(),
	}
	if !version.Tombstoned {
		envelope.Payload = version.Payload
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	row := outboxEventModel{
		EventID:       envelope.EventID,
		Collection:    version.Collection,
		Topic:         "records." + version.Collection + "." + eventType,
		PayloadJSON:   string(payload),
		Status:        "pending",
		NextAttemptAt: envelope.OccurredAt,
		CreatedAt:     envelope.OccurredAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *VersionRepository) LatestAsOf(ctx context.Context, collection, id string, at time.Time) (domain.Version, error) {
	var model versionModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("collection = ? AND id = ? AND created_at < ?", collection, id, at.UnixMilli()).
			Order("created_at DESC, seq DESC").
			First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Version{}, domain.ErrNotFound
		}
		return domain.Version{}, fmt.Errorf("read latest version: %w", err)
	}
	if model.Tombstoned {
		return domain.Version{}, domain.ErrNotFound
	}
	return toDomain(model)
}

// CurrentAsOf collapses the log to one current version per id at the given
// instant: for each id, the latest version (among those matching filter)
// created strictly before at, with tombstoned entities dropped. The match
// runs before the collapse, so an id qualifies through whichever of its
// versions matched.
func (r *VersionRepository) CurrentAsOf(ctx context.Context, collection string, filter domain.Filter, at time.Time) ([]domain.Version, error) {
	atMillis := at.UnixMilli()

	outer := "SELECT rv.* FROM record_versions rv WHERE rv.collection = ? AND rv.created_at < ?"
	inner := "SELECT rv2.seq FROM record_versions rv2 WHERE rv2.collection = rv.collection AND rv2.id = rv.id AND rv2.created_at < ?"
	args := []any{collection, atMillis}
	innerArgs := []any{atMillis}

	if !filter.IsZero() {
		if path := filter.PayloadPath(); path != "" {
			jsonPath := dotPathToJSONPath(path)
			outer += " AND CAST(json_extract(rv.payload, ?) AS TEXT) = ?"
			// Tombstones carry an empty payload and never match the filter
			// themselves, but they still compete in the collapse: a later
			// tombstone shadows the entity's last matching version.
			inner += " AND (CAST(json_extract(rv2.payload, ?) AS TEXT) = ? OR rv2.tombstoned = 1)"
			args = append(args, jsonPath, filter.Value)
			innerArgs = append(innerArgs, jsonPath, filter.Value)
		} else {
			outer += " AND rv.id = ?"
			inner += " AND rv2.id = ?"
			args = append(args, filter.Value)
			innerArgs = append(innerArgs, filter.Value)
		}
	}

	query := outer +
		" AND rv.seq = (" + inner + " ORDER BY rv2.created_at DESC, rv2.seq DESC LIMIT 1)" +
		" AND rv.tombstoned = 0 ORDER BY rv.created_at ASC"
	args = append(args, innerArgs...)

	var models []versionModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Raw(query, args...).Scan(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("read current versions: %w", err)
	}

	result := make([]domain.Version, 0, len(models))
	for _, model := range models {
		version, err := toDomain(model)
		if err != nil {
			return nil, err
		}
		result = append(result, version)
	}
	return result, nil
}

func toDomain(model versionModel) (domain.Version, error) {
	var readers []string
	if err := json.Unmarshal([]byte(model.AuthorizedReaders), &readers); err != nil {
		return domain.Version{}, fmt.Errorf("decode readers for %s/%s: %w", model.Collection, model.ID, err)
	}
	return domain.Version{
		Collection:        model.Collection,
		ID:                model.ID,
		Payload:           json.RawMessage(model.Payload),
		AuthorizedReaders: readers,
		Tombstoned:        model.Tombstoned,
		CreatedAt:         time.UnixMilli(model.CreatedAt),
	}, nil
}

func readerSet(readers []string) []string {
	if readers == nil {
		return []string{}
	}
	return readers
}

func dotPathToJSONPath(path string) string {
	jsonPath := "$"
	for _, seg := range strings.Split(path, ".") {
		jsonPath += "." + seg
	}
	return jsonPath
}
