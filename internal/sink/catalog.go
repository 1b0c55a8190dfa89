package sink

import (
	"context"
	"time"

	"tickerflow/internal/archive"
	"tickerflow/internal/model/enum"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

// ArchivedObject is one row per object written by the archive worker.
type ArchivedObject struct {
	ID              uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ObjectKey       string    `gorm:"column:object_key;size:255;not null;index"`
	Source          string    `gorm:"column:source;size:16;not null;index:idx_archived_objects_source_time,priority:1"`
	Records         int       `gorm:"column:records;not null"`
	Bytes           int       `gorm:"column:bytes;not null"`
	FirstIngestedAt time.Time `gorm:"column:first_ingested_at;not null;index:idx_archived_objects_source_time,priority:2"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
}

func (ArchivedObject) TableName() string {
	return "archived_objects"
}

// Catalog records written objects in Postgres.
type Catalog struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db, now: time.Now}
}

// Migrate creates or updates the archived_objects table.
func (c *Catalog) Migrate(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(&ArchivedObject{}); err != nil {
		return errors.Wrap(err, "migrate archived_objects")
	}
	return nil
}

func (c *Catalog) Record(ctx context.Context, info archive.ObjectInfo) error {
	row := ArchivedObject{
		ObjectKey:       info.Key,
		Source:          info.Source.String(),
		Records:         info.Records,
		Bytes:           info.Bytes,
		FirstIngestedAt: info.FirstIngestedAt.UTC(),
		CreatedAt:       c.now().UTC(),
	}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "insert archived object").With("key", info.Key)
	}
	return nil
}

// Range returns the objects of source first ingested within [start, end].
func (c *Catalog) Range(ctx context.Context, source enum.Source, start, end time.Time) ([]ArchivedObject, error) {
	var rows []ArchivedObject
	err := c.db.WithContext(ctx).
		Where("source = ? AND first_ingested_at BETWEEN ? AND ?", source.String(), start.UTC(), end.UTC()).
		Order("first_ingested_at").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query archived objects").With("source", source.String())
	}
	return rows, nil
}
