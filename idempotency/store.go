package idempotency

import (
	"context"
	"time"

	"workshop/persistence"

	"github.com/jinzhu/gorm"
	"github.com/patrickmn/go-cache"
)

type Marker struct {
	Name        string    `gorm:"primary_key;size:255"`
	Key         string    `gorm:"size:255;not null"`
	Fingerprint string    `gorm:"size:64"`
	// JSON of the request the key was issued for
	Payload     string    `gorm:"type:text"`
	CreatedAt   time.Time `sql:"type:DATETIME(6)"`
}

func (m *Marker) TableName() string {
	return "idempotency_markers"
}

// MarkerStore is the durable storage of pending keys. Get returns nil without error when absent.
type MarkerStore interface {
	Get(ctx context.Context, name string) (*Marker, error)
	Put(ctx context.Context, marker *Marker) error
	Delete(ctx context.Context, name string) error
	Purge(ctx context.Context, before time.Time) (int64, error)
}

type GormMarkerStore struct {
	ds *persistence.DataSourceManager
}

func NewGormMarkerStore(ds *persistence.DataSourceManager) *GormMarkerStore {
	return &GormMarkerStore{ds: ds}
}

func (s *GormMarkerStore) Migrate() error {
	return s.ds.GormDB(context.Background()).AutoMigrate(&Marker{}).Error
}

func (s *GormMarkerStore) Get(ctx context.Context, name string) (*Marker, error) {
	marker := Marker{}
	err := s.ds.GormDB(ctx).Where(&Marker{Name: name}).First(&marker).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

func (s *GormMarkerStore) Put(ctx context.Context, marker *Marker) error {
	return s.ds.GormDB(ctx).Save(marker).Error
}

func (s *GormMarkerStore) Delete(ctx context.Context, name string) error {
	return s.ds.GormDB(ctx).Delete(&Marker{Name: name}).Error
}

func (s *GormMarkerStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	db := s.ds.GormDB(ctx).Where("created_at < ?", before).Delete(&Marker{})
	return db.RowsAffected, db.Error
}

// CacheMarkerStore keeps markers in process memory; go-cache expiry doubles as retention.
type CacheMarkerStore struct {
	cache *cache.Cache
}

func NewCacheMarkerStore(retention time.Duration) *CacheMarkerStore {
	return &CacheMarkerStore{cache: cache.New(retention, time.Minute)}
}

func (s *CacheMarkerStore) Get(ctx context.Context, name string) (*Marker, error) {
	v, found := s.cache.Get(name)
	if !found {
		return nil, nil
	}
	m := v.(Marker)
	return &m, nil
}

func (s *CacheMarkerStore) Put(ctx context.Context, marker *Marker) error {
	s.cache.SetDefault(marker.Name, *marker)
	return nil
}

func (s *CacheMarkerStore) Delete(ctx context.Context, name string) error {
	s.cache.Delete(name)
	return nil
}

func (s *CacheMarkerStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	for name, item := range s.cache.Items() {
		if m, ok := item.Object.(Marker); ok && m.CreatedAt.Before(before) {
			s.cache.Delete(name)
			purged++
		}
	}
	return purged, nil
}
