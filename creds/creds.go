// Package creds looks up the tenant/endpoint/API-key records that gate access
// to datasets. The credential scheme itself is deliberately dumb: keys are
// opaque strings, and a lookup either returns the bound dataset or it
// doesn't.
package creds

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// APIKey binds one (tenant, endpoint, key) triple to a dataset. Status must
// be "active" for requests to be served; AllowedMethod restricts the HTTP
// method when non-empty.
type APIKey struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Tenant        string `gorm:"uniqueIndex:idx_tenant_endpoint_key"`
	Endpoint      string `gorm:"uniqueIndex:idx_tenant_endpoint_key"`
	Key           string `gorm:"uniqueIndex:idx_tenant_endpoint_key"`
	DatasetID     string
	AllowedMethod string
	Status        string
}

const StatusActive = "active"

// Indicates no credential record exists for the triple. Deliberately does not
// distinguish unknown tenant from unknown key.
var ErrCredentialNotFound = errors.New("credential not found")

// Directory resolves credential triples. Implementations: GormDirectory
// (database-backed) and CachedDirectory (TTL cache over any Directory).
type Directory interface {
	Lookup(ctx context.Context, tenant, endpoint, key string) (*APIKey, error)
}

type GormDirectory struct {
	db *gorm.DB
}

var _ Directory = (*GormDirectory)(nil)

func NewGormDirectory(db *gorm.DB) (*GormDirectory, error) {
	if err := db.AutoMigrate(&APIKey{}); err != nil {
		return nil, err
	}
	return &GormDirectory{db: db}, nil
}

func (d *GormDirectory) Lookup(ctx context.Context, tenant, endpoint, key string) (*APIKey, error) {
	var rec APIKey
	err := d.db.WithContext(ctx).First(&rec, "tenant = ? AND endpoint = ? AND key = ?", tenant, endpoint, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create registers a new credential record. Used by admin tooling, not the
// serving path.
func (d *GormDirectory) Create(ctx context.Context, rec *APIKey) error {
	return d.db.WithContext(ctx).Create(rec).Error
}
