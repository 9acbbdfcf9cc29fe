// Package registry is the sqlite-backed auxiliary registry (domain-stack
// addition, grounded on internal/jvp/repository): a device reverse-lookup
// index, a durable tail of recent updates, and a reservation ledger. None
// of these are the source of truth — VmExtra and the control tree are —
// this package only accelerates lookups and survives process restarts
// for the state that would otherwise be lost or O(n) to recompute.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/xenops/xenopsd/internal/xenops/registry/model"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// Registry wraps a gorm.DB over a pure-Go sqlite driver, the same
// database/sql-then-gorm.Open handoff internal/jvp/repository.New uses
// so AutoMigrate'd schemas don't require cgo on any build target.
type Registry struct {
	db *gorm.DB
}

// New opens (creating if necessary) the sqlite database at dbPath and
// auto-migrates the registry's tables.
func New(dbPath string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dbPath,
		Conn:       sqlDB,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	if err := db.AutoMigrate(&model.DeviceIndex{}, &model.UpdateRecord{}, &model.Reservation{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close releases the underlying sql.DB connection.
func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IndexDevice records (or updates, on a re-plug) the control-tree path a
// device lives at.
func (r *Registry) IndexDevice(ctx context.Context, vmID types.VmId, kind, logicalID, path string) error {
	row := model.DeviceIndex{
		VmId:      string(vmID),
		Kind:      kind,
		LogicalID: logicalID,
		Path:      path,
		CreatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).
		Where("vm_id = ? AND kind = ? AND logical_id = ?", row.VmId, row.Kind, row.LogicalID).
		Assign(row).
		FirstOrCreate(&model.DeviceIndex{}).Error
}

// LookupDevice returns the control-tree path indexed for (vmID, kind,
// logicalID), satisfying the reverse-lookup invariant with an indexed
// query instead of a tree walk on every call.
func (r *Registry) LookupDevice(ctx context.Context, vmID types.VmId, kind, logicalID string) (string, error) {
	var row model.DeviceIndex
	err := r.db.WithContext(ctx).
		Where("vm_id = ? AND kind = ? AND logical_id = ?", string(vmID), kind, logicalID).
		First(&row).Error
	if err != nil {
		return "", err
	}
	return row.Path, nil
}

// AppendUpdate durably records u so a restarted orchestrator can replay
// recent Updates instead of starting its tail from zero.
func (r *Registry) AppendUpdate(ctx context.Context, u types.Update) error {
	row := model.UpdateRecord{
		ID:        u.ID,
		Kind:      u.Kind.String(),
		VmId:      string(u.VmId),
		DevId:     u.DevId,
		CreatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// RecentUpdates returns up to limit of the most recently recorded
// updates, newest first.
func (r *Registry) RecentUpdates(ctx context.Context, limit int) ([]model.UpdateRecord, error) {
	var rows []model.UpdateRecord
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// OpenReservation records a new outstanding memory reservation.
func (r *Registry) OpenReservation(ctx context.Context, id string, vmID types.VmId, amount uint64) error {
	row := model.Reservation{
		ID:        id,
		VmId:      string(vmID),
		Amount:    amount,
		State:     "open",
		CreatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// SetReservationState transitions a reservation to state ("transferred"
// when ownership moves to a domain, "released" when the broker frees it
// back to the host). Both are terminal: closedAt is stamped either way so
// a leak check only has to look at rows still in "open".
func (r *Registry) SetReservationState(ctx context.Context, id, state string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"state": state, "closed_at": &now}).Error
}

// OpenReservations returns every reservation row not yet closed, used by
// tests to assert no reservation leaked past a lifecycle operation.
func (r *Registry) OpenReservations(ctx context.Context) ([]model.Reservation, error) {
	var rows []model.Reservation
	err := r.db.WithContext(ctx).Where("closed_at IS NULL").Find(&rows).Error
	return rows, err
}
