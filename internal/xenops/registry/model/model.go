// Package model holds the gorm row types backing the auxiliary registry:
// tables that accelerate or survive a restart of state that is otherwise
// derivable on demand from the control tree or process memory.
package model

import "time"

// DeviceIndex is the reverse-lookup row mapping a (VmId, kind,
// logical id) triple to the control-tree path the device actually lives
// at, so a lookup doesn't have to walk the tree on every call.
type DeviceIndex struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id"`
	VmId      string    `gorm:"type:text;not null;index:idx_device_vm;column:vm_id"`
	Kind      string    `gorm:"type:text;not null;column:kind"` // "vbd", "vif", "pci"
	LogicalID string    `gorm:"type:text;not null;column:logical_id"`
	Path      string    `gorm:"type:text;not null;column:path"`
	CreatedAt time.Time `gorm:"type:datetime;not null;column:created_at"`
}

// TableName pins the table name the way the teacher lineage's models do.
func (DeviceIndex) TableName() string { return "device_index" }

// UpdateRecord is one durable copy of an updates.Update, kept so a
// restarted orchestrator can replay recent events instead of starting
// its tail from zero.
type UpdateRecord struct {
	ID        uint64    `gorm:"primaryKey;column:id"`
	Kind      string    `gorm:"type:text;not null;column:kind"`
	VmId      string    `gorm:"type:text;not null;index:idx_update_vm;column:vm_id"`
	DevId     string    `gorm:"type:text;column:dev_id"`
	CreatedAt time.Time `gorm:"type:datetime;not null;index:idx_update_created_at;column:created_at"`
}

func (UpdateRecord) TableName() string { return "update_log" }

// Reservation is the durable ledger row for one memory.Reservation,
// letting a test or an operator assert every Reserve was matched by a
// Release (testable property: reservation-leak-free).
type Reservation struct {
	ID        string    `gorm:"primaryKey;type:text;column:id"`
	VmId      string    `gorm:"type:text;not null;index:idx_reservation_vm;column:vm_id"`
	Amount    uint64    `gorm:"type:integer;not null;column:amount"`
	State     string    `gorm:"type:text;not null;column:state"` // "open", "transferred", "released"
	CreatedAt time.Time `gorm:"type:datetime;not null;column:created_at"`
	ClosedAt  *time.Time `gorm:"type:datetime;column:closed_at"`
}

func (Reservation) TableName() string { return "reservation_ledger" }
