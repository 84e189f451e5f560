package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Worker is the registry row for one live worker process. Exactly one row
// exists per live process; LastHeartbeat only ever increases
// within that process's lifetime.
type Worker struct {
	ID                uuid.UUID          `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Hostname          string             `gorm:"not null"`
	ProcessIdentity   string             `gorm:"column:process_identity;not null"`
	Version           string             `gorm:"column:version"`
	MaxConcurrentJobs int                `gorm:"column:max_concurrent_jobs;not null;default:4"`
	Status            WorkerStatus       `gorm:"column:status;not null;default:ACTIVE"`
	LastHeartbeat     time.Time          `gorm:"column:last_heartbeat;not null;index"`
	Telemetry         datatypes.JSONMap  `gorm:"column:telemetry"`
	RegisteredAt      time.Time          `gorm:"column:registered_at;not null"`
}

func (Worker) TableName() string { return "workers" }

// TelemetryFloat reads a numeric telemetry field, stored but never
// interpreted by the control plane.
func (w *Worker) TelemetryFloat(key string) (float64, bool) {
	if w.Telemetry == nil {
		return 0, false
	}
	v, ok := w.Telemetry[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
