package store

import "github.com/orchestra/corectl/internal/domain"

// AutoMigrate creates/updates the schema-level tables this module owns
// (jobs, dependency_edges, workflows, workers) plus the additive
// compensation_actions ledger.
func (s *Store) AutoMigrate() error {
	if err := s.db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return err
	}
	return s.db.AutoMigrate(
		&domain.Workflow{},
		&domain.Job{},
		&domain.DependencyEdge{},
		&domain.Worker{},
		&domain.CompensationAction{},
	)
}
