// Package models defines the control plane data model: sessions and their
// participants, plus the validation and generation helpers shared by the
// API handlers and the store.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&Session{},
		&Participant{},
	}
}
