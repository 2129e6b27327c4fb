package store

import (
	"fmt"
	"log"
)

// virtualPathCapabilityColumns lists the permission columns spec §4.1
// requires to be backfilled with safe defaults when a database created
// under an older schema gains them for the first time.
var virtualPathCapabilityColumns = map[string]bool{
	"can_read":         true,
	"can_write":        true,
	"can_append":       true,
	"can_delete":       true,
	"can_list":         true,
	"can_create_dir":   true,
	"can_rename":       true,
	"apply_to_subdirs": true,
}

// migrate creates the schema on first open and additively migrates it on
// subsequent opens: any VirtualPath permission column missing before
// AutoMigrate runs is backfilled to its documented safe default afterwards,
// so databases created under an older schema remain usable without an
// administrator having to hand-edit rows.
func (s *Store) migrate() error {
	migrator := s.db.Migrator()

	missing := make([]string, 0, len(virtualPathCapabilityColumns))
	if migrator.HasTable(&VirtualPath{}) {
		for col := range virtualPathCapabilityColumns {
			if !migrator.HasColumn(&VirtualPath{}, col) {
				missing = append(missing, col)
			}
		}
	}

	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	for _, col := range missing {
		def := virtualPathCapabilityColumns[col]
		if err := s.db.Model(&VirtualPath{}).Where("1 = 1").Update(col, def).Error; err != nil {
			return fmt.Errorf("backfill column %s: %w", col, err)
		}
		log.Printf("[INFO] backfilled virtual_paths.%s with default %v for pre-existing rows", col, def)
	}

	return nil
}
