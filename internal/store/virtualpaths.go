package store

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// CreateVirtualPath inserts a new virtual path mapping for a user.
func (s *Store) CreateVirtualPath(vp VirtualPath) (*VirtualPath, error) {
	if !strings.HasPrefix(vp.VirtualPath, "/") {
		return nil, fmt.Errorf("%w: virtual path must start with '/'", ErrInvalid)
	}
	if err := s.withWrite(func(tx *gorm.DB) error {
		return tx.Create(&vp).Error
	}); err != nil {
		return nil, err
	}
	return &vp, nil
}

// UpdateVirtualPath mutates an existing virtual path row in place.
func (s *Store) UpdateVirtualPath(vp VirtualPath) error {
	return s.withWrite(func(tx *gorm.DB) error {
		res := tx.Model(&VirtualPath{}).Where("id = ?", vp.ID).Updates(map[string]any{
			"virtual_path":     vp.VirtualPath,
			"local_path":       vp.LocalPath,
			"can_read":         vp.CanRead,
			"can_write":        vp.CanWrite,
			"can_append":       vp.CanAppend,
			"can_delete":       vp.CanDelete,
			"can_list":         vp.CanList,
			"can_create_dir":   vp.CanCreateDir,
			"can_rename":       vp.CanRename,
			"apply_to_subdirs": vp.ApplyToSubdirs,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteVirtualPath removes a virtual path row by ID.
func (s *Store) DeleteVirtualPath(id uint64) error {
	return s.withWrite(func(tx *gorm.DB) error {
		res := tx.Delete(&VirtualPath{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListVirtualPaths returns every virtual path belonging to a user.
func (s *Store) ListVirtualPaths(userID uint64) ([]VirtualPath, error) {
	var rows []VirtualPath
	if err := s.db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
