package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CreateListener inserts a new listener row.
func (s *Store) CreateListener(name string, protocol Protocol, bindingIP string, port int, enabled bool) (*Listener, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port out of range", ErrInvalid)
	}
	l := &Listener{
		Name:      name,
		Protocol:  protocol,
		BindingIP: bindingIP,
		Port:      port,
		Enabled:   enabled,
		CreatedAt: time.Now(),
	}
	if err := s.withWrite(func(tx *gorm.DB) error {
		return tx.Create(l).Error
	}); err != nil {
		return nil, err
	}
	return l, nil
}

// UpdateListener mutates an existing listener's mutable fields.
func (s *Store) UpdateListener(id uint64, name, bindingIP string, port int, enabled bool) error {
	return s.withWrite(func(tx *gorm.DB) error {
		res := tx.Model(&Listener{}).Where("id = ?", id).Updates(map[string]any{
			"name":       name,
			"binding_ip": bindingIP,
			"port":       port,
			"enabled":    enabled,
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

// DeleteListener removes a listener, cascading subscriptions, permissions
// and activities referring to it.
func (s *Store) DeleteListener(id uint64) error {
	return s.withWrite(func(tx *gorm.DB) error {
		if err := tx.Where("listener_id = ?", id).Delete(&Subscription{}).Error; err != nil {
			return err
		}
		if err := tx.Where("listener_id = ?", id).Delete(&ListenerPermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("listener_id = ?", id).Delete(&ActivityRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Listener{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetListener looks up a listener by ID.
func (s *Store) GetListener(id uint64) (*Listener, error) {
	var l Listener
	if err := s.db.First(&l, id).Error; err != nil {
		if gormIsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListListeners returns every listener, ordered by ID.
func (s *Store) ListListeners() ([]Listener, error) {
	var listeners []Listener
	if err := s.db.Order("id").Find(&listeners).Error; err != nil {
		return nil, err
	}
	return listeners, nil
}

// Subscribe attaches a user to a listener. Repeating the call is a no-op —
// subscribing is idempotent per spec §8.
func (s *Store) Subscribe(userID, listenerID uint64) error {
	return s.withWrite(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Subscription{}).Where("user_id = ? AND listener_id = ?", userID, listenerID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return tx.Create(&Subscription{UserID: userID, ListenerID: listenerID}).Error
	})
}

// Unsubscribe removes a (user, listener) attachment. Repeating is a no-op.
func (s *Store) Unsubscribe(userID, listenerID uint64) error {
	return s.withWrite(func(tx *gorm.DB) error {
		return tx.Where("user_id = ? AND listener_id = ?", userID, listenerID).Delete(&Subscription{}).Error
	})
}

// IsSubscribed reports whether a (user, listener) subscription exists.
func (s *Store) IsSubscribed(userID, listenerID uint64) (bool, error) {
	var count int64
	if err := s.db.Model(&Subscription{}).Where("user_id = ? AND listener_id = ?", userID, listenerID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetListenerPermission upserts the seven-capability row for (userID, listenerID).
func (s *Store) SetListenerPermission(p ListenerPermission) error {
	return s.withWrite(func(tx *gorm.DB) error {
		return tx.Where("user_id = ? AND listener_id = ?", p.UserID, p.ListenerID).
			Assign(p).
			FirstOrCreate(&ListenerPermission{UserID: p.UserID, ListenerID: p.ListenerID}).Error
	})
}

// GetListenerPermission returns the capability row for (userID, listenerID),
// or ErrNotFound if none exists.
func (s *Store) GetListenerPermission(userID, listenerID uint64) (*ListenerPermission, error) {
	var p ListenerPermission
	if err := s.db.Where("user_id = ? AND listener_id = ?", userID, listenerID).First(&p).Error; err != nil {
		if gormIsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
