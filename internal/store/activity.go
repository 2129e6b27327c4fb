package store

import (
	"log"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

// ActivityFilter narrows ListActivities; zero-valued fields are unconstrained.
type ActivityFilter struct {
	ListenerID *uint64
	Username   string
	Since      time.Time
	Limit      int
}

// LogActivity appends an activity row without blocking the caller beyond a
// channel send: if the bounded queue is full, the record is dropped, the
// drop is counted (see DroppedActivities) and a warning line naming the
// dropped record's user and action is logged instead, per spec §4.1's
// "must never block a protocol operation longer than a bounded queue depth."
func (s *Store) LogActivity(rec ActivityRecord) {
	rec.Timestamp = time.Now()
	select {
	case s.activityCh <- rec:
	default:
		atomic.AddUint64(&s.droppedActivities, 1)
		log.Printf("[WARN] activity log queue full, dropped record for user=%s action=%s", rec.Username, rec.Action)
	}
}

// DroppedActivities returns the number of activity records dropped so far
// due to a full queue.
func (s *Store) DroppedActivities() uint64 {
	return atomic.LoadUint64(&s.droppedActivities)
}

// runActivityWriter drains activityCh on its own goroutine so LogActivity
// never waits on a database write.
func (s *Store) runActivityWriter() {
	defer s.activityWg.Done()
	for {
		select {
		case rec := <-s.activityCh:
			if err := s.db.Create(&rec).Error; err != nil {
				log.Printf("[WARN] failed to persist activity record: %v", err)
			}
		case <-s.closeCh:
			// drain whatever is left without blocking further producers
			for {
				select {
				case rec := <-s.activityCh:
					_ = s.db.Create(&rec).Error
				default:
					return
				}
			}
		}
	}
}

// ListActivities returns activity rows matching filter, most recent first.
func (s *Store) ListActivities(filter ActivityFilter) ([]ActivityRecord, error) {
	q := s.db.Model(&ActivityRecord{}).Order("id desc")
	if filter.ListenerID != nil {
		q = q.Where("listener_id = ?", *filter.ListenerID)
	}
	if filter.Username != "" {
		q = q.Where("username = ?", filter.Username)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []ActivityRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PurgeActivitiesOlderThan deletes activity rows older than cutoff and
// returns the number of rows removed.
func (s *Store) PurgeActivitiesOlderThan(cutoff time.Time) (int64, error) {
	var affected int64
	err := s.withWrite(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff).Delete(&ActivityRecord{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// GetSetting returns a setting's value, or ("", false) if unset.
func (s *Store) GetSetting(key string) (string, bool) {
	var row Setting
	if err := s.db.Where("key = ?", key).First(&row).Error; err != nil {
		return "", false
	}
	return row.Value, true
}

// SetSetting upserts a key-value setting.
func (s *Store) SetSetting(key, value string) error {
	return s.withWrite(func(tx *gorm.DB) error {
		return tx.Where("key = ?", key).
			Assign(Setting{Key: key, Value: value}).
			FirstOrCreate(&Setting{Key: key}).Error
	})
}
