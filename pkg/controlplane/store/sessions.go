package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/flock/pkg/controlplane/models"
)

// ============================================
// SESSION OPERATIONS
// ============================================

func (s *GORMStore) CreateSession(ctx context.Context, session *models.Session) (string, error) {
	now := time.Now()
	session.CreatedAt = now
	if session.LastActivity.IsZero() {
		session.LastActivity = now
	}
	if session.Name == "" {
		session.Name = models.GenerateSessionName()
	}
	session.IsActive = true
	return createWithID(s.db, ctx, session, func(m *models.Session, id string) { m.ID = id }, session.ID, models.ErrDuplicateSession)
}

func (s *GORMStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return getByField[models.Session](s.db, ctx, "id", id, models.ErrSessionNotFound)
}

func (s *GORMStore) GetLiveSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, models.ErrSessionEnded
	}
	if session.Expired(time.Now()) {
		return nil, models.ErrSessionExpired
	}
	return session, nil
}

func (s *GORMStore) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *GORMStore) EndSession(ctx context.Context, id, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Where("id = ?", id).First(&session).Error; err != nil {
			return convertNotFoundError(err, models.ErrSessionNotFound)
		}
		if !session.IsActive {
			return nil
		}

		now := time.Now()
		if err := tx.Model(&session).Updates(map[string]any{
			"is_active":    false,
			"ended_reason": reason,
			"ended_at":     now,
		}).Error; err != nil {
			return err
		}

		// An attachment cannot outlive its session.
		return tx.Model(&models.Participant{}).
			Where("session_id = ? AND is_active = ?", id, true).
			Update("is_active", false).Error
	})
}

func (s *GORMStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", id).
		Update("last_activity", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *GORMStore) CleanupExpired(ctx context.Context, now time.Time, retain time.Duration) (int, error) {
	var ended int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Expire sessions whose hard deadline has passed.
		var due []models.Session
		if err := tx.Select("id").
			Where("is_active = ? AND expires_at < ?", true, now).
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) > 0 {
			dueIDs := make([]string, len(due))
			for i, sess := range due {
				dueIDs[i] = sess.ID
			}
			if err := tx.Model(&models.Session{}).
				Where("id IN ?", dueIDs).
				Updates(map[string]any{
					"is_active":    false,
					"ended_reason": "expired",
					"ended_at":     now,
				}).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Participant{}).
				Where("session_id IN ? AND is_active = ?", dueIDs, true).
				Update("is_active", false).Error; err != nil {
				return err
			}
		}
		ended = int64(len(due))

		// Drop sessions (and their participants) past the retention window.
		cutoff := now.Add(-retain)
		var stale []models.Session
		if err := tx.Select("id").
			Where("is_active = ? AND ended_at < ?", false, cutoff).
			Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}

		ids := make([]string, len(stale))
		for i, sess := range stale {
			ids[i] = sess.ID
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.Session{}).Error
	})

	return int(ended), err
}
