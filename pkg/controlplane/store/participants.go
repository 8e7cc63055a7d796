package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/flock/pkg/controlplane/models"
)

// ============================================
// PARTICIPANT OPERATIONS
// ============================================

func (s *GORMStore) AddParticipant(ctx context.Context, participant *models.Participant) (string, error) {
	now := time.Now()
	participant.JoinedAt = now
	if participant.LastSeen.IsZero() {
		participant.LastSeen = now
	}

	var id string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Participant{}).
			Where("session_id = ? AND left_at IS NULL", participant.SessionID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= models.MaxParticipantsPerSession {
			return models.ErrSessionFull
		}

		var err error
		id, err = createWithID(tx, ctx, participant, func(m *models.Participant, id string) { m.ID = id }, participant.ID, models.ErrDuplicateParticipant)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *GORMStore) GetParticipant(ctx context.Context, sessionID, userID string) (*models.Participant, error) {
	var participant models.Participant
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&participant).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrParticipantNotFound)
	}
	return &participant, nil
}

func (s *GORMStore) ListParticipants(ctx context.Context, sessionID string) ([]*models.Participant, error) {
	var participants []*models.Participant
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("joined_at").
		Find(&participants).Error; err != nil {
		return nil, err
	}
	return participants, nil
}

func (s *GORMStore) CountParticipants(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("session_id = ? AND left_at IS NULL", sessionID).
		Count(&count).Error
	return count, err
}

func (s *GORMStore) SetParticipantActive(ctx context.Context, sessionID, userID string, active bool, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{
			"is_active": active,
			"last_seen": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrParticipantNotFound
	}
	return nil
}

func (s *GORMStore) MarkParticipantLeft(ctx context.Context, sessionID, userID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{
			"is_active": false,
			"last_seen": at,
			"left_at":   at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrParticipantNotFound
	}
	return nil
}
