package gormrepos

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"github.com/kdance/registration/core/membership"
)

func (s *Store) SaveEnrollment(ctx context.Context, enrollment *membership.Enrollment) error {
	err := s.conn(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_id"}, {Name: "course_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "queued_at", "updated_at"}),
		}).
		Create(enrollment).Error
	return errors.Wrap(err, "saving enrollment")
}

func (s *Store) DeleteEnrollment(ctx context.Context, memberID, courseID int) error {
	err := s.conn(ctx).Where("member_id = ? AND course_id = ?", memberID, courseID).Delete(&membership.Enrollment{}).Error
	return errors.Wrap(err, "deleting enrollment")
}

// NextInQueue skips waiting rows without queue entry: the reconciler reports those.
func (s *Store) NextInQueue(ctx context.Context, courseID int) (membership.Enrollment, error) {
	var enrollment membership.Enrollment
	err := s.conn(ctx).
		Where("course_id = ? AND state = ? AND queued_at IS NOT NULL", courseID, membership.StateWaiting).
		Order("queued_at, member_id").
		First(&enrollment).Error
	return enrollment, notFound(err, membership.ErrNotFound)
}
