package gormrepos

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kdance/registration/core/membership"
)

func (s *Store) CreateTeacher(ctx context.Context, teacher *membership.Teacher) error {
	err := s.conn(ctx).Create(teacher).Error
	if isDuplicate(err) {
		return membership.ErrTeacherExists
	}
	return errors.Wrap(err, "creating teacher")
}

func (s *Store) UpdateTeacher(ctx context.Context, teacher *membership.Teacher) error {
	err := s.conn(ctx).Save(teacher).Error
	if isDuplicate(err) {
		return membership.ErrTeacherExists
	}
	return errors.Wrap(err, "updating teacher")
}

func (s *Store) GetTeacher(ctx context.Context, id int) (membership.Teacher, error) {
	var teacher membership.Teacher
	err := s.conn(ctx).First(&teacher, id).Error
	return teacher, notFound(err, membership.ErrNotFound)
}

func (s *Store) QueryTeachers(ctx context.Context) ([]membership.Teacher, error) {
	var teachers []membership.Teacher
	err := s.conn(ctx).Order("name").Find(&teachers).Error
	return teachers, errors.Wrap(err, "querying teachers")
}

func (s *Store) TeacherNameExists(ctx context.Context, name string, excludeID int) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&membership.Teacher{}).
		Where("LOWER(name) = LOWER(?) AND id <> ?", name, excludeID).
		Count(&n).Error
	return n > 0, errors.Wrap(err, "checking teacher name")
}

// DeleteTeacher keeps the courses of the teacher, without teacher.
func (s *Store) DeleteTeacher(ctx context.Context, id int) error {
	db := s.conn(ctx)
	if err := db.Model(&membership.Course{}).Where("teacher_id = ?", id).Update("teacher_id", nil).Error; err != nil {
		return errors.Wrap(err, "detaching courses")
	}
	res := db.Delete(&membership.Teacher{}, id)
	if res.Error != nil {
		return errors.Wrap(res.Error, "deleting teacher")
	}
	if res.RowsAffected == 0 {
		return membership.ErrNotFound
	}
	return nil
}
