package gormrepos

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kdance/registration/core/membership"
)

type courseCount struct {
	CourseID int
	State    membership.EnrollmentState
	N        int
}

// fillCounts sets the active and waiting counts of `courses` from their enrollments.
func fillCounts(db *gorm.DB, courses []membership.Course) error {
	if len(courses) == 0 {
		return nil
	}
	ids := make([]int, len(courses))
	for i, c := range courses {
		ids[i] = c.ID
	}

	var counts []courseCount
	err := db.Model(&membership.Enrollment{}).
		Select("course_id, state, COUNT(*) AS n").
		Where("course_id IN ? AND state IN ?", ids, []membership.EnrollmentState{membership.StateActive, membership.StateWaiting}).
		Group("course_id, state").
		Scan(&counts).Error
	if err != nil {
		return errors.Wrap(err, "counting enrollments")
	}

	byCourse := make(map[int]*membership.Course, len(courses))
	for i := range courses {
		byCourse[courses[i].ID] = &courses[i]
	}
	for _, cnt := range counts {
		c := byCourse[cnt.CourseID]
		switch cnt.State {
		case membership.StateActive:
			c.ActiveCount = cnt.N
		case membership.StateWaiting:
			c.WaitingCount = cnt.N
		}
	}
	return nil
}

func (s *Store) CreateCourse(ctx context.Context, course *membership.Course) error {
	err := s.conn(ctx).Create(course).Error
	if isDuplicate(err) {
		return membership.ErrCourseExists
	}
	return errors.Wrap(err, "creating course")
}

func (s *Store) CreateCourseIfAbsent(ctx context.Context, course *membership.Course) (bool, error) {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(course)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "copying course")
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateCourse(ctx context.Context, course *membership.Course) error {
	err := s.conn(ctx).Save(course).Error
	if isDuplicate(err) {
		return membership.ErrCourseExists
	}
	return errors.Wrap(err, "updating course")
}

func (s *Store) getCourse(ctx context.Context, id int, lock bool) (membership.Course, error) {
	db := s.conn(ctx)
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var course membership.Course
	if err := db.First(&course, id).Error; err != nil {
		return course, notFound(err, membership.ErrNotFound)
	}
	courses := []membership.Course{course}
	if err := fillCounts(s.conn(ctx), courses); err != nil {
		return course, err
	}
	return courses[0], nil
}

func (s *Store) GetCourse(ctx context.Context, id int) (membership.Course, error) {
	return s.getCourse(ctx, id, false)
}

// LockCourse takes a FOR UPDATE lock on the course row. sqlite has no row locks and ignores it.
func (s *Store) LockCourse(ctx context.Context, id int) (membership.Course, error) {
	return s.getCourse(ctx, id, true)
}

func (s *Store) QueryCourses(ctx context.Context, filter membership.CourseFilter) ([]membership.Course, error) {
	db := s.conn(ctx)
	if filter.SeasonID != 0 {
		db = db.Where("season_id = ?", filter.SeasonID)
	}
	if filter.TeacherID != 0 {
		db = db.Where("teacher_id = ?", filter.TeacherID)
	}
	if filter.Weekday != nil {
		db = db.Where("weekday = ?", *filter.Weekday)
	}

	var courses []membership.Course
	if err := db.Order("weekday, start_hour, name").Find(&courses).Error; err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	if err := fillCounts(s.conn(ctx), courses); err != nil {
		return nil, err
	}
	return courses, nil
}

func (s *Store) DeleteCourse(ctx context.Context, id int) error {
	db := s.conn(ctx)
	if err := db.Where("course_id = ?", id).Delete(&membership.Enrollment{}).Error; err != nil {
		return errors.Wrap(err, "deleting enrollments")
	}
	res := db.Delete(&membership.Course{}, id)
	if res.Error != nil {
		return errors.Wrap(res.Error, "deleting course")
	}
	if res.RowsAffected == 0 {
		return membership.ErrNotFound
	}
	return nil
}
