package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/notification"
)

// Engine runs the capacity, waiting-list and enrollment rules inside one transaction.
// Notifications are queued in the outbox and only sent once the transaction committed.
type Engine struct {
	repo      Repository
	out       *notification.Outbox
	settings  Settings
	logger    core.Logger
	operators []string
	now       func() time.Time
}

type EngineOptions struct {
	Settings  Settings
	Logger    core.Logger
	Operators []string         // recipients of diagnostic notifications
	Now       func() time.Time // defaults to time.Now
}

func NewEngine(repo Repository, out *notification.Outbox, opts EngineOptions) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:      repo,
		out:       out,
		settings:  opts.Settings,
		logger:    opts.Logger,
		operators: opts.Operators,
		now:       now,
	}
}

// Promote moves the earliest queued member of the course into a free seat.
// It returns nil when the course is complete or nobody is waiting.
func (e *Engine) Promote(ctx context.Context, courseID int) (*Enrollment, error) {
	course, err := e.repo.LockCourse(ctx, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "locking course")
	}
	if course.WaitingCount == 0 || course.IsComplete() {
		return nil, nil
	}

	next, err := e.repo.NextInQueue(ctx, courseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "getting next queued member")
	}

	next.State = StateActive
	next.QueuedAt = null.Time{}
	if err = e.repo.SaveEnrollment(ctx, &next); err != nil {
		return nil, errors.Wrap(err, "activating enrollment")
	}

	member, err := e.repo.GetMember(ctx, next.MemberID)
	if err != nil {
		return nil, errors.Wrap(err, "getting promoted member")
	}
	season, err := e.repo.GetSeason(ctx, course.SeasonID)
	if err != nil {
		return nil, errors.Wrap(err, "getting course season")
	}
	if err = e.notifyPromoted(member, course, season, member.Recipients()...); err != nil {
		return nil, err
	}
	return &next, nil
}

// Sweep offers one free seat per course of the current season to its waiting list.
// Nothing happens while new members are not accepted.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if !e.settings.AllowNewMember {
		return 0, nil
	}
	season, err := e.settings.Current()
	if err != nil {
		return 0, err
	}

	courses, err := e.repo.QueryCourses(ctx, CourseFilter{SeasonID: season.ID})
	if err != nil {
		return 0, errors.Wrap(err, "querying courses")
	}
	var promoted int
	for _, c := range courses {
		enr, err := e.Promote(ctx, c.ID)
		if err != nil {
			return promoted, errors.Wrapf(err, "promoting on course %d", c.ID)
		}
		if enr != nil {
			promoted++
		}
	}
	return promoted, nil
}

// CopySeason duplicates the courses of season `fromID` into season `toID`.
// Courses already present in the destination are skipped.
func (e *Engine) CopySeason(ctx context.Context, fromID, toID int) (int, error) {
	if _, err := e.repo.GetSeason(ctx, toID); err != nil {
		return 0, errors.Wrap(err, "getting destination season")
	}
	courses, err := e.repo.QueryCourses(ctx, CourseFilter{SeasonID: fromID})
	if err != nil {
		return 0, errors.Wrap(err, "querying courses")
	}

	var copied int
	for _, c := range courses {
		dup := Course{
			SeasonID:  toID,
			TeacherID: c.TeacherID,
			Name:      c.Name,
			Price:     c.Price,
			Weekday:   c.Weekday,
			StartHour: c.StartHour,
			EndHour:   c.EndHour,
			Capacity:  c.Capacity,
		}
		created, err := e.repo.CreateCourseIfAbsent(ctx, &dup)
		if err != nil {
			return copied, errors.Wrapf(err, "copying course %d", c.ID)
		}
		if !created {
			e.logger.Info(fmt.Sprintf("copy season: course %q already exists in season %d, skipped", c.Label(), toID))
			continue
		}
		copied++
	}
	return copied, nil
}

func (e *Engine) notifyPromoted(member Member, course Course, season Season, recipients ...string) error {
	return e.out.Add(notification.WaitingPromoted{
		FullName:          member.FullName(),
		CourseName:        course.Name,
		Weekday:           course.WeekdayName(),
		StartHour:         course.StartLabel(),
		NextCourseWarning: season.SignupOver(e.now()),
	}, recipients...)
}

// reportInconsistency logs and notifies a waiting-list mismatch. It never fails the operation.
func (e *Engine) reportInconsistency(member Member, course Course, detail string) {
	e.logger.Error(
		fmt.Sprintf("waiting list inconsistency: member %d, course %d: %s", member.ID, course.ID, detail),
		map[string]interface{}{"member": member.ID, "course": course.ID},
	)
	err := e.out.Add(notification.WaitingListInconsistency{
		Member: member.FullName(),
		Course: course.Label(),
		Detail: detail,
	}, e.operators...)
	if err != nil {
		e.logger.Error(fmt.Sprintf("queuing inconsistency notification: %v", err), err)
	}
}
