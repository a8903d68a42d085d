package membership

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/notification"
)

type Action string

const (
	ActionAdd      Action = "add"
	ActionForceAdd Action = "force_add"
	ActionRemove   Action = "remove"
)

// CourseAction is an explicit change of some courses of a member.
type CourseAction struct {
	Action       Action              `json:"action"`
	Courses      []int               `json:"courses"`
	CancelRefund decimal.NullDecimal `json:"cancel_refund"`
}

// Validate rejects the whole action: cancel_refund is required to remove and forbidden otherwise.
func (a CourseAction) Validate() error {
	switch a.Action {
	case ActionAdd, ActionForceAdd:
		if a.CancelRefund.Valid {
			return core.NewFieldError("cancel_refund is only allowed to remove courses", "cancel_refund")
		}
	case ActionRemove:
		if !a.CancelRefund.Valid {
			return core.NewFieldError("cancel_refund is required to remove courses", "cancel_refund")
		}
		if a.CancelRefund.Decimal.IsNegative() {
			return core.NewFieldError("cancel_refund cannot be negative", "cancel_refund")
		}
	default:
		return core.NewFieldError("action must be one of add, force_add or remove", "action")
	}
	if len(a.Courses) == 0 {
		return core.NewFieldError("at least one course is required", "courses")
	}
	return nil
}

// CourseChanges summarises what an enrollment operation did.
type CourseChanges struct {
	Removed      []Course
	AddedActive  []Course
	AddedWaiting []Course
}

func (c CourseChanges) IsEmpty() bool {
	return len(c.Removed)+len(c.AddedActive)+len(c.AddedWaiting) == 0
}

func labels(courses []Course) []string {
	lbls := make([]string, 0, len(courses))
	for _, c := range courses {
		lbls = append(lbls, c.Label())
	}
	return lbls
}

// Reconcile makes `desired` the active (or waiting, when complete) courses of the member.
// Cancelled courses not desired again are left untouched. Freed seats are offered to the waiting lists.
// `member` must be loaded with its enrollments.
func (e *Engine) Reconcile(ctx context.Context, member *Member, desired []int, isUpdate bool) (CourseChanges, error) {
	var changes CourseChanges

	wanted := make(map[int]bool, len(desired))
	for _, id := range desired {
		wanted[id] = true
	}
	current := make(map[int]Enrollment, len(member.Enrollments))

	for _, enr := range member.Enrollments {
		enr := enr
		if !enr.IsConsistent() {
			if wanted[enr.CourseID] || enr.State == StateCancelled {
				if err := e.repair(ctx, *member, &enr); err != nil {
					return changes, err
				}
			} else {
				e.reportInconsistency(*member, enr.Course, inconsistencyDetail(enr))
			}
		}
		current[enr.CourseID] = enr
		if wanted[enr.CourseID] || enr.State == StateCancelled {
			continue
		}
		if err := e.repo.DeleteEnrollment(ctx, member.ID, enr.CourseID); err != nil {
			return changes, errors.Wrap(err, "deleting enrollment")
		}
		delete(current, enr.CourseID)
		changes.Removed = append(changes.Removed, enr.Course)
	}

	seen := make(map[int]bool, len(desired))
	for _, courseID := range desired {
		if seen[courseID] {
			continue
		}
		seen[courseID] = true
		if enr, ok := current[courseID]; ok && enr.State != StateCancelled {
			continue // already active or queued: keep the queue position
		}
		enr, err := e.enroll(ctx, *member, courseID, false)
		if err != nil {
			return changes, err
		}
		if enr.State == StateWaiting {
			changes.AddedWaiting = append(changes.AddedWaiting, enr.Course)
		} else {
			changes.AddedActive = append(changes.AddedActive, enr.Course)
		}
	}

	if err := e.offerFreedSeats(ctx); err != nil {
		return changes, err
	}
	if err := e.reload(ctx, member); err != nil {
		return changes, err
	}

	if isUpdate && !changes.IsEmpty() {
		err := e.out.Add(notification.CoursesUpdated{
			FullName:     member.FullName(),
			Removed:      labels(changes.Removed),
			AddedActive:  labels(changes.AddedActive),
			AddedWaiting: labels(changes.AddedWaiting),
		}, member.Recipients()...)
		if err != nil {
			return changes, err
		}
	}
	return changes, nil
}

// ApplyAction runs an explicit add, force_add or remove on some courses of the member.
// `member` must be loaded with its enrollments.
func (e *Engine) ApplyAction(ctx context.Context, member *Member, action CourseAction) (CourseChanges, error) {
	var changes CourseChanges
	if err := action.Validate(); err != nil {
		return changes, err
	}

	current := make(map[int]Enrollment, len(member.Enrollments))
	for _, enr := range member.Enrollments {
		current[enr.CourseID] = enr
	}

	switch action.Action {
	case ActionAdd:
		for _, courseID := range action.Courses {
			if enr, ok := current[courseID]; ok && enr.State != StateCancelled {
				continue
			}
			enr, err := e.enroll(ctx, *member, courseID, false)
			if err != nil {
				return changes, err
			}
			current[courseID] = enr
			if enr.State == StateWaiting {
				changes.AddedWaiting = append(changes.AddedWaiting, enr.Course)
			} else {
				changes.AddedActive = append(changes.AddedActive, enr.Course)
			}
		}

	case ActionForceAdd:
		for _, courseID := range action.Courses {
			if enr, ok := current[courseID]; ok && enr.State == StateActive {
				continue
			}
			enr, err := e.enroll(ctx, *member, courseID, true)
			if err != nil {
				return changes, err
			}
			current[courseID] = enr
			changes.AddedActive = append(changes.AddedActive, enr.Course)

			season, err := e.repo.GetSeason(ctx, enr.Course.SeasonID)
			if err != nil {
				return changes, errors.Wrap(err, "getting course season")
			}
			recipients := append(member.Recipients(), e.operators...)
			if err = e.notifyPromoted(*member, enr.Course, season, recipients...); err != nil {
				return changes, err
			}
		}

	case ActionRemove:
		var cancelled []Course
		for _, courseID := range action.Courses {
			enr, ok := current[courseID]
			if !ok || enr.State == StateCancelled {
				continue
			}
			if enr.State == StateWaiting {
				if !enr.QueuedAt.Valid {
					e.reportInconsistency(*member, enr.Course, inconsistencyDetail(enr))
				}
				if err := e.repo.DeleteEnrollment(ctx, member.ID, courseID); err != nil {
					return changes, errors.Wrap(err, "dequeuing enrollment")
				}
				delete(current, courseID)
				changes.Removed = append(changes.Removed, enr.Course)
				continue
			}

			enr.State = StateCancelled
			enr.QueuedAt = null.Time{}
			if err := e.repo.SaveEnrollment(ctx, &enr); err != nil {
				return changes, errors.Wrap(err, "cancelling enrollment")
			}
			current[courseID] = enr
			cancelled = append(cancelled, enr.Course)
			changes.Removed = append(changes.Removed, enr.Course)
		}

		if len(cancelled) > 0 {
			if err := e.repo.AddCancelRefund(ctx, member.ID, action.CancelRefund.Decimal); err != nil {
				return changes, errors.Wrap(err, "updating cancel refund")
			}
			for _, course := range cancelled {
				err := e.out.Add(notification.CourseCancelled{
					FullName:     member.FullName(),
					CourseName:   course.Name,
					CancelRefund: action.CancelRefund,
				}, member.Recipients()...)
				if err != nil {
					return changes, err
				}
			}
		}
		if err := e.offerFreedSeats(ctx); err != nil {
			return changes, err
		}
	}

	return changes, e.reload(ctx, member)
}

// enroll makes the member active on the course, or queues them when it is complete (unless forced).
func (e *Engine) enroll(ctx context.Context, member Member, courseID int, force bool) (Enrollment, error) {
	course, err := e.repo.LockCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Enrollment{}, core.NewFieldError("course not found", "courses")
		}
		return Enrollment{}, errors.Wrap(err, "locking course")
	}
	if course.SeasonID != member.SeasonID {
		return Enrollment{}, core.NewFieldError("courses must belong to the member's season", "courses")
	}

	enr := Enrollment{MemberID: member.ID, CourseID: courseID, State: StateActive, Course: course}
	if !force && course.IsComplete() {
		enr.State = StateWaiting
		enr.QueuedAt = null.TimeFrom(e.now().UTC())
	}
	if err = e.repo.SaveEnrollment(ctx, &enr); err != nil {
		return Enrollment{}, errors.Wrap(err, "saving enrollment")
	}
	return enr, nil
}

// repair fixes an enrollment whose waiting state and queue entry disagree, and reports it.
// A waiting enrollment without entry is queued now; an entry on another state is dropped.
func (e *Engine) repair(ctx context.Context, member Member, enr *Enrollment) error {
	e.reportInconsistency(member, enr.Course, inconsistencyDetail(*enr))
	if enr.State == StateWaiting {
		enr.QueuedAt = null.TimeFrom(e.now().UTC())
	} else {
		enr.QueuedAt = null.Time{}
	}
	return errors.Wrap(e.repo.SaveEnrollment(ctx, enr), "repairing enrollment")
}

// offerFreedSeats sweeps the waiting lists, if there is a current season to sweep.
func (e *Engine) offerFreedSeats(ctx context.Context) error {
	if _, err := e.Sweep(ctx); err != nil && !errors.Is(err, ErrNoCurrentSeason) {
		return errors.Wrap(err, "sweeping waiting lists")
	}
	return nil
}

func (e *Engine) reload(ctx context.Context, member *Member) error {
	m, err := e.repo.GetMember(ctx, member.ID)
	if err != nil {
		return errors.Wrap(err, "reloading member")
	}
	*member = m
	return nil
}

func inconsistencyDetail(enr Enrollment) string {
	if enr.State == StateWaiting {
		return "waiting course without queue entry"
	}
	return "queue entry without waiting course"
}
