package membership

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kdance/registration/core"
)

var (
	// errors
	ErrNotFound           = errors.New("not found")
	ErrNoCurrentSeason    = errors.New("no current season")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrSeasonExists       = errors.New("a season with this year already exists")
	ErrTeacherExists      = errors.New("this teacher already exists")
	ErrCourseExists       = errors.New("a course with this name, weekday and start hour already exists for the season")
	ErrMemberExists       = errors.New("this member already exists for the season")
	ErrRegistrationClosed = errors.New("registrations are not open: new members cannot be added for now")
)

// IsNotFound reports whether `err` is one of the not-found errors of the package.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoCurrentSeason) || errors.Is(err, ErrPaymentNotFound)
}

type (
	SeasonFilter struct {
		IsCurrent *bool
	}

	CourseFilter struct {
		SeasonID  int
		TeacherID int
		Weekday   *int
	}

	MemberFilter struct {
		SeasonID    int
		UserID      int
		CourseID    int // members with the course active or waiting
		WithPass    *bool
		WithLicense *bool
		Search      string // first name, last name or email
		Ordering    []core.DBOrdering
	}

	PaymentFilter struct {
		SeasonID int
		UserID   int
	}

	CheckFilter struct {
		SeasonID int
		Month    int
	}

	// Repository gives access to the persisted membership entities.
	// Getters return ErrNotFound when no row matches.
	Repository interface {
		GetSettings(ctx context.Context) (GeneralSettings, error)
		SaveSettings(ctx context.Context, settings *GeneralSettings) error

		CreateSeason(ctx context.Context, season *Season) error
		UpdateSeason(ctx context.Context, season *Season) error
		GetSeason(ctx context.Context, id int) (Season, error)
		GetSeasonByYear(ctx context.Context, year string) (Season, error)
		// GetCurrentSeason returns ErrNoCurrentSeason when no season is current.
		GetCurrentSeason(ctx context.Context) (Season, error)
		// QuerySeasons returns the seasons, newest year first.
		QuerySeasons(ctx context.Context, filter SeasonFilter) ([]Season, error)
		// SetCurrentSeason makes `id` the only current season.
		SetCurrentSeason(ctx context.Context, id int) error
		// DeleteSeason deletes the season with its courses, members and payments.
		DeleteSeason(ctx context.Context, id int) error

		CreateTeacher(ctx context.Context, teacher *Teacher) error
		UpdateTeacher(ctx context.Context, teacher *Teacher) error
		GetTeacher(ctx context.Context, id int) (Teacher, error)
		QueryTeachers(ctx context.Context) ([]Teacher, error)
		// TeacherNameExists does a case-insensitive match, ignoring teacher `excludeID`.
		TeacherNameExists(ctx context.Context, name string, excludeID int) (bool, error)
		DeleteTeacher(ctx context.Context, id int) error

		// CreateCourse returns ErrCourseExists on a (name, season, weekday, start hour) conflict.
		CreateCourse(ctx context.Context, course *Course) error
		// CreateCourseIfAbsent skips conflicting courses and reports whether the course was created.
		CreateCourseIfAbsent(ctx context.Context, course *Course) (bool, error)
		UpdateCourse(ctx context.Context, course *Course) error
		// GetCourse and QueryCourses fill the derived counts.
		GetCourse(ctx context.Context, id int) (Course, error)
		// LockCourse is GetCourse holding a row lock until the end of the transaction.
		LockCourse(ctx context.Context, id int) (Course, error)
		QueryCourses(ctx context.Context, filter CourseFilter) ([]Course, error)
		DeleteCourse(ctx context.Context, id int) error

		// CreateMember returns ErrMemberExists on a (first name, last name, user, season) conflict.
		CreateMember(ctx context.Context, member *Member) error
		// UpdateMember saves the member fields, documents, contacts and sport pass; not the enrollments.
		UpdateMember(ctx context.Context, member *Member) error
		// GetMember loads the member with contacts, sport pass, enrollments (with course) and user.
		GetMember(ctx context.Context, id int) (Member, error)
		QueryMembers(ctx context.Context, filter MemberFilter) ([]Member, error)
		MemberExists(ctx context.Context, firstName, lastName string, birthday time.Time, seasonYear string) (bool, error)
		SetValidated(ctx context.Context, memberIDs ...int) error
		AddCancelRefund(ctx context.Context, memberID int, delta decimal.Decimal) error
		DeleteMember(ctx context.Context, id int) error

		// SaveEnrollment inserts or updates the (member, course) enrollment.
		SaveEnrollment(ctx context.Context, enrollment *Enrollment) error
		DeleteEnrollment(ctx context.Context, memberID, courseID int) error
		// NextInQueue returns the earliest queued waiting enrollment of the course.
		NextInQueue(ctx context.Context, courseID int) (Enrollment, error)

		CreatePayment(ctx context.Context, payment *Payment) error
		// UpdatePayment saves the payment fields and replaces its checks.
		UpdatePayment(ctx context.Context, payment *Payment) error
		GetPayment(ctx context.Context, id int) (Payment, error)
		// GetPaymentFor returns ErrPaymentNotFound when the user has no payment for the season.
		GetPaymentFor(ctx context.Context, userID, seasonID int) (Payment, error)
		QueryPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
		AddCardPayment(ctx context.Context, card *CardPayment) error
		QueryChecks(ctx context.Context, filter CheckFilter) ([]Check, error)

		UserIDs(ctx context.Context) ([]int, error)
	}

	// Store is a Repository able to run a function inside one transaction.
	Store interface {
		Repository
		// Atomic runs `fn` in a transaction: committed when fn returns nil, rolled back otherwise.
		Atomic(ctx context.Context, fn func(repo Repository) error) error
	}
)
