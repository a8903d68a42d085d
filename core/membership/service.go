package membership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/notification"
)

// Dispatcher delivers the notifications of a committed transaction.
type Dispatcher interface {
	Flush(ctx context.Context, out *notification.Outbox) int
}

type (
	ServiceOptions struct {
		Logger           core.Logger
		Validate         *validator.Validate
		Operators        []string
		SeasonRetention  int
		DefaultCapacity  int
		MembershipAmount decimal.Decimal
		Now              func() time.Time
	}

	Service struct {
		store      Store
		dispatcher Dispatcher
		logger     core.Logger
		validate   *validator.Validate
		operators  []string
		retention  int
		capacity   int
		membership decimal.Decimal
		now        func() time.Time
	}

	// unit is what one service call works with inside its transaction.
	unit struct {
		repo     Repository
		settings Settings
		engine   *Engine
		ledger   *Ledger
		out      *notification.Outbox
	}
)

func NewService(store Store, dispatcher Dispatcher, opts ServiceOptions) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	retention := opts.SeasonRetention
	if retention < 1 {
		retention = 5
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     opts.Logger,
		validate:   opts.Validate,
		operators:  opts.Operators,
		retention:  retention,
		capacity:   opts.DefaultCapacity,
		membership: opts.MembershipAmount,
		now:        now,
	}
}

func (svc *Service) newEngine(repo Repository, out *notification.Outbox, settings Settings) *Engine {
	return NewEngine(repo, out, EngineOptions{
		Settings:  settings,
		Logger:    svc.logger,
		Operators: svc.operators,
		Now:       svc.now,
	})
}

// atomic runs `fn` in one transaction, with the settings loaded at its start.
// The notifications it queued are sent once the transaction committed, and dropped otherwise.
func (svc *Service) atomic(ctx context.Context, fn func(u *unit) error) error {
	out := new(notification.Outbox)
	err := svc.store.Atomic(ctx, func(repo Repository) error {
		settings, err := LoadSettings(ctx, repo)
		if err != nil {
			return err
		}
		return fn(&unit{
			repo:     repo,
			settings: settings,
			engine:   svc.newEngine(repo, out, settings),
			ledger:   NewLedger(repo),
			out:      out,
		})
	})
	if err != nil {
		out.Reset()
		return err
	}
	if out.Len() > 0 {
		sent := svc.dispatcher.Flush(ctx, out)
		svc.logger.Debug(fmt.Sprintf("%d notification(s) sent", sent))
	}
	return nil
}

// Settings

func (svc *Service) LoadSettings(ctx context.Context) (Settings, error) {
	return LoadSettings(ctx, svc.store)
}

func (svc *Service) GetSettings(ctx context.Context) (GeneralSettings, error) {
	return svc.store.GetSettings(ctx)
}

// UpdateSettings saves the switches. Reopening new members offers the seats freed meanwhile.
func (svc *Service) UpdateSettings(ctx context.Context, in SettingsInput) (GeneralSettings, error) {
	if err := in.Validate(svc.validate); err != nil {
		return GeneralSettings{}, err
	}

	var gs GeneralSettings
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		if gs, err = u.repo.GetSettings(ctx); err != nil {
			return errors.Wrap(err, "getting settings")
		}
		reopened := !gs.AllowNewMember && in.AllowNewMember

		gs.AllowSignup = in.AllowSignup
		gs.AllowNewMember = in.AllowNewMember
		gs.PreSignupPaymentDeltaDays = in.PreSignupPaymentDeltaDays
		gs.SignupPaymentDeltaDays = in.SignupPaymentDeltaDays
		if err = u.repo.SaveSettings(ctx, &gs); err != nil {
			return errors.Wrap(err, "saving settings")
		}

		if reopened && u.settings.CurrentSeason != nil {
			settings := u.settings
			settings.AllowSignup, settings.AllowNewMember = gs.AllowSignup, gs.AllowNewMember
			if _, err = svc.newEngine(u.repo, u.out, settings).Sweep(ctx); err != nil {
				return errors.Wrap(err, "sweeping waiting lists")
			}
		}
		return nil
	})
	return gs, err
}

// Seasons

// CreateSeason creates the season, keeping the newest ones within the retention, and opens a payment for every user.
func (svc *Service) CreateSeason(ctx context.Context, in SeasonInput) (Season, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Season{}, err
	}

	var season Season
	err := svc.atomic(ctx, func(u *unit) error {
		_, err := u.repo.GetSeasonByYear(ctx, in.Year)
		switch {
		case err == nil:
			return core.NewFieldError(ErrSeasonExists.Error(), "year")
		case !errors.Is(err, ErrNotFound):
			return errors.Wrap(err, "getting season by year")
		}

		seasons, err := u.repo.QuerySeasons(ctx, SeasonFilter{})
		if err != nil {
			return errors.Wrap(err, "querying seasons")
		}
		if len(seasons) >= svc.retention {
			for _, old := range seasons[svc.retention-1:] {
				svc.logger.Info(fmt.Sprintf("deleting season %s beyond retention", old.Year))
				if err = u.repo.DeleteSeason(ctx, old.ID); err != nil {
					return errors.Wrapf(err, "deleting season %s", old.Year)
				}
			}
		}

		season = Season{IsCurrent: true, MembershipAmount: svc.membership}
		in.apply(&season)
		if err = u.repo.CreateSeason(ctx, &season); err != nil {
			return errors.Wrap(err, "creating season")
		}
		if season.IsCurrent {
			if err = u.repo.SetCurrentSeason(ctx, season.ID); err != nil {
				return errors.Wrap(err, "setting current season")
			}
		}

		userIDs, err := u.repo.UserIDs(ctx)
		if err != nil {
			return errors.Wrap(err, "querying users")
		}
		for _, id := range userIDs {
			if err = u.repo.CreatePayment(ctx, &Payment{UserID: id, SeasonID: season.ID}); err != nil {
				return errors.Wrapf(err, "creating payment of user %d", id)
			}
		}
		return nil
	})
	return season, err
}

func (svc *Service) UpdateSeason(ctx context.Context, id int, in SeasonInput) (Season, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Season{}, err
	}

	var season Season
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		if season, err = u.repo.GetSeason(ctx, id); err != nil {
			return err
		}
		if other, err := u.repo.GetSeasonByYear(ctx, in.Year); err == nil && other.ID != id {
			return core.NewFieldError(ErrSeasonExists.Error(), "year")
		}
		in.apply(&season)
		if err = u.repo.UpdateSeason(ctx, &season); err != nil {
			return errors.Wrap(err, "updating season")
		}
		if season.IsCurrent {
			return errors.Wrap(u.repo.SetCurrentSeason(ctx, season.ID), "setting current season")
		}
		return nil
	})
	return season, err
}

func (svc *Service) GetSeason(ctx context.Context, id int) (Season, error) {
	return svc.store.GetSeason(ctx, id)
}

func (svc *Service) QuerySeasons(ctx context.Context, filter SeasonFilter) ([]Season, error) {
	return svc.store.QuerySeasons(ctx, filter)
}

func (svc *Service) DeleteSeason(ctx context.Context, id int) error {
	return svc.atomic(ctx, func(u *unit) error {
		if _, err := u.repo.GetSeason(ctx, id); err != nil {
			return err
		}
		return errors.Wrap(u.repo.DeleteSeason(ctx, id), "deleting season")
	})
}

// Teachers

func (svc *Service) checkTeacherName(ctx context.Context, repo Repository, name string, excludeID int) error {
	exists, err := repo.TeacherNameExists(ctx, name, excludeID)
	if err != nil {
		return errors.Wrap(err, "checking teacher name")
	}
	if exists {
		return core.NewFieldError(ErrTeacherExists.Error(), "name")
	}
	return nil
}

func (svc *Service) CreateTeacher(ctx context.Context, in TeacherInput) (Teacher, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Teacher{}, err
	}
	teacher := Teacher{Name: in.Name}
	err := svc.atomic(ctx, func(u *unit) error {
		if err := svc.checkTeacherName(ctx, u.repo, in.Name, 0); err != nil {
			return err
		}
		return errors.Wrap(u.repo.CreateTeacher(ctx, &teacher), "creating teacher")
	})
	return teacher, err
}

func (svc *Service) UpdateTeacher(ctx context.Context, id int, in TeacherInput) (Teacher, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Teacher{}, err
	}
	var teacher Teacher
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		if teacher, err = u.repo.GetTeacher(ctx, id); err != nil {
			return err
		}
		if err = svc.checkTeacherName(ctx, u.repo, in.Name, id); err != nil {
			return err
		}
		teacher.Name = in.Name
		return errors.Wrap(u.repo.UpdateTeacher(ctx, &teacher), "updating teacher")
	})
	return teacher, err
}

func (svc *Service) GetTeacher(ctx context.Context, id int) (Teacher, error) {
	return svc.store.GetTeacher(ctx, id)
}

func (svc *Service) QueryTeachers(ctx context.Context) ([]Teacher, error) {
	return svc.store.QueryTeachers(ctx)
}

// DeleteTeacher deletes the teacher; their courses are kept without teacher.
func (svc *Service) DeleteTeacher(ctx context.Context, id int) error {
	return svc.atomic(ctx, func(u *unit) error {
		if _, err := u.repo.GetTeacher(ctx, id); err != nil {
			return err
		}
		return errors.Wrap(u.repo.DeleteTeacher(ctx, id), "deleting teacher")
	})
}

// Courses

func (svc *Service) checkCourseRefs(ctx context.Context, repo Repository, in CourseInput) error {
	if _, err := repo.GetSeason(ctx, in.SeasonID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return core.NewFieldError("season not found", "season")
		}
		return errors.Wrap(err, "getting course season")
	}
	if in.TeacherID != nil {
		if _, err := repo.GetTeacher(ctx, *in.TeacherID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return core.NewFieldError("teacher not found", "teacher")
			}
			return errors.Wrap(err, "getting course teacher")
		}
	}
	return nil
}

func (svc *Service) CreateCourse(ctx context.Context, in CourseInput) (Course, error) {
	if in.Capacity == 0 {
		in.Capacity = svc.capacity
	}
	if err := in.Validate(svc.validate); err != nil {
		return Course{}, err
	}

	var course Course
	err := svc.atomic(ctx, func(u *unit) error {
		if err := svc.checkCourseRefs(ctx, u.repo, in); err != nil {
			return err
		}
		in.apply(&course)
		if err := u.repo.CreateCourse(ctx, &course); err != nil {
			if errors.Is(err, ErrCourseExists) {
				return core.NewFieldError(ErrCourseExists.Error(), "name")
			}
			return errors.Wrap(err, "creating course")
		}
		return nil
	})
	return course, err
}

// UpdateCourse saves the course then offers the seats it may have gained to its waiting list.
func (svc *Service) UpdateCourse(ctx context.Context, id int, in CourseInput) (Course, error) {
	if in.Capacity == 0 {
		in.Capacity = svc.capacity
	}
	if err := in.Validate(svc.validate); err != nil {
		return Course{}, err
	}

	var course Course
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		if course, err = u.repo.GetCourse(ctx, id); err != nil {
			return err
		}
		if in.SeasonID != course.SeasonID && course.ActiveCount+course.WaitingCount > 0 {
			return core.NewFieldError("the season of a course with members cannot change", "season")
		}
		if err = svc.checkCourseRefs(ctx, u.repo, in); err != nil {
			return err
		}
		in.apply(&course)
		if err = u.repo.UpdateCourse(ctx, &course); err != nil {
			if errors.Is(err, ErrCourseExists) {
				return core.NewFieldError(ErrCourseExists.Error(), "name")
			}
			return errors.Wrap(err, "updating course")
		}
		if _, err = u.engine.Sweep(ctx); err != nil && !errors.Is(err, ErrNoCurrentSeason) {
			return errors.Wrap(err, "sweeping waiting lists")
		}
		course, err = u.repo.GetCourse(ctx, id)
		return errors.Wrap(err, "reloading course")
	})
	return course, err
}

func (svc *Service) GetCourse(ctx context.Context, id int) (Course, error) {
	return svc.store.GetCourse(ctx, id)
}

func (svc *Service) QueryCourses(ctx context.Context, filter CourseFilter) ([]Course, error) {
	return svc.store.QueryCourses(ctx, filter)
}

func (svc *Service) DeleteCourse(ctx context.Context, id int) error {
	return svc.atomic(ctx, func(u *unit) error {
		if _, err := u.repo.GetCourse(ctx, id); err != nil {
			return err
		}
		return errors.Wrap(u.repo.DeleteCourse(ctx, id), "deleting course")
	})
}

type CopySeasonInput struct {
	FromSeason int `json:"from_season" validate:"required"`
	ToSeason   int `json:"to_season" validate:"required,nefield=FromSeason"`
}

// CopySeason duplicates the courses of a season into another and returns the courses of the destination.
func (svc *Service) CopySeason(ctx context.Context, in CopySeasonInput) ([]Course, error) {
	if err := svc.validate.Struct(in); err != nil {
		return nil, err
	}
	var courses []Course
	err := svc.atomic(ctx, func(u *unit) error {
		if _, err := u.repo.GetSeason(ctx, in.FromSeason); err != nil {
			if errors.Is(err, ErrNotFound) {
				return core.NewFieldError("season not found", "from_season")
			}
			return err
		}
		copied, err := u.engine.CopySeason(ctx, in.FromSeason, in.ToSeason)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return core.NewFieldError("season not found", "to_season")
			}
			return err
		}
		svc.logger.Info(fmt.Sprintf("copy season: %d course(s) copied from season %d to %d", copied, in.FromSeason, in.ToSeason))
		courses, err = u.repo.QueryCourses(ctx, CourseFilter{SeasonID: in.ToSeason})
		return errors.Wrap(err, "querying copied courses")
	})
	return courses, err
}

// CopySeasonByYear is CopySeason with season years, for operators.
func (svc *Service) CopySeasonByYear(ctx context.Context, from, to string) ([]Course, error) {
	fromSeason, err := svc.store.GetSeasonByYear(ctx, strings.TrimSpace(from))
	if err != nil {
		return nil, errors.Wrapf(err, "getting season %s", from)
	}
	toSeason, err := svc.store.GetSeasonByYear(ctx, strings.TrimSpace(to))
	if err != nil {
		return nil, errors.Wrapf(err, "getting season %s", to)
	}
	return svc.CopySeason(ctx, CopySeasonInput{FromSeason: fromSeason.ID, ToSeason: toSeason.ID})
}

// Sweep offers the free seats of the current season to the waiting lists.
func (svc *Service) Sweep(ctx context.Context) (int, error) {
	var promoted int
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		promoted, err = u.engine.Sweep(ctx)
		return err
	})
	return promoted, err
}
