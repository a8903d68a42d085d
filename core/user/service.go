package user

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/kdance/registration/core"
)

var (
	// errors
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("a user with this email already exists")
)

type (
	Repository interface {
		// EmailExists does a case-insensitive match, ignoring user `excludeID`.
		EmailExists(ctx context.Context, email string, excludeID int) (bool, error)
		CreateUser(ctx context.Context, user *User) error
		GetUser(ctx context.Context, id int) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of the names or the email.
		QueryUsers(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, user *User) error
		SetLastLogin(ctx context.Context, id int, at time.Time) error
		DeleteUsers(ctx context.Context, ids ...int) error
	}

	Service struct {
		repo Repository
		now  func() time.Time
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (svc *Service) checkUniqueness(ctx context.Context, email string, excludeID int) error {
	exists, err := svc.repo.EmailExists(ctx, email, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	usr := User{
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     pq.StringArray{},
	}
	usr.Roles = append(usr.Roles, nu.Roles...)
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	if err := svc.repo.CreateUser(ctx, &usr); err != nil {
		return User{}, err
	}
	return usr, nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering...)
}

func (svc *Service) GetByID(ctx context.Context, id int) (User, error) {
	return svc.repo.GetUser(ctx, id)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.FirstName = uu.FirstName
	usr.LastName = uu.LastName
	usr.Email = uu.Email
	usr.Roles = append(pq.StringArray{}, uu.Roles...)
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	if err := svc.repo.UpdateUser(ctx, &usr); err != nil {
		return User{}, err
	}
	return usr, nil
}

// ResetPassword sets a new password without any policy check: it is meant for operators.
func (svc *Service) ResetPassword(ctx context.Context, email, pwd string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	return svc.repo.UpdateUser(ctx, &usr)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := svc.now().UTC()
	if err := svc.repo.SetLastLogin(ctx, usr.ID, now); err != nil {
		return User{}, err
	}
	usr.LastLogin = null.TimeFrom(now)
	return usr, nil
}

func (svc *Service) Delete(ctx context.Context, ids ...int) error {
	return svc.repo.DeleteUsers(ctx, ids...)
}
