package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/kdance/registration/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
)

var (
	AllRoles = []string{RoleAdmin, RoleTeacher}

	Roles = []Role{
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Admin", Value: RoleAdmin},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// User is an account. The email is also the username.
type User struct {
	ID           int            `gorm:"primaryKey" json:"id"`
	FirstName    string         `gorm:"size:150;not null" json:"first_name"`
	LastName     string         `gorm:"size:150;not null" json:"last_name"`
	Email        string         `gorm:"size:254;not null;uniqueIndex" json:"email"`
	PasswordHash []byte         `gorm:"not null" json:"-"`
	Roles        pq.StringArray `gorm:"type:text[]" json:"roles"`
	IsActive     bool           `gorm:"not null" json:"is_active"`
	LastLogin    null.Time      `gorm:"type:timestamp" json:"last_login"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

func (u User) IsTeacher() bool {
	return u.HasRole(RoleTeacher)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	FirstName       string   `json:"first_name" validate:"required,max=150"`
	LastName        string   `json:"last_name" validate:"required,max=150"`
	Email           string   `json:"email" validate:"required,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Clean() {
	nu.FirstName = core.TitleString(nu.FirstName)
	nu.LastName = core.TitleString(nu.LastName)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Clean()
	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, nu.Email, 0)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	FirstName       string   `json:"first_name" validate:"omitempty,max=150"`
	LastName        string   `json:"last_name" validate:"omitempty,max=150"`
	Email           string   `json:"email" validate:"omitempty,email"`
	IsActive        *bool    `json:"is_active"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	Password        string   `json:"password" validate:"omitempty"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

// Validate fills the blank fields from `origUsr` before validating.
func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc *Service) error {
	if name := core.TitleString(uu.FirstName); name != "" {
		uu.FirstName = name
	} else {
		uu.FirstName = origUsr.FirstName
	}
	if name := core.TitleString(uu.LastName); name != "" {
		uu.LastName = name
	} else {
		uu.LastName = origUsr.LastName
	}
	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}
	if uu.Roles == nil {
		uu.Roles = origUsr.Roles
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, uu.Email, origUsr.ID)
}

type QueryFilter struct {
	Search   string   `query:"search"`
	Roles    []string `query:"role"`
	IsActive *bool    `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
