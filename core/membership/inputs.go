package membership

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"gorm.io/datatypes"

	"github.com/kdance/registration/core"
)

// fieldErrors accumulates the checks struct tags cannot express (decimals, cross-field rules).
type fieldErrors []core.FieldError

func (fe *fieldErrors) add(field, msg string) {
	*fe = append(*fe, core.FieldError{Field: field, Error: msg})
}

func (fe *fieldErrors) nonNegative(field string, d decimal.Decimal) {
	if d.IsNegative() {
		fe.add(field, "cannot be negative")
	}
}

func (fe fieldErrors) err() error {
	if len(fe) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(fe))
	for _, f := range fe {
		msgs = append(msgs, f.Field+": "+f.Error)
	}
	return core.NewValidationError(errors.New(strings.Join(msgs, "; ")), fe...)
}

// SeasonInput is the payload to create or update a season.
// A missing is_current makes a new season current; a missing membership_amount falls back to the configured one.
// On update, both leave the season unchanged.
type SeasonInput struct {
	Year             string              `json:"year" validate:"required,season_year"`
	IsCurrent        *bool               `json:"is_current"`
	PreSignupStart   null.Time           `json:"pre_signup_start"`
	PreSignupEnd     null.Time           `json:"pre_signup_end"`
	SignupStart      null.Time           `json:"signup_start"`
	SignupEnd        null.Time           `json:"signup_end"`
	DiscountPercent  decimal.Decimal     `json:"discount_percent"`
	DiscountLimit    int                 `json:"discount_limit" validate:"min=0"`
	MembershipAmount decimal.NullDecimal `json:"membership_amount"`
	PassSportAmount  decimal.Decimal     `json:"pass_sport_amount"`
	FFDAAmount       decimal.Decimal     `json:"ffd_a_amount"`
	FFDBAmount       decimal.Decimal     `json:"ffd_b_amount"`
	FFDCAmount       decimal.Decimal     `json:"ffd_c_amount"`
	FFDDAmount       decimal.Decimal     `json:"ffd_d_amount"`
}

func (in *SeasonInput) Validate(validate *validator.Validate) error {
	in.Year = core.CleanString(in.Year)
	if err := validate.Struct(in); err != nil {
		return err
	}

	var fe fieldErrors
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred) {
		fe.add("discount_percent", "must be between 0 and 100")
	}
	if in.MembershipAmount.Valid {
		fe.nonNegative("membership_amount", in.MembershipAmount.Decimal)
	}
	fe.nonNegative("pass_sport_amount", in.PassSportAmount)
	fe.nonNegative("ffd_a_amount", in.FFDAAmount)
	fe.nonNegative("ffd_b_amount", in.FFDBAmount)
	fe.nonNegative("ffd_c_amount", in.FFDCAmount)
	fe.nonNegative("ffd_d_amount", in.FFDDAmount)

	windows := []struct {
		field       string
		before, end null.Time
		msg         string
	}{
		{"pre_signup_end", in.PreSignupStart, in.PreSignupEnd, "must be after the pre-signup start"},
		{"signup_start", in.PreSignupEnd, in.SignupStart, "must be after the pre-signup end"},
		{"signup_end", in.SignupStart, in.SignupEnd, "must be after the signup start"},
	}
	for _, w := range windows {
		if w.before.Valid && w.end.Valid && w.end.Time.Before(w.before.Time) {
			fe.add(w.field, w.msg)
		}
	}
	return fe.err()
}

func (in SeasonInput) apply(s *Season) {
	s.Year = in.Year
	if in.IsCurrent != nil {
		s.IsCurrent = *in.IsCurrent
	}
	s.PreSignupStart = in.PreSignupStart
	s.PreSignupEnd = in.PreSignupEnd
	s.SignupStart = in.SignupStart
	s.SignupEnd = in.SignupEnd
	s.DiscountPercent = in.DiscountPercent
	s.DiscountLimit = in.DiscountLimit
	if in.MembershipAmount.Valid {
		s.MembershipAmount = in.MembershipAmount.Decimal
	}
	s.PassSportAmount = in.PassSportAmount
	s.FFDAAmount = in.FFDAAmount
	s.FFDBAmount = in.FFDBAmount
	s.FFDCAmount = in.FFDCAmount
	s.FFDDAmount = in.FFDDAmount
}

type TeacherInput struct {
	Name string `json:"name" validate:"required,max=30"`
}

func (in *TeacherInput) Validate(validate *validator.Validate) error {
	in.Name = core.CleanString(in.Name)
	return validate.Struct(in)
}

type CourseInput struct {
	SeasonID  int             `json:"season" validate:"required"`
	TeacherID *int            `json:"teacher"`
	Name      string          `json:"name" validate:"required,max=150"`
	Price     decimal.Decimal `json:"price"`
	Weekday   int             `json:"weekday" validate:"min=0,max=6"`
	StartHour datatypes.Time  `json:"start_hour"`
	EndHour   datatypes.Time  `json:"end_hour"`
	Capacity  int             `json:"capacity" validate:"min=0"`
}

func (in *CourseInput) Validate(validate *validator.Validate) error {
	in.Name = core.CleanString(in.Name)
	if err := validate.Struct(in); err != nil {
		return err
	}
	var fe fieldErrors
	fe.nonNegative("price", in.Price)
	if time.Duration(in.EndHour) <= time.Duration(in.StartHour) {
		fe.add("end_hour", "must be after the start hour")
	}
	return fe.err()
}

func (in CourseInput) apply(c *Course) {
	c.SeasonID = in.SeasonID
	c.TeacherID = in.TeacherID
	c.Name = in.Name
	c.Price = in.Price
	c.Weekday = in.Weekday
	c.StartHour = in.StartHour
	c.EndHour = in.EndHour
	c.Capacity = in.Capacity
}

// SportPassInput only carries the pass code; its amount is the one of the member's season.
type SportPassInput struct {
	Code string `json:"code" validate:"required,max=50"`
}

// MemberInput is the payload to create or update a member.
// On update, a nil ActiveCourses leaves the enrollments untouched.
type MemberInput struct {
	UserID        int             `json:"user"`
	SeasonID      int             `json:"season" validate:"required"`
	FirstName     string          `json:"first_name" validate:"required,max=25"`
	LastName      string          `json:"last_name" validate:"required,max=35"`
	Birthday      datatypes.Date  `json:"birthday"`
	Address       string          `json:"address" validate:"required,max=500"`
	PostalCode    string          `json:"postal_code" validate:"required,max=10"`
	City          string          `json:"city" validate:"required,max=100"`
	Email         string          `json:"email" validate:"required,email,max=150"`
	Phone         string          `json:"phone" validate:"required,phone"`
	FFDLicense    int             `json:"ffd_license" validate:"min=0,max=4"`
	Documents     Documents       `json:"documents"`
	Contacts      []Contact       `json:"contacts" validate:"dive"`
	SportPass     *SportPassInput `json:"sport_pass"`
	ActiveCourses []int           `json:"active_courses"`
}

func (in *MemberInput) Clean() {
	in.FirstName = core.CleanString(in.FirstName)
	in.LastName = core.CleanString(in.LastName)
	in.City = core.TitleString(in.City)
	in.Address = core.CleanString(in.Address)
	in.PostalCode = core.CleanString(in.PostalCode)
	in.Email = core.CleanString(in.Email, true /* lower */)
	in.Phone = core.CleanString(in.Phone)
	for i := range in.Contacts {
		c := &in.Contacts[i]
		c.FirstName = core.CleanString(c.FirstName)
		c.LastName = core.CleanString(c.LastName)
		c.Email = core.CleanString(c.Email, true /* lower */)
		c.Phone = core.CleanString(c.Phone)
		c.ContactType = core.CleanString(c.ContactType, true /* lower */)
	}
	if in.SportPass != nil {
		in.SportPass.Code = core.CleanString(in.SportPass.Code)
	}
}

func (in *MemberInput) Validate(validate *validator.Validate) error {
	in.Clean()
	if err := validate.Struct(in); err != nil {
		return err
	}

	var fe fieldErrors
	if time.Time(in.Birthday).IsZero() {
		fe.add("birthday", "this field is required")
	}
	var emergency bool
	for i, c := range in.Contacts {
		switch c.ContactType {
		case ContactEmergency:
			emergency = true
		case ContactResponsible:
			if c.Email == "" {
				fe.add(fmt.Sprintf("contacts[%d].email", i), "an email is required for a responsible contact")
			}
		}
	}
	if !emergency {
		fe.add("contacts", "at least one emergency contact is required")
	}
	if in.SportPass != nil {
		if err := validate.Struct(in.SportPass); err != nil {
			return err
		}
	}
	return fe.err()
}

// apply copies the input onto `m`, contacts and sport pass included. Enrollments are left to the reconciler.
// The sport pass is worth the pass amount of `season`.
func (in MemberInput) apply(m *Member, season Season) {
	m.FirstName = in.FirstName
	m.LastName = in.LastName
	m.Birthday = in.Birthday
	m.Address = in.Address
	m.PostalCode = in.PostalCode
	m.City = in.City
	m.Email = in.Email
	m.Phone = in.Phone
	m.FFDLicense = in.FFDLicense
	m.Documents = in.Documents

	contacts := make([]Contact, 0, len(in.Contacts))
	for _, c := range in.Contacts {
		c.ID = 0
		c.MemberID = m.ID
		contacts = append(contacts, c)
	}
	m.Contacts = contacts

	if in.SportPass == nil {
		m.SportPass = nil
		return
	}
	pass := SportPass{MemberID: m.ID, Code: in.SportPass.Code, Amount: season.PassSportAmount}
	if m.SportPass != nil {
		pass.ID = m.SportPass.ID
	}
	m.SportPass = &pass
}

type CheckInput struct {
	Name   string          `json:"name" validate:"required,max=100"`
	Bank   string          `json:"bank" validate:"required,max=100"`
	Number string          `json:"number" validate:"required,max=50"`
	Amount decimal.Decimal `json:"amount"`
	Month  int             `json:"month" validate:"min=1,max=12"`
}

type PaymentInput struct {
	Cash            decimal.Decimal `json:"cash"`
	Refund          decimal.Decimal `json:"refund"`
	SpecialDiscount decimal.Decimal `json:"special_discount"`
	Comment         string          `json:"comment" validate:"max=500"`
	Ancv            Coupon          `json:"ancv"`
	SportCoupon     Coupon          `json:"sport_coupon"`
	OtherPayment    OtherPayment    `json:"other_payment"`
	Checks          []CheckInput    `json:"checks" validate:"dive"`
}

func (in *PaymentInput) Validate(validate *validator.Validate) error {
	in.Comment = core.CleanString(in.Comment)
	in.OtherPayment.Comment = core.CleanString(in.OtherPayment.Comment)
	if err := validate.Struct(in); err != nil {
		return err
	}

	var fe fieldErrors
	fe.nonNegative("cash", in.Cash)
	fe.nonNegative("refund", in.Refund)
	fe.nonNegative("special_discount", in.SpecialDiscount)
	fe.nonNegative("other_payment.amount", in.OtherPayment.Amount)
	coupons := []struct {
		field  string
		coupon Coupon
	}{{"ancv", in.Ancv}, {"sport_coupon", in.SportCoupon}}
	for _, c := range coupons {
		switch {
		case c.coupon.Amount.IsNegative() || c.coupon.Count < 0:
			fe.add(c.field, "cannot be negative")
		case c.coupon.Amount.IsPositive() && c.coupon.Count == 0:
			fe.add(c.field+".count", "the number of coupons is required with an amount")
		case c.coupon.Count > 0 && !c.coupon.Amount.IsPositive():
			fe.add(c.field+".amount", "the amount is required with a number of coupons")
		}
	}
	if in.OtherPayment.Amount.IsPositive() && in.OtherPayment.Comment == "" {
		fe.add("other_payment.comment", "a comment is required for another payment")
	}
	for i, c := range in.Checks {
		if !c.Amount.IsPositive() {
			fe.add(fmt.Sprintf("checks[%d].amount", i), "must be positive")
		}
	}
	return fe.err()
}

// apply copies the input onto `p`. The checks are replaced as a whole.
func (in PaymentInput) apply(p *Payment) {
	p.Cash = in.Cash
	p.Refund = in.Refund
	p.SpecialDiscount = in.SpecialDiscount
	p.Comment = in.Comment
	p.Ancv = in.Ancv
	p.SportCoupon = in.SportCoupon
	p.OtherPayment = in.OtherPayment

	checks := make([]Check, 0, len(in.Checks))
	for _, c := range in.Checks {
		checks = append(checks, Check{
			PaymentID: p.ID,
			Name:      core.CleanString(c.Name),
			Bank:      core.CleanString(c.Bank),
			Number:    core.CleanString(c.Number),
			Amount:    c.Amount,
			Month:     c.Month,
		})
	}
	p.Checks = checks
}

// Card transaction statuses reported by the payment terminal.
const (
	CardAccepted  = "accepted"
	CardRefused   = "refused"
	CardCancelled = "cancelled"
)

// CardEvent is the status report of a card transaction.
type CardEvent struct {
	Status          string          `json:"status" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transaction_type" validate:"max=50"`
	Reference       string          `json:"reference" validate:"max=100"`
}

func (in *CardEvent) Validate(validate *validator.Validate) error {
	in.Status = core.CleanString(in.Status, true /* lower */)
	in.Reference = core.CleanString(in.Reference)
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.Status == CardAccepted && !in.Amount.IsPositive() {
		return core.NewFieldError("must be positive", "amount")
	}
	return nil
}

type SettingsInput struct {
	AllowSignup               bool `json:"allow_signup"`
	AllowNewMember            bool `json:"allow_new_member"`
	PreSignupPaymentDeltaDays int  `json:"pre_signup_payment_delta_days" validate:"min=0"`
	SignupPaymentDeltaDays    int  `json:"signup_payment_delta_days" validate:"min=0"`
}

func (in *SettingsInput) Validate(validate *validator.Validate) error {
	return validate.Struct(in)
}
