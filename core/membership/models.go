package membership

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"gorm.io/datatypes"

	"github.com/kdance/registration/core/user"
)

type EnrollmentState string

const (
	StateActive    EnrollmentState = "active"
	StateWaiting   EnrollmentState = "waiting"
	StateCancelled EnrollmentState = "cancelled"
)

const (
	ContactParent      = "parent"
	ContactEmergency   = "emergency"
	ContactResponsible = "responsible"
)

// Weekdays are the course days, Monday first.
var Weekdays = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// GeneralSettings is the single row of association-wide switches.
type GeneralSettings struct {
	ID                        int  `gorm:"primaryKey" json:"-"`
	AllowSignup               bool `gorm:"not null" json:"allow_signup"`
	AllowNewMember            bool `gorm:"not null" json:"allow_new_member"`
	PreSignupPaymentDeltaDays int  `gorm:"not null" json:"pre_signup_payment_delta_days"`
	SignupPaymentDeltaDays    int  `gorm:"not null" json:"signup_payment_delta_days"`
}

func (GeneralSettings) TableName() string { return "general_settings" }

// DefaultSettings are the switches used until an operator saves others.
func DefaultSettings() GeneralSettings {
	return GeneralSettings{ID: 1, AllowSignup: true, AllowNewMember: true, PreSignupPaymentDeltaDays: 30, SignupPaymentDeltaDays: 30}
}

type Season struct {
	ID               int             `gorm:"primaryKey" json:"id"`
	Year             string          `gorm:"size:9;not null;uniqueIndex" json:"year"`
	IsCurrent        bool            `gorm:"not null" json:"is_current"`
	PreSignupStart   null.Time       `gorm:"type:timestamp" json:"pre_signup_start"`
	PreSignupEnd     null.Time       `gorm:"type:timestamp" json:"pre_signup_end"`
	SignupStart      null.Time       `gorm:"type:timestamp" json:"signup_start"`
	SignupEnd        null.Time       `gorm:"type:timestamp" json:"signup_end"`
	DiscountPercent  decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"discount_percent"`
	DiscountLimit    int             `gorm:"not null" json:"discount_limit"`
	MembershipAmount decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"membership_amount"`
	PassSportAmount  decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"pass_sport_amount"`
	FFDAAmount       decimal.Decimal `gorm:"column:ffd_a_amount;type:numeric(10,2);not null" json:"ffd_a_amount"`
	FFDBAmount       decimal.Decimal `gorm:"column:ffd_b_amount;type:numeric(10,2);not null" json:"ffd_b_amount"`
	FFDCAmount       decimal.Decimal `gorm:"column:ffd_c_amount;type:numeric(10,2);not null" json:"ffd_c_amount"`
	FFDDAmount       decimal.Decimal `gorm:"column:ffd_d_amount;type:numeric(10,2);not null" json:"ffd_d_amount"`
	CreatedAt        time.Time       `json:"-"`
}

// PreviousSeason is the year label of the season before ("2023-2024" -> "2022-2023").
func (s Season) PreviousSeason() string {
	var start, end int
	if _, err := fmt.Sscanf(s.Year, "%d-%d", &start, &end); err != nil {
		return ""
	}
	return strconv.Itoa(start-1) + "-" + strconv.Itoa(end-1)
}

func within(t time.Time, from, to null.Time) bool {
	if !from.Valid || !to.Valid {
		return false
	}
	return !t.Before(from.Time) && !t.After(to.Time)
}

func (s Season) IsPreSignupOngoing(now time.Time) bool {
	return within(now, s.PreSignupStart, s.PreSignupEnd)
}

func (s Season) IsSignupOngoing(now time.Time) bool {
	return within(now, s.SignupStart, s.SignupEnd)
}

// SignupOver reports whether the signup period of the season already ended.
func (s Season) SignupOver(now time.Time) bool {
	return s.SignupEnd.Valid && s.SignupEnd.Time.Before(now)
}

// LicenseFee is the fee of the FFD license tier (1..4 -> A..D). Tier 0 means no license.
func (s Season) LicenseFee(tier int) decimal.Decimal {
	switch tier {
	case 1:
		return s.FFDAAmount
	case 2:
		return s.FFDBAmount
	case 3:
		return s.FFDCAmount
	case 4:
		return s.FFDDAmount
	}
	return decimal.Zero
}

type Teacher struct {
	ID   int    `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:30;not null;uniqueIndex" json:"name"`
}

type Course struct {
	ID        int             `gorm:"primaryKey" json:"id"`
	SeasonID  int             `gorm:"not null;uniqueIndex:idx_courses_unique,priority:2" json:"season"`
	TeacherID *int            `gorm:"index" json:"teacher"`
	Name      string          `gorm:"size:150;not null;uniqueIndex:idx_courses_unique,priority:1" json:"name"`
	Price     decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`
	Weekday   int             `gorm:"not null;uniqueIndex:idx_courses_unique,priority:3" json:"weekday"`
	StartHour datatypes.Time  `gorm:"not null;uniqueIndex:idx_courses_unique,priority:4" json:"start_hour"`
	EndHour   datatypes.Time  `gorm:"not null" json:"end_hour"`
	Capacity  int             `gorm:"not null" json:"capacity"`

	// derived from the enrollments, never stored
	ActiveCount  int `gorm:"-" json:"active_count"`
	WaitingCount int `gorm:"-" json:"waiting_count"`
}

// IsComplete reports whether every seat of the course is taken.
func (c Course) IsComplete() bool {
	return c.ActiveCount >= c.Capacity
}

func (c Course) WeekdayName() string {
	if c.Weekday < 0 || c.Weekday >= len(Weekdays) {
		return ""
	}
	return Weekdays[c.Weekday]
}

// StartLabel formats the start hour as "18h30".
func (c Course) StartLabel() string {
	d := time.Duration(c.StartHour)
	return fmt.Sprintf("%02dh%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Label identifies the course in messages: "Salsa (Monday 18h30)".
func (c Course) Label() string {
	return fmt.Sprintf("%s (%s %s)", c.Name, c.WeekdayName(), c.StartLabel())
}

type Documents struct {
	AuthorisePhotos    bool  `gorm:"not null" json:"authorise_photos"`
	AuthoriseEmergency *bool `json:"authorise_emergency"`
	MedicalDocument    bool  `gorm:"not null" json:"medical_document"`
}

type Contact struct {
	ID          int    `gorm:"primaryKey" json:"-"`
	MemberID    int    `gorm:"not null;index" json:"-"`
	FirstName   string `gorm:"size:25;not null" json:"first_name" validate:"required,max=25"`
	LastName    string `gorm:"size:35;not null" json:"last_name" validate:"required,max=35"`
	Email       string `gorm:"size:150" json:"email" validate:"omitempty,email"`
	Phone       string `gorm:"size:10;not null" json:"phone" validate:"required,phone"`
	ContactType string `gorm:"size:20;not null" json:"contact_type" validate:"required,oneof=parent emergency responsible"`
}

type SportPass struct {
	ID       int             `gorm:"primaryKey" json:"-"`
	MemberID int             `gorm:"not null;uniqueIndex" json:"-"`
	Code     string          `gorm:"size:50;not null" json:"code" validate:"required,max=50"`
	Amount   decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
}

// Enrollment is the single source of truth of a member's relation to a course.
// A waiting enrollment is queued at QueuedAt; any other state has no QueuedAt.
type Enrollment struct {
	MemberID  int             `gorm:"primaryKey;autoIncrement:false" json:"member"`
	CourseID  int             `gorm:"primaryKey;autoIncrement:false;index" json:"course"`
	State     EnrollmentState `gorm:"size:10;not null;index" json:"state"`
	QueuedAt  null.Time       `gorm:"type:timestamp" json:"queued_at"`
	CreatedAt time.Time       `json:"-"`
	UpdatedAt time.Time       `json:"-"`

	Course Course `gorm:"foreignKey:CourseID" json:"-"`
}

// IsConsistent reports whether the waiting state and the queue entry agree.
func (e Enrollment) IsConsistent() bool {
	return (e.State == StateWaiting) == e.QueuedAt.Valid
}

type Member struct {
	ID           int             `gorm:"primaryKey" json:"id"`
	UserID       int             `gorm:"not null;uniqueIndex:idx_members_unique,priority:3" json:"user"`
	SeasonID     int             `gorm:"not null;uniqueIndex:idx_members_unique,priority:4;index" json:"season"`
	FirstName    string          `gorm:"size:25;not null;uniqueIndex:idx_members_unique,priority:1" json:"first_name"`
	LastName     string          `gorm:"size:35;not null;uniqueIndex:idx_members_unique,priority:2" json:"last_name"`
	Birthday     datatypes.Date  `gorm:"not null" json:"birthday"`
	Address      string          `gorm:"size:500;not null" json:"address"`
	PostalCode   string          `gorm:"size:10;not null" json:"postal_code"`
	City         string          `gorm:"size:100;not null" json:"city"`
	Email        string          `gorm:"size:150;not null" json:"email"`
	Phone        string          `gorm:"size:10;not null" json:"phone"`
	FFDLicense   int             `gorm:"column:ffd_license;not null" json:"ffd_license"`
	IsValidated  bool            `gorm:"not null" json:"is_validated"`
	CancelRefund decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"cancel_refund"`
	Documents    Documents       `gorm:"embedded;embeddedPrefix:doc_" json:"documents"`
	CreatedAt    time.Time       `json:"created"`
	UpdatedAt    time.Time       `json:"-"`

	Contacts    []Contact    `gorm:"foreignKey:MemberID" json:"contacts"`
	SportPass   *SportPass   `gorm:"foreignKey:MemberID" json:"sport_pass"`
	Enrollments []Enrollment `gorm:"foreignKey:MemberID" json:"-"`
	User        *user.User   `gorm:"foreignKey:UserID" json:"-"`
}

func (m Member) FullName() string {
	return m.FirstName + " " + m.LastName
}

// Recipients are the member and their owning account.
func (m Member) Recipients() []string {
	rcpts := []string{m.Email}
	if m.User != nil {
		rcpts = append(rcpts, m.User.Email)
	}
	return rcpts
}

// CourseIDs returns the ids of the courses the member has in `state`.
func (m Member) CourseIDs(state EnrollmentState) []int {
	ids := make([]int, 0, len(m.Enrollments))
	for _, e := range m.Enrollments {
		if e.State == state {
			ids = append(ids, e.CourseID)
		}
	}
	return ids
}

func (m Member) HasActiveCourse() bool {
	for _, e := range m.Enrollments {
		if e.State == StateActive {
			return true
		}
	}
	return false
}

// Coupon is a paper voucher payment (ANCV, sport coupon): the total amount for `Count` vouchers.
type Coupon struct {
	Amount decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Count  int             `gorm:"not null" json:"count"`
}

type OtherPayment struct {
	Amount  decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Comment string          `gorm:"size:500;not null" json:"comment"`
}

type Check struct {
	ID        int             `gorm:"primaryKey" json:"-"`
	PaymentID int             `gorm:"not null;index" json:"payment"`
	Name      string          `gorm:"size:100;not null" json:"name" validate:"required,max=100"`
	Bank      string          `gorm:"size:100;not null" json:"bank" validate:"required,max=100"`
	Number    string          `gorm:"size:50;not null" json:"number" validate:"required,max=50"`
	Amount    decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Month     int             `gorm:"not null;index" json:"month" validate:"min=1,max=12"`
}

type CardPayment struct {
	ID              int             `gorm:"primaryKey" json:"-"`
	PaymentID       int             `gorm:"not null;index" json:"-"`
	Amount          decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	TransactionType string          `gorm:"size:50;not null" json:"transaction_type"`
	Status          string          `gorm:"size:20;not null" json:"status"`
	Reference       string          `gorm:"size:100" json:"reference"`
	CreatedAt       time.Time       `json:"created"`
}

// Payment gathers everything a user paid for a season.
type Payment struct {
	ID              int             `gorm:"primaryKey" json:"id"`
	UserID          int             `gorm:"not null;uniqueIndex:idx_payments_unique,priority:1" json:"user"`
	SeasonID        int             `gorm:"not null;uniqueIndex:idx_payments_unique,priority:2" json:"season"`
	Cash            decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"cash"`
	Refund          decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"refund"`
	SpecialDiscount decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"special_discount"`
	Comment         string          `gorm:"size:500;not null" json:"comment"`
	Ancv            Coupon          `gorm:"embedded;embeddedPrefix:ancv_" json:"ancv"`
	SportCoupon     Coupon          `gorm:"embedded;embeddedPrefix:sport_coupon_" json:"sport_coupon"`
	OtherPayment    OtherPayment    `gorm:"embedded;embeddedPrefix:other_" json:"other_payment"`
	UpdatedAt       time.Time       `json:"-"`

	Checks       []Check       `gorm:"foreignKey:PaymentID" json:"checks"`
	CardPayments []CardPayment `gorm:"foreignKey:PaymentID" json:"card_payments"`
	User         *user.User    `gorm:"foreignKey:UserID" json:"-"`
}
