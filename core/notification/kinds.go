// Package notification defines the messages the membership core emits and the gateway delivering them.
//
// Every kind is its own struct carrying the fields its message needs. The set is closed:
// only the types of this package implement Notification.
package notification

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindCourseCancelled          Kind = "course_cancelled"
	KindCoursesUpdated           Kind = "courses_updated"
	KindWaitingPromoted          Kind = "waiting_promoted"
	KindWaitingListInconsistency Kind = "waiting_list_inconsistency"
	KindMemberCreated            Kind = "member_created"
	KindMemberDeleted            Kind = "member_deleted"
	KindPaymentStatusUnknown     Kind = "payment_status_unknown"
	KindPreSignupWarning         Kind = "pre_signup_warning"
)

// Notification is implemented by the kinds below only.
type Notification interface {
	Kind() Kind
	sealed()
}

type (
	CourseCancelled struct {
		FullName     string
		CourseName   string
		CancelRefund decimal.NullDecimal
	}

	CoursesUpdated struct {
		FullName     string
		Removed      []string
		AddedActive  []string
		AddedWaiting []string
	}

	WaitingPromoted struct {
		FullName   string
		CourseName string
		Weekday    string
		StartHour  string // "18h30"
		// set when the signup period is over: the member has to come to their next course to finalise the registration
		NextCourseWarning bool
	}

	WaitingListInconsistency struct {
		Member string
		Course string
		Detail string
	}

	MemberCreated struct {
		FullName       string
		SeasonYear     string
		ActiveCourses  []string
		WaitingCourses []string
	}

	MemberDeleted struct {
		FullName   string
		SeasonYear string
	}

	PaymentStatusUnknown struct {
		Username  string
		Reference string
		Status    string
	}

	PreSignupWarning struct {
		Username string
		FullName string
		Birthday string // DD/MM/YYYY
	}
)

func (CourseCancelled) Kind() Kind          { return KindCourseCancelled }
func (CoursesUpdated) Kind() Kind           { return KindCoursesUpdated }
func (WaitingPromoted) Kind() Kind          { return KindWaitingPromoted }
func (WaitingListInconsistency) Kind() Kind { return KindWaitingListInconsistency }
func (MemberCreated) Kind() Kind            { return KindMemberCreated }
func (MemberDeleted) Kind() Kind            { return KindMemberDeleted }
func (PaymentStatusUnknown) Kind() Kind     { return KindPaymentStatusUnknown }
func (PreSignupWarning) Kind() Kind         { return KindPreSignupWarning }

func (CourseCancelled) sealed()          {}
func (CoursesUpdated) sealed()           {}
func (WaitingPromoted) sealed()          {}
func (WaitingListInconsistency) sealed() {}
func (MemberCreated) sealed()            {}
func (MemberDeleted) sealed()            {}
func (PaymentStatusUnknown) sealed()     {}
func (PreSignupWarning) sealed()         {}

// Refund is the formatted refund amount, for templates.
func (n CourseCancelled) Refund() string {
	return n.CancelRefund.Decimal.StringFixed(2)
}

// ContractError is returned when a notification misses one of its required fields.
type ContractError struct {
	Kind    Kind
	Missing []string
}

func (err *ContractError) Error() string {
	return fmt.Sprintf("%s notification: missing required fields: %s", err.Kind, strings.Join(err.Missing, ", "))
}

// Validate checks that `n` carries every field its kind requires.
func Validate(n Notification) error {
	var missing []string
	require := func(field string, present bool) {
		if !present {
			missing = append(missing, field)
		}
	}

	switch v := n.(type) {
	case CourseCancelled:
		require("full_name", v.FullName != "")
		require("course_name", v.CourseName != "")
		require("cancel_refund", v.CancelRefund.Valid)
	case CoursesUpdated:
		require("full_name", v.FullName != "")
		require("courses", len(v.Removed)+len(v.AddedActive)+len(v.AddedWaiting) > 0)
	case WaitingPromoted:
		require("full_name", v.FullName != "")
		require("course_name", v.CourseName != "")
		require("weekday", v.Weekday != "")
		require("start_hour", v.StartHour != "")
	case WaitingListInconsistency:
		require("member", v.Member != "")
		require("course", v.Course != "")
	case MemberCreated:
		require("full_name", v.FullName != "")
		require("season_year", v.SeasonYear != "")
	case MemberDeleted:
		require("full_name", v.FullName != "")
		require("season_year", v.SeasonYear != "")
	case PaymentStatusUnknown:
		require("username", v.Username != "")
	case PreSignupWarning:
		require("username", v.Username != "")
		require("full_name", v.FullName != "")
		require("birthday", v.Birthday != "")
	case nil:
		return errors.New("nil notification")
	default:
		return errors.Errorf("unknown notification %T", n)
	}

	if len(missing) > 0 {
		return &ContractError{Kind: n.Kind(), Missing: missing}
	}
	return nil
}

func subject(n Notification) string {
	switch v := n.(type) {
	case CourseCancelled:
		return "Course cancelled: " + v.CourseName
	case CoursesUpdated:
		return "Your courses have been updated"
	case WaitingPromoted:
		return "A seat is available: " + v.CourseName
	case WaitingListInconsistency:
		return "Waiting list inconsistency"
	case MemberCreated:
		return "Registration received for " + v.SeasonYear
	case MemberDeleted:
		return "Registration deleted for " + v.SeasonYear
	case PaymentStatusUnknown:
		return "Card payment with unknown status"
	case PreSignupWarning:
		return "Pre-signup from a new member"
	}
	return ""
}
