package membership

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/notification"
	"github.com/kdance/registration/core/user"
)

const balanceOrdering = "balance"

func registrationClosed() error {
	return core.NewValidationError(ErrRegistrationClosed)
}

func coursesIn(m Member, state EnrollmentState) []Course {
	var courses []Course
	for _, e := range m.Enrollments {
		if e.State == state {
			courses = append(courses, e.Course)
		}
	}
	return courses
}

// notifyOperators queues `n` for the operators, when any is configured.
func (svc *Service) notifyOperators(out *notification.Outbox, n notification.Notification) error {
	if len(svc.operators) == 0 {
		svc.logger.Warn(fmt.Sprintf("no operator to send the %s notification to", n.Kind()))
		return nil
	}
	return out.Add(n, svc.operators...)
}

func ensurePayment(ctx context.Context, repo Repository, userID, seasonID int) error {
	_, err := repo.GetPaymentFor(ctx, userID, seasonID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return errors.Wrap(err, "getting payment")
	}
	return errors.Wrap(repo.CreatePayment(ctx, &Payment{UserID: userID, SeasonID: seasonID}), "creating payment")
}

// EnsureCurrentPayment opens the payment of the user for the current season, if any season is current.
func (svc *Service) EnsureCurrentPayment(ctx context.Context, userID int) error {
	return svc.atomic(ctx, func(u *unit) error {
		season, err := u.settings.Current()
		if err != nil {
			return nil
		}
		return ensurePayment(ctx, u.repo, userID, season.ID)
	})
}

// Members

// CreateMember registers a member owned by `owner` in the current season.
// New members are only accepted when they are open and during the signup window; during the pre-signup window,
// a member unknown from the previous season is accepted but reported to the operators.
func (svc *Service) CreateMember(ctx context.Context, owner user.User, in MemberInput) (Member, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Member{}, err
	}
	if len(in.ActiveCourses) == 0 {
		return Member{}, core.NewFieldError("at least one course is required", "active_courses")
	}

	var member Member
	err := svc.atomic(ctx, func(u *unit) error {
		if !u.settings.AllowNewMember {
			return registrationClosed()
		}
		season, err := u.settings.Current()
		if err != nil || season.ID != in.SeasonID {
			return registrationClosed()
		}

		now := svc.now()
		switch {
		case season.IsPreSignupOngoing(now):
			birthday := time.Time(in.Birthday)
			known, err := u.repo.MemberExists(ctx, in.FirstName, in.LastName, birthday, season.PreviousSeason())
			if err != nil {
				return errors.Wrap(err, "checking previous season member")
			}
			if !known {
				err = svc.notifyOperators(u.out, notification.PreSignupWarning{
					Username: owner.Email,
					FullName: in.FirstName + " " + in.LastName,
					Birthday: birthday.Format("02/01/2006"),
				})
				if err != nil {
					return err
				}
			}
		case !season.IsSignupOngoing(now):
			return registrationClosed()
		}

		member = Member{UserID: owner.ID, SeasonID: season.ID}
		in.apply(&member, season)
		if err = u.repo.CreateMember(ctx, &member); err != nil {
			if errors.Is(err, ErrMemberExists) {
				return core.NewFieldError(ErrMemberExists.Error(), "first_name", "last_name")
			}
			return errors.Wrap(err, "creating member")
		}
		if err = ensurePayment(ctx, u.repo, owner.ID, season.ID); err != nil {
			return err
		}
		if _, err = u.engine.Reconcile(ctx, &member, in.ActiveCourses, false); err != nil {
			return err
		}

		return u.out.Add(notification.MemberCreated{
			FullName:       member.FullName(),
			SeasonYear:     season.Year,
			ActiveCourses:  labels(coursesIn(member, StateActive)),
			WaitingCourses: labels(coursesIn(member, StateWaiting)),
		}, member.Recipients()...)
	})
	return member, err
}

// UpdateMember saves the member; its courses are reconciled only when the input carries them.
func (svc *Service) UpdateMember(ctx context.Context, id int, in MemberInput) (Member, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Member{}, err
	}
	if in.ActiveCourses != nil && len(in.ActiveCourses) == 0 {
		return Member{}, core.NewFieldError("at least one course is required", "active_courses")
	}

	var member Member
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		if member, err = u.repo.GetMember(ctx, id); err != nil {
			return err
		}
		if in.SeasonID != member.SeasonID {
			return core.NewFieldError("the season of a member cannot change", "season")
		}
		season, err := u.repo.GetSeason(ctx, member.SeasonID)
		if err != nil {
			return errors.Wrap(err, "getting member season")
		}
		in.apply(&member, season)
		if err = u.repo.UpdateMember(ctx, &member); err != nil {
			if errors.Is(err, ErrMemberExists) {
				return core.NewFieldError(ErrMemberExists.Error(), "first_name", "last_name")
			}
			return errors.Wrap(err, "updating member")
		}
		if in.ActiveCourses == nil {
			return u.engine.reload(ctx, &member)
		}
		_, err = u.engine.Reconcile(ctx, &member, in.ActiveCourses, true)
		return err
	})
	return member, err
}

func (svc *Service) GetMember(ctx context.Context, id int) (Member, error) {
	return svc.store.GetMember(ctx, id)
}

// QueryMembers lists the members matching `filter`. The "balance" ordering sorts on the balance of the owner.
func (svc *Service) QueryMembers(ctx context.Context, filter MemberFilter) ([]Member, error) {
	var byBalance *core.DBOrdering
	orderings := make([]core.DBOrdering, 0, len(filter.Ordering))
	for _, ord := range filter.Ordering {
		if ord.Field == balanceOrdering {
			ord := ord
			byBalance = &ord
			continue
		}
		orderings = append(orderings, ord)
	}
	filter.Ordering = orderings

	members, err := svc.store.QueryMembers(ctx, filter)
	if err != nil || byBalance == nil {
		return members, err
	}

	type account struct{ userID, seasonID int }
	balances := make(map[account]decimal.Decimal)
	ledger := NewLedger(svc.store)
	for _, m := range members {
		key := account{m.UserID, m.SeasonID}
		if _, ok := balances[key]; ok {
			continue
		}
		payment, err := svc.store.GetPaymentFor(ctx, m.UserID, m.SeasonID)
		if err != nil {
			if !errors.Is(err, ErrPaymentNotFound) {
				return nil, errors.Wrap(err, "getting member payment")
			}
			payment = Payment{UserID: m.UserID, SeasonID: m.SeasonID}
		}
		st, err := ledger.Statement(ctx, payment)
		if err != nil {
			return nil, err
		}
		balances[key] = st.Balance
	}
	sort.SliceStable(members, func(i, j int) bool {
		bi := balances[account{members[i].UserID, members[i].SeasonID}]
		bj := balances[account{members[j].UserID, members[j].SeasonID}]
		if byBalance.Ascending {
			return bi.LessThan(bj)
		}
		return bj.LessThan(bi)
	})
	return members, nil
}

// DeleteMember deletes the member and offers their seats to the waiting lists.
func (svc *Service) DeleteMember(ctx context.Context, id int) error {
	return svc.atomic(ctx, func(u *unit) error {
		member, err := u.repo.GetMember(ctx, id)
		if err != nil {
			return err
		}
		season, err := u.repo.GetSeason(ctx, member.SeasonID)
		if err != nil {
			return errors.Wrap(err, "getting member season")
		}
		if err = u.repo.DeleteMember(ctx, id); err != nil {
			return errors.Wrap(err, "deleting member")
		}
		err = u.out.Add(notification.MemberDeleted{
			FullName:   member.FullName(),
			SeasonYear: season.Year,
		}, member.Recipients()...)
		if err != nil {
			return err
		}
		if _, err = u.engine.Sweep(ctx); err != nil && !errors.Is(err, ErrNoCurrentSeason) {
			return errors.Wrap(err, "sweeping waiting lists")
		}
		return nil
	})
}

// ApplyCourseAction runs an explicit add, force_add or remove on the courses of a member.
func (svc *Service) ApplyCourseAction(ctx context.Context, id int, action CourseAction) (Member, CourseChanges, error) {
	if err := action.Validate(); err != nil {
		return Member{}, CourseChanges{}, err
	}

	var (
		member  Member
		changes CourseChanges
	)
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		if member, err = u.repo.GetMember(ctx, id); err != nil {
			return err
		}
		changes, err = u.engine.ApplyAction(ctx, &member, action)
		return err
	})
	return member, changes, err
}

// MemberStatement is the statement of the account owning the member, for the member's season.
func (svc *Service) MemberStatement(ctx context.Context, id int) (Statement, error) {
	member, err := svc.store.GetMember(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	payment, err := svc.store.GetPaymentFor(ctx, member.UserID, member.SeasonID)
	if err != nil {
		return Statement{}, err
	}
	return NewLedger(svc.store).Statement(ctx, payment)
}

// Payments

func (svc *Service) GetPayment(ctx context.Context, id int) (Payment, error) {
	return svc.store.GetPayment(ctx, id)
}

func (svc *Service) QueryPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	return svc.store.QueryPayments(ctx, filter)
}

func (svc *Service) QueryChecks(ctx context.Context, filter CheckFilter) ([]Check, error) {
	return svc.store.QueryChecks(ctx, filter)
}

func (svc *Service) PaymentStatement(ctx context.Context, id int) (Statement, error) {
	payment, err := svc.store.GetPayment(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	return NewLedger(svc.store).Statement(ctx, payment)
}

// CurrentStatement is the statement of the user for the current season.
func (svc *Service) CurrentStatement(ctx context.Context, userID int) (Statement, error) {
	settings, err := svc.LoadSettings(ctx)
	if err != nil {
		return Statement{}, err
	}
	return NewLedger(svc.store).CurrentStatement(ctx, settings, userID)
}

// UpdatePayment saves the payment, then validates the members it now covers.
func (svc *Service) UpdatePayment(ctx context.Context, id int, in PaymentInput) (Payment, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Payment{}, err
	}

	var payment Payment
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		if payment, err = u.repo.GetPayment(ctx, id); err != nil {
			return err
		}
		in.apply(&payment)
		if err = u.repo.UpdatePayment(ctx, &payment); err != nil {
			return errors.Wrap(err, "updating payment")
		}
		return svc.validateMembers(ctx, u, payment)
	})
	return payment, err
}

func (svc *Service) validateMembers(ctx context.Context, u *unit, payment Payment) error {
	validated, err := u.ledger.ValidateOnSave(ctx, payment)
	if err != nil {
		return err
	}
	if len(validated) > 0 {
		svc.logger.Info(fmt.Sprintf("payment %d: members %v validated", payment.ID, validated))
	}
	return nil
}

// RecordCardEvent handles the status report of a card transaction made by `username` for the payment.
// Only an accepted transaction is recorded; an unknown status is reported to the operators.
func (svc *Service) RecordCardEvent(ctx context.Context, id int, username string, ev CardEvent) (Payment, error) {
	if err := ev.Validate(svc.validate); err != nil {
		return Payment{}, err
	}

	var payment Payment
	err := svc.atomic(ctx, func(u *unit) error {
		var err error
		if payment, err = u.repo.GetPayment(ctx, id); err != nil {
			return err
		}

		switch ev.Status {
		case CardAccepted:
			txType := ev.TransactionType
			if txType == "" {
				txType = "card"
			}
			card := CardPayment{PaymentID: payment.ID, Amount: ev.Amount, TransactionType: txType, Status: CardAccepted, Reference: ev.Reference}
			if err = u.repo.AddCardPayment(ctx, &card); err != nil {
				return errors.Wrap(err, "adding card payment")
			}
			if payment, err = u.repo.GetPayment(ctx, id); err != nil {
				return errors.Wrap(err, "reloading payment")
			}
			return svc.validateMembers(ctx, u, payment)
		case CardRefused, CardCancelled:
			svc.logger.Info(fmt.Sprintf("payment %d: card transaction %s", payment.ID, ev.Status))
			return nil
		default:
			return svc.notifyOperators(u.out, notification.PaymentStatusUnknown{
				Username:  username,
				Reference: ev.Reference,
				Status:    ev.Status,
			})
		}
	})
	return payment, err
}
