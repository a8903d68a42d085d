package membership

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// BreakdownLine is one item of the due itemisation. Amount is signed: discounts and refunds are negative.
type BreakdownLine struct {
	Label  string          `json:"label"`
	Count  int             `json:"count"`
	Unit   decimal.Decimal `json:"unit"`
	Amount decimal.Decimal `json:"amount"`
}

// Statement is the financial situation of a user for a season.
type Statement struct {
	PaymentID int             `json:"payment"`
	Due       decimal.Decimal `json:"due"`
	Paid      decimal.Decimal `json:"paid"`
	Refund    decimal.Decimal `json:"refund"`
	Balance   decimal.Decimal `json:"balance"`
	Breakdown []BreakdownLine `json:"breakdown"`
}

// counted returns the members the user is billed for: members with an active course, or already validated.
func counted(members []Member) []Member {
	billed := make([]Member, 0, len(members))
	for _, m := range members {
		if m.IsValidated || m.HasActiveCourse() {
			billed = append(billed, m)
		}
	}
	return billed
}

// Breakdown itemises the due of `payment`. `members` are the user's members of the season, with their enrollments.
// The lines always sum up to Due.
func Breakdown(season Season, payment Payment, members []Member) []BreakdownLine {
	billed := counted(members)
	var lines []BreakdownLine

	var (
		courseCount int
		subtotal    = decimal.Zero
		licenses    int
		licenseFees = decimal.Zero
		refunds     = decimal.Zero
	)
	for _, m := range billed {
		for _, e := range m.Enrollments {
			if e.State == StateActive || e.State == StateCancelled {
				courseCount++
				subtotal = subtotal.Add(e.Course.Price)
			}
		}
		if fee := season.LicenseFee(m.FFDLicense); m.FFDLicense > 0 {
			licenses++
			licenseFees = licenseFees.Add(fee)
		}
		refunds = refunds.Add(m.CancelRefund)
	}

	if len(billed) > 0 {
		lines = append(lines, BreakdownLine{
			Label:  "membership",
			Count:  len(billed),
			Unit:   season.MembershipAmount,
			Amount: season.MembershipAmount.Mul(decimal.NewFromInt(int64(len(billed)))),
		})
	}
	if courseCount > 0 {
		lines = append(lines, BreakdownLine{Label: "courses", Count: courseCount, Amount: subtotal})
	}
	if !payment.SpecialDiscount.IsZero() {
		lines = append(lines, BreakdownLine{Label: "special discount", Count: 1, Amount: payment.SpecialDiscount.Neg()})
		subtotal = subtotal.Sub(payment.SpecialDiscount)
	}
	if season.DiscountLimit > 0 && courseCount >= season.DiscountLimit && season.DiscountPercent.IsPositive() {
		discount := subtotal.Mul(season.DiscountPercent).Div(hundred).Round(2)
		lines = append(lines, BreakdownLine{Label: "discount", Count: courseCount, Unit: season.DiscountPercent, Amount: discount.Neg()})
	}
	if licenses > 0 {
		lines = append(lines, BreakdownLine{Label: "license", Count: licenses, Amount: licenseFees})
	}
	if !refunds.IsZero() {
		lines = append(lines, BreakdownLine{Label: "cancellation refund", Count: 1, Amount: refunds.Neg()})
	}
	return lines
}

// Due is the amount owed for the season: the sum of the breakdown lines.
func Due(season Season, payment Payment, members []Member) decimal.Decimal {
	due := decimal.Zero
	for _, l := range Breakdown(season, payment, members) {
		due = due.Add(l.Amount)
	}
	return due.Round(2)
}

// Paid sums every payment channel and the sport passes of the members. Refund is not part of it.
func Paid(payment Payment, members []Member) decimal.Decimal {
	paid := payment.Cash.
		Add(payment.SportCoupon.Amount).
		Add(payment.Ancv.Amount).
		Add(payment.OtherPayment.Amount)
	for _, c := range payment.Checks {
		paid = paid.Add(c.Amount)
	}
	for _, c := range payment.CardPayments {
		paid = paid.Add(c.Amount)
	}
	for _, m := range members {
		if m.SportPass != nil {
			paid = paid.Add(m.SportPass.Amount)
		}
	}
	return paid.Round(2)
}

// NewStatement computes due, paid and balance in one pass.
func NewStatement(season Season, payment Payment, members []Member) Statement {
	lines := Breakdown(season, payment, members)
	due := decimal.Zero
	for _, l := range lines {
		due = due.Add(l.Amount)
	}
	due = due.Round(2)
	paid := Paid(payment, members)
	return Statement{
		PaymentID: payment.ID,
		Due:       due,
		Paid:      paid,
		Refund:    payment.Refund,
		Balance:   due.Sub(paid).Add(payment.Refund),
		Breakdown: lines,
	}
}

// Ledger reads what the due computation needs through a repository.
type Ledger struct {
	repo Repository
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

func (l *Ledger) load(ctx context.Context, payment Payment) (Season, []Member, error) {
	season, err := l.repo.GetSeason(ctx, payment.SeasonID)
	if err != nil {
		return Season{}, nil, errors.Wrap(err, "getting payment season")
	}
	members, err := l.repo.QueryMembers(ctx, MemberFilter{SeasonID: payment.SeasonID, UserID: payment.UserID})
	if err != nil {
		return Season{}, nil, errors.Wrap(err, "querying payment members")
	}
	return season, members, nil
}

// Statement computes the statement of a persisted payment.
func (l *Ledger) Statement(ctx context.Context, payment Payment) (Statement, error) {
	season, members, err := l.load(ctx, payment)
	if err != nil {
		return Statement{}, err
	}
	return NewStatement(season, payment, members), nil
}

// CurrentStatement is the statement of the user for the current season of `settings`.
func (l *Ledger) CurrentStatement(ctx context.Context, settings Settings, userID int) (Statement, error) {
	season, err := settings.Current()
	if err != nil {
		return Statement{}, err
	}
	payment, err := l.repo.GetPaymentFor(ctx, userID, season.ID)
	if err != nil {
		return Statement{}, errors.Wrap(err, "getting current payment")
	}
	return l.Statement(ctx, payment)
}

// ValidateOnSave runs after a payment is saved: when paid covers due, every member of the user
// for the season not validated yet becomes validated. Members are never un-validated.
func (l *Ledger) ValidateOnSave(ctx context.Context, payment Payment) ([]int, error) {
	season, members, err := l.load(ctx, payment)
	if err != nil {
		return nil, err
	}
	if Paid(payment, members).LessThan(Due(season, payment, members)) {
		return nil, nil
	}

	var ids []int
	for _, m := range members {
		if !m.IsValidated {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err = l.repo.SetValidated(ctx, ids...); err != nil {
		return nil, errors.Wrap(err, "validating members")
	}
	return ids, nil
}
