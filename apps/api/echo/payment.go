package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kdance/registration/core/membership"
)

var errPaymentNotFoundInCtx = errors.New("payment object not found in echo.Context")

func (s *Server) registerPaymentAPI(g *echo.Group) {
	admin := adminMiddleware()

	g.GET("/checks", s.queryChecks, s.jwt, admin)

	pg := g.Group("/payments", s.jwt)
	pg.GET("", s.queryPayments)
	pg.GET("/current", s.currentStatement)

	// detail endpoints
	dg := pg.Group("/:id", ownerOrAdminMiddleware(s.deps.UserSvc, s.loadPayment))
	dg.GET("", s.retrievePayment)
	dg.PUT("", s.updatePayment, admin)
	dg.GET("/due", s.paymentStatement)
	dg.POST("/card", s.recordCardEvent, admin)
}

func (s *Server) loadPayment(ctx echo.Context, id int) (interface{}, int, error) {
	payment, err := s.deps.MembershipSvc.GetPayment(ctx.Request().Context(), id)
	if err != nil {
		return nil, 0, err
	}
	return payment, payment.UserID, nil
}

func contextPayment(ctx echo.Context) (membership.Payment, error) {
	payment, ok := ctx.Get(contextObjectKey).(membership.Payment)
	if !ok {
		return payment, errors.Wrap(errPaymentNotFoundInCtx, "retrieving object from context")
	}
	return payment, nil
}

// queryPayments lists the payments of the user; admins see everyone's.
func (s *Server) queryPayments(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, s.deps.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := membership.PaymentFilter{
		SeasonID: queryInt(ctx, "season"),
		UserID:   queryInt(ctx, "user"),
	}
	if !ctxUsr.IsAdmin() {
		filter.UserID = ctxUsr.ID
	}
	payments, err := s.deps.MembershipSvc.QueryPayments(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	if payments == nil {
		payments = []membership.Payment{}
	}
	return ctx.JSON(http.StatusOK, payments)
}

func (s *Server) currentStatement(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, s.deps.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	st, err := s.deps.MembershipSvc.CurrentStatement(ctx.Request().Context(), ctxUsr.ID)
	if err != nil {
		return errors.Wrap(err, "computing current statement")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (s *Server) retrievePayment(ctx echo.Context) error {
	payment, err := contextPayment(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, payment)
}

func (s *Server) updatePayment(ctx echo.Context) error {
	payment, err := contextPayment(ctx)
	if err != nil {
		return err
	}

	var data membership.PaymentInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PaymentInput")
	}
	payment, err = s.deps.MembershipSvc.UpdatePayment(ctx.Request().Context(), payment.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating payment")
	}
	return ctx.JSON(http.StatusOK, payment)
}

func (s *Server) paymentStatement(ctx echo.Context) error {
	payment, err := contextPayment(ctx)
	if err != nil {
		return err
	}
	st, err := s.deps.MembershipSvc.PaymentStatement(ctx.Request().Context(), payment.ID)
	if err != nil {
		return errors.Wrap(err, "computing payment statement")
	}
	return ctx.JSON(http.StatusOK, st)
}

// recordCardEvent receives the status of a card transaction made by the payment's user, as reported by the bank.
// Only admins report card transactions.
func (s *Server) recordCardEvent(ctx echo.Context) error {
	payment, err := contextPayment(ctx)
	if err != nil {
		return err
	}
	owner, err := s.deps.UserSvc.GetByID(ctx.Request().Context(), payment.UserID)
	if err != nil {
		return errors.Wrap(err, "getting payment user")
	}

	var data membership.CardEvent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CardEvent")
	}
	payment, err = s.deps.MembershipSvc.RecordCardEvent(ctx.Request().Context(), payment.ID, owner.Email, data)
	if err != nil {
		return errors.Wrap(err, "recording card event")
	}
	return ctx.JSON(http.StatusOK, payment)
}

func (s *Server) queryChecks(ctx echo.Context) error {
	filter := membership.CheckFilter{
		SeasonID: queryInt(ctx, "season"),
		Month:    queryInt(ctx, "month"),
	}
	checks, err := s.deps.MembershipSvc.QueryChecks(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying checks")
	}
	if checks == nil {
		checks = []membership.Check{}
	}
	return ctx.JSON(http.StatusOK, checks)
}
