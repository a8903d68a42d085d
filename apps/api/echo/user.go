package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/user"
)

var errUsrNotFoundInCtx = errors.New("user object not found in echo.Context")

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}
)

func (lr *LoginRequest) Validate(s *Server) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return s.deps.Validate.Struct(lr)
}

func (s *Server) registerUserAPI(g *echo.Group) {
	// un-authed endpoints
	g.POST("/auth/login", s.login)

	// authed endpoints
	g.POST("/auth/refresh", s.refreshToken, s.jwt)

	ug := g.Group("/users", s.jwt)
	ug.GET("/me", s.me)
	ug.GET("/roles", s.queryRoles, adminMiddleware())
	ug.GET("", s.queryUsers, adminMiddleware())
	ug.POST("", s.createUser, adminMiddleware())

	// detail endpoints
	dg := ug.Group("/:id", adminMiddleware(), s.userObjectMiddleware)
	dg.GET("", s.retrieveUser)
	dg.PUT("", s.updateUser)
	dg.DELETE("", s.destroyUser)
}

func (s *Server) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(s); err != nil {
		return err
	}

	usr, err := authenticate(ctx, data.Email, data.Password, s.deps.UserSvc)
	if err != nil {
		return err
	}
	token, err := GenerateToken(s.deps.Conf, GetUserClaims(s.deps.Conf, usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (s *Server) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, s.deps.Conf, s.deps.UserSvc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (s *Server) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, s.deps.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *Server) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (s *Server) queryUsers(ctx echo.Context) error {
	filter := user.QueryFilter{
		Search:   ctx.QueryParam("search"),
		Roles:    ctx.QueryParams()["role"],
		IsActive: queryBool(ctx, "is_active"),
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := s.deps.UserSvc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

// createUser registers an account and opens its payment for the current season.
func (s *Server) createUser(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, s.deps.Validate, s.deps.UserSvc); err != nil {
		return err
	}

	usr, err := s.deps.UserSvc.Create(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	if err = s.deps.MembershipSvc.EnsureCurrentPayment(rctx, usr.ID); err != nil {
		return errors.Wrap(err, "opening payment")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (s *Server) userObjectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := paramID(ctx)
		if err != nil {
			return err
		}
		usr, err := s.deps.UserSvc.GetByID(ctx.Request().Context(), id)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding user by ID")
		}
		ctx.Set(contextObjectKey, usr)
		return next(ctx)
	}
}

func (s *Server) retrieveUser(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *Server) updateUser(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, usr, s.deps.Validate, s.deps.UserSvc); err != nil {
		return err
	}

	usr, err := s.deps.UserSvc.Update(rctx, usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *Server) destroyUser(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	// ctxUser cannot delete themselves
	ctxUsr, err := getContextUser(ctx, s.deps.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.ID == ctxUsr.ID {
		return errHttpForbidden
	}

	if err = s.deps.UserSvc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}
