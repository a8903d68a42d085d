package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kdance/registration/core/user"
)

var contextObjectKey = "object"

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// ownerOrAdminMiddleware loads the object of the `:id` route with `load` and lets the request through
// for admins and for the user owning it. Other users get a 404.
func ownerOrAdminMiddleware(svc *user.Service, load func(ctx echo.Context, id int) (interface{}, int, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			id, err := paramID(ctx)
			if err != nil {
				return err
			}
			obj, ownerID, err := load(ctx, id)
			if err != nil {
				if isNotFound(err) {
					return errHttpNotFound
				}
				return err
			}
			if ownerID != ctxUsr.ID && !ctxUsr.IsAdmin() {
				return errHttpNotFound
			}
			ctx.Set(contextObjectKey, obj)
			return next(ctx)
		}
	}
}
