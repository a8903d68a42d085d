package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/user"
)

var errMemberNotFoundInCtx = errors.New("member object not found in echo.Context")

type (
	MemberResponse struct {
		membership.Member
		ActiveCourses    []int `json:"active_courses"`
		WaitingCourses   []int `json:"waiting_courses"`
		CancelledCourses []int `json:"cancelled_courses"`
	}

	CourseChangesResponse struct {
		Removed      []int `json:"removed"`
		AddedActive  []int `json:"added_active"`
		AddedWaiting []int `json:"added_waiting"`
	}

	CourseActionResponse struct {
		Member  MemberResponse        `json:"member"`
		Changes CourseChangesResponse `json:"changes"`
	}
)

func newMemberResponse(m membership.Member) MemberResponse {
	return MemberResponse{
		Member:           m,
		ActiveCourses:    nonNil(m.CourseIDs(membership.StateActive)),
		WaitingCourses:   nonNil(m.CourseIDs(membership.StateWaiting)),
		CancelledCourses: nonNil(m.CourseIDs(membership.StateCancelled)),
	}
}

func courseIDs(courses []membership.Course) []int {
	ids := make([]int, 0, len(courses))
	for _, c := range courses {
		ids = append(ids, c.ID)
	}
	return ids
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}

func (s *Server) registerMemberAPI(g *echo.Group) {
	mg := g.Group("/members", s.jwt)
	mg.GET("", s.queryMembers)
	mg.POST("", s.createMember)

	// detail endpoints
	dg := mg.Group("/:id", ownerOrAdminMiddleware(s.deps.UserSvc, s.loadMember))
	dg.GET("", s.retrieveMember)
	dg.PUT("", s.updateMember)
	dg.DELETE("", s.destroyMember)
	dg.GET("/due", s.memberStatement)
	dg.POST("/courses/:action", s.applyCourseAction, adminMiddleware())
}

func (s *Server) loadMember(ctx echo.Context, id int) (interface{}, int, error) {
	member, err := s.deps.MembershipSvc.GetMember(ctx.Request().Context(), id)
	if err != nil {
		return nil, 0, err
	}
	return member, member.UserID, nil
}

func contextMember(ctx echo.Context) (membership.Member, error) {
	member, ok := ctx.Get(contextObjectKey).(membership.Member)
	if !ok {
		return member, errors.Wrap(errMemberNotFoundInCtx, "retrieving object from context")
	}
	return member, nil
}

// queryMembers lists the members of the user; admins see everyone's.
func (s *Server) queryMembers(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, s.deps.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	ordering := new(Ordering)
	ordering.Bind(ctx)
	filter := membership.MemberFilter{
		SeasonID:    queryInt(ctx, "season"),
		UserID:      queryInt(ctx, "user"),
		CourseID:    queryInt(ctx, "course"),
		WithPass:    queryBool(ctx, "with_pass"),
		WithLicense: queryBool(ctx, "with_license"),
		Search:      ctx.QueryParam("search"),
		Ordering:    ordering.Orderings,
	}
	if !ctxUsr.IsAdmin() {
		filter.UserID = ctxUsr.ID
	}

	members, err := s.deps.MembershipSvc.QueryMembers(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying members")
	}
	resp := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, newMemberResponse(m))
	}
	return ctx.JSON(http.StatusOK, resp)
}

// createMember registers a member for the context user. An admin may register it for another user.
func (s *Server) createMember(ctx echo.Context) error {
	owner, err := getContextUser(ctx, s.deps.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data membership.MemberInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MemberInput")
	}
	rctx := ctx.Request().Context()
	if data.UserID != 0 && data.UserID != owner.ID && owner.IsAdmin() {
		if owner, err = s.deps.UserSvc.GetByID(rctx, data.UserID); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding member owner")
		}
	}

	member, err := s.deps.MembershipSvc.CreateMember(rctx, owner, data)
	if err != nil {
		return errors.Wrap(err, "creating member")
	}
	return ctx.JSON(http.StatusCreated, newMemberResponse(member))
}

func (s *Server) retrieveMember(ctx echo.Context) error {
	member, err := contextMember(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newMemberResponse(member))
}

func (s *Server) updateMember(ctx echo.Context) error {
	member, err := contextMember(ctx)
	if err != nil {
		return err
	}

	var data membership.MemberInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MemberInput")
	}
	member, err = s.deps.MembershipSvc.UpdateMember(ctx.Request().Context(), member.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating member")
	}
	return ctx.JSON(http.StatusOK, newMemberResponse(member))
}

func (s *Server) destroyMember(ctx echo.Context) error {
	member, err := contextMember(ctx)
	if err != nil {
		return err
	}
	if err = s.deps.MembershipSvc.DeleteMember(ctx.Request().Context(), member.ID); err != nil {
		return errors.Wrap(err, "deleting member")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) memberStatement(ctx echo.Context) error {
	member, err := contextMember(ctx)
	if err != nil {
		return err
	}
	st, err := s.deps.MembershipSvc.MemberStatement(ctx.Request().Context(), member.ID)
	if err != nil {
		return errors.Wrap(err, "computing member statement")
	}
	return ctx.JSON(http.StatusOK, st)
}

// applyCourseAction runs the `:action` (add, force_add or remove) on the posted courses.
func (s *Server) applyCourseAction(ctx echo.Context) error {
	member, err := contextMember(ctx)
	if err != nil {
		return err
	}

	var data membership.CourseAction
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CourseAction")
	}
	data.Action = membership.Action(ctx.Param("action"))

	member, changes, err := s.deps.MembershipSvc.ApplyCourseAction(ctx.Request().Context(), member.ID, data)
	if err != nil {
		return errors.Wrap(err, "applying course action")
	}
	return ctx.JSON(http.StatusOK, CourseActionResponse{
		Member: newMemberResponse(member),
		Changes: CourseChangesResponse{
			Removed:      courseIDs(changes.Removed),
			AddedActive:  courseIDs(changes.AddedActive),
			AddedWaiting: courseIDs(changes.AddedWaiting),
		},
	})
}
