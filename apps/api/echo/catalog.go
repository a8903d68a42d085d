package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kdance/registration/core/membership"
)

func (s *Server) registerCatalogAPI(g *echo.Group) {
	admin := adminMiddleware()

	g.GET("/settings", s.getSettings, s.jwt)
	g.PUT("/settings", s.updateSettings, s.jwt, admin)

	sg := g.Group("/seasons", s.jwt)
	sg.GET("", s.querySeasons)
	sg.POST("", s.createSeason, admin)
	sg.GET("/:id", s.retrieveSeason)
	sg.PUT("/:id", s.updateSeason, admin)
	sg.DELETE("/:id", s.destroySeason, admin)

	tg := g.Group("/teachers", s.jwt)
	tg.GET("", s.queryTeachers)
	tg.POST("", s.createTeacher, admin)
	tg.GET("/:id", s.retrieveTeacher)
	tg.PUT("/:id", s.updateTeacher, admin)
	tg.DELETE("/:id", s.destroyTeacher, admin)

	cg := g.Group("/courses", s.jwt)
	cg.GET("", s.queryCourses)
	cg.POST("", s.createCourse, admin)
	cg.POST("/copy-season", s.copySeason, admin)
	cg.GET("/:id", s.retrieveCourse)
	cg.PUT("/:id", s.updateCourse, admin)
	cg.DELETE("/:id", s.destroyCourse, admin)
}

func (s *Server) getSettings(ctx echo.Context) error {
	settings, err := s.deps.MembershipSvc.GetSettings(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}

func (s *Server) updateSettings(ctx echo.Context) error {
	var data membership.SettingsInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SettingsInput")
	}
	settings, err := s.deps.MembershipSvc.UpdateSettings(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "updating settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}

// seasons

func (s *Server) querySeasons(ctx echo.Context) error {
	filter := membership.SeasonFilter{IsCurrent: queryBool(ctx, "is_current")}
	seasons, err := s.deps.MembershipSvc.QuerySeasons(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying seasons")
	}
	if seasons == nil {
		seasons = []membership.Season{}
	}
	return ctx.JSON(http.StatusOK, seasons)
}

func (s *Server) createSeason(ctx echo.Context) error {
	var data membership.SeasonInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SeasonInput")
	}
	season, err := s.deps.MembershipSvc.CreateSeason(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating season")
	}
	return ctx.JSON(http.StatusCreated, season)
}

func (s *Server) retrieveSeason(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	season, err := s.deps.MembershipSvc.GetSeason(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting season")
	}
	return ctx.JSON(http.StatusOK, season)
}

func (s *Server) updateSeason(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var data membership.SeasonInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SeasonInput")
	}
	season, err := s.deps.MembershipSvc.UpdateSeason(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating season")
	}
	return ctx.JSON(http.StatusOK, season)
}

func (s *Server) destroySeason(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	if err = s.deps.MembershipSvc.DeleteSeason(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting season")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// teachers

func (s *Server) queryTeachers(ctx echo.Context) error {
	teachers, err := s.deps.MembershipSvc.QueryTeachers(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying teachers")
	}
	if teachers == nil {
		teachers = []membership.Teacher{}
	}
	return ctx.JSON(http.StatusOK, teachers)
}

func (s *Server) createTeacher(ctx echo.Context) error {
	var data membership.TeacherInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TeacherInput")
	}
	teacher, err := s.deps.MembershipSvc.CreateTeacher(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating teacher")
	}
	return ctx.JSON(http.StatusCreated, teacher)
}

func (s *Server) retrieveTeacher(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	teacher, err := s.deps.MembershipSvc.GetTeacher(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting teacher")
	}
	return ctx.JSON(http.StatusOK, teacher)
}

func (s *Server) updateTeacher(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var data membership.TeacherInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TeacherInput")
	}
	teacher, err := s.deps.MembershipSvc.UpdateTeacher(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating teacher")
	}
	return ctx.JSON(http.StatusOK, teacher)
}

func (s *Server) destroyTeacher(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	if err = s.deps.MembershipSvc.DeleteTeacher(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting teacher")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// courses

func (s *Server) queryCourses(ctx echo.Context) error {
	filter := membership.CourseFilter{
		SeasonID:  queryInt(ctx, "season"),
		TeacherID: queryInt(ctx, "teacher"),
	}
	if ctx.QueryParam("weekday") != "" {
		wd := queryInt(ctx, "weekday")
		filter.Weekday = &wd
	}
	courses, err := s.deps.MembershipSvc.QueryCourses(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []membership.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (s *Server) createCourse(ctx echo.Context) error {
	var data membership.CourseInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CourseInput")
	}
	course, err := s.deps.MembershipSvc.CreateCourse(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, course)
}

func (s *Server) retrieveCourse(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	course, err := s.deps.MembershipSvc.GetCourse(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return ctx.JSON(http.StatusOK, course)
}

func (s *Server) updateCourse(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var data membership.CourseInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CourseInput")
	}
	course, err := s.deps.MembershipSvc.UpdateCourse(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, course)
}

func (s *Server) destroyCourse(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	if err = s.deps.MembershipSvc.DeleteCourse(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) copySeason(ctx echo.Context) error {
	var data membership.CopySeasonInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CopySeasonInput")
	}
	courses, err := s.deps.MembershipSvc.CopySeason(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "copying season")
	}
	return ctx.JSON(http.StatusCreated, courses)
}
