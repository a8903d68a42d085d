package echoapi_test

import (
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/user"
	testutil "github.com/kdance/registration/tests"
)

func TestCatalogAPI_Settings(t *testing.T) {
	app := setup(t)
	admin := testutil.CreateUser(t, app.db, "admin@kdance.test", user.RoleAdmin)
	parent := testutil.CreateUser(t, app.db, "parent@kdance.test")

	body := []byte(`{"allow_signup": true, "allow_new_member": false, "pre_signup_payment_delta_days": 15, "signup_payment_delta_days": 20}`)
	app.run(t, []httpTest{
		{name: "auth required", path: "/api/settings", wantCode: http.StatusUnauthorized},
		{name: "defaults", path: "/api/settings", token: app.token(t, parent), wantData: marshalObj(t, membership.DefaultSettings())},
		{name: "admin required", method: http.MethodPut, path: "/api/settings", body: body, token: app.token(t, parent), wantCode: http.StatusForbidden},
		{
			name: "negative delay", method: http.MethodPut, path: "/api/settings", token: app.token(t, admin),
			body: []byte(`{"pre_signup_payment_delta_days": -1}`), wantCode: http.StatusBadRequest,
		},
		{name: "saved", method: http.MethodPut, path: "/api/settings", body: body, token: app.token(t, admin), wantData: body},
		{name: "read back", path: "/api/settings", token: app.token(t, parent), wantData: body},
	})
}

func TestCatalogAPI_Seasons(t *testing.T) {
	app := setup(t)
	admin := testutil.CreateUser(t, app.db, "admin@kdance.test", user.RoleAdmin)
	parent := testutil.CreateUser(t, app.db, "parent@kdance.test")
	old := testutil.CreateSeason(t, app.db, "2022-2023", true)
	adminToken := app.token(t, admin)

	app.run(t, []httpTest{
		{
			name: "admin required", method: http.MethodPost, path: "/api/seasons", token: app.token(t, parent),
			body: []byte(`{"year": "2023-2024"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "malformed year", method: http.MethodPost, path: "/api/seasons", token: adminToken,
			body: []byte(`{"year": "2023"}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "discount over 100", method: http.MethodPost, path: "/api/seasons", token: adminToken,
			body: []byte(`{"year": "2023-2024", "discount_percent": "120"}`), wantCode: http.StatusBadRequest,
		},
		{name: "unknown season", path: "/api/seasons/999", token: adminToken, wantCode: http.StatusNotFound},
	})

	rec := app.do(http.MethodPost, "/api/seasons", adminToken, []byte(`{"year": "2023-2024", "is_current": true, "membership_amount": "12"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var season membership.Season
	decode(t, rec, &season)
	assert.True(t, season.IsCurrent)
	assert.Equal(t, "12", season.MembershipAmount.String())

	t.Run("single current season", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/seasons?is_current=true", app.token(t, parent))
		require.Equal(t, http.StatusOK, rec.Code)
		var seasons []membership.Season
		decode(t, rec, &seasons)
		require.Len(t, seasons, 1)
		assert.Equal(t, season.ID, seasons[0].ID)

		rec = app.do(http.MethodGet, "/api/seasons/"+strconv.Itoa(old.ID), app.token(t, parent))
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &seasons[0])
		assert.False(t, seasons[0].IsCurrent)
	})

	t.Run("duplicate year", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/seasons", adminToken, []byte(`{"year": "2023-2024"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, fieldsOf(t, rec), "year")
	})

	t.Run("update and delete", func(t *testing.T) {
		rec := app.do(http.MethodPut, "/api/seasons/"+strconv.Itoa(season.ID), adminToken, []byte(`{"year": "2023-2024", "is_current": true, "discount_limit": 3}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated membership.Season
		decode(t, rec, &updated)
		assert.Equal(t, 3, updated.DiscountLimit)

		rec = app.do(http.MethodDelete, "/api/seasons/"+strconv.Itoa(old.ID), adminToken)
		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		rec = app.do(http.MethodGet, "/api/seasons/"+strconv.Itoa(old.ID), adminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCatalogAPI_Teachers(t *testing.T) {
	app := setup(t)
	admin := testutil.CreateUser(t, app.db, "admin@kdance.test", user.RoleAdmin)
	parent := testutil.CreateUser(t, app.db, "parent@kdance.test")
	adminToken := app.token(t, admin)

	rec := app.do(http.MethodPost, "/api/teachers", adminToken, []byte(`{"name": " Lucie Bernard "}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var teacher membership.Teacher
	decode(t, rec, &teacher)
	assert.Equal(t, "Lucie Bernard", teacher.Name)

	path := "/api/teachers/" + strconv.Itoa(teacher.ID)
	app.run(t, []httpTest{
		{name: "list", path: "/api/teachers", token: app.token(t, parent), wantData: marshalObj(t, []membership.Teacher{teacher})},
		{name: "name required", method: http.MethodPost, path: "/api/teachers", token: adminToken, body: []byte(`{}`), wantCode: http.StatusBadRequest},
		{name: "admin required", method: http.MethodPut, path: path, token: app.token(t, parent), body: []byte(`{"name": "Lucie"}`), wantCode: http.StatusForbidden},
		{
			name: "renamed", method: http.MethodPut, path: path, token: adminToken, body: []byte(`{"name": "Lucie"}`),
			wantData: marshalObj(t, membership.Teacher{ID: teacher.ID, Name: "Lucie"}),
		},
		{name: "deleted", method: http.MethodDelete, path: path, token: adminToken, wantCode: http.StatusNoContent},
		{name: "gone", path: path, token: adminToken, wantCode: http.StatusNotFound},
	})
}

func TestCatalogAPI_Courses(t *testing.T) {
	app := setup(t)
	admin := testutil.CreateUser(t, app.db, "admin@kdance.test", user.RoleAdmin)
	parent := testutil.CreateUser(t, app.db, "parent@kdance.test")
	season := testutil.CreateSeason(t, app.db, "2023-2024", true)
	next := testutil.CreateSeason(t, app.db, "2024-2025", false)
	salsa := testutil.CreateCourse(t, app.db, season, "Salsa", 10, 100)
	adminToken := app.token(t, admin)

	courseBody := func(seasonID int, name string, weekday int) []byte {
		return []byte(fmt.Sprintf(
			`{"season": %d, "name": %q, "price": "150", "weekday": %d, "start_hour": "17:30:00", "end_hour": "18:30:00"}`,
			seasonID, name, weekday,
		))
	}

	app.run(t, []httpTest{
		{name: "admin required", method: http.MethodPost, path: "/api/courses", token: app.token(t, parent), body: courseBody(season.ID, "Tango", 1), wantCode: http.StatusForbidden},
		{
			name: "ends before it starts", method: http.MethodPost, path: "/api/courses", token: adminToken,
			body: []byte(fmt.Sprintf(`{"season": %d, "name": "Tango", "start_hour": "18:30:00", "end_hour": "17:30:00"}`, season.ID)),
			wantCode: http.StatusBadRequest,
		},
		{name: "unknown course", path: "/api/courses/999", token: adminToken, wantCode: http.StatusNotFound},
	})

	rec := app.do(http.MethodPost, "/api/courses", adminToken, courseBody(season.ID, "Tango", 1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tango membership.Course
	decode(t, rec, &tango)
	assert.Equal(t, app.conf.Membership.DefaultCapacity, tango.Capacity)

	t.Run("filters", func(t *testing.T) {
		var courses []membership.Course
		rec := app.do(http.MethodGet, fmt.Sprintf("/api/courses?season=%d&weekday=1", season.ID), app.token(t, parent))
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &courses)
		require.Len(t, courses, 1)
		assert.Equal(t, tango.ID, courses[0].ID)

		rec = app.do(http.MethodGet, fmt.Sprintf("/api/courses?season=%d", next.ID), app.token(t, parent))
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("copy season", func(t *testing.T) {
		body := []byte(fmt.Sprintf(`{"from_season": %d, "to_season": %d}`, season.ID, next.ID))
		rec := app.do(http.MethodPost, "/api/courses/copy-season", adminToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var courses []membership.Course
		decode(t, rec, &courses)
		require.Len(t, courses, 2)
		for _, c := range courses {
			assert.Equal(t, next.ID, c.SeasonID)
			assert.Zero(t, c.ActiveCount)
		}

		same := []byte(fmt.Sprintf(`{"from_season": %d, "to_season": %d}`, season.ID, season.ID))
		rec = app.do(http.MethodPost, "/api/courses/copy-season", adminToken, same)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update and delete", func(t *testing.T) {
		path := "/api/courses/" + strconv.Itoa(salsa.ID)
		body := []byte(fmt.Sprintf(
			`{"season": %d, "name": "Salsa", "price": "100", "weekday": 0, "start_hour": "18:00:00", "end_hour": "19:00:00", "capacity": 20}`,
			season.ID,
		))
		rec := app.do(http.MethodPut, path, adminToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated membership.Course
		decode(t, rec, &updated)
		assert.Equal(t, 20, updated.Capacity)

		rec = app.do(http.MethodDelete, path, adminToken)
		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		rec = app.do(http.MethodGet, path, adminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
