package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"gorm.io/datatypes"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/notification"
	testutil "github.com/kdance/registration/tests"
)

// recorder is a Dispatcher keeping the flushed envelopes.
type recorder struct {
	envelopes []notification.Envelope
}

func (r *recorder) Flush(_ context.Context, out *notification.Outbox) int {
	r.envelopes = append(r.envelopes, out.Envelopes()...)
	return out.Len()
}

func (r *recorder) of(kind notification.Kind) []notification.Envelope {
	var envs []notification.Envelope
	for _, env := range r.envelopes {
		if env.Notification.Kind() == kind {
			envs = append(envs, env)
		}
	}
	return envs
}

func (r *recorder) reset() { r.envelopes = nil }

func (f *fixture) service(opts ...func(*membership.ServiceOptions)) (*membership.Service, *recorder) {
	rec := new(recorder)
	o := membership.ServiceOptions{
		Logger:          testutil.Logger(),
		Validate:        testutil.Validator(),
		Operators:       []string{operator},
		DefaultCapacity: 12,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return membership.NewService(f.store, rec, o), rec
}

func memberInput(seasonID int, firstName string, courses ...int) membership.MemberInput {
	return membership.MemberInput{
		SeasonID:   seasonID,
		FirstName:  firstName,
		LastName:   "Martin",
		Birthday:   datatypes.Date(time.Date(2010, time.May, 1, 0, 0, 0, 0, time.UTC)),
		Address:    "12 rue des Lilas",
		PostalCode: "69003",
		City:       "lyon",
		Email:      firstName + "@KDance.test",
		Phone:      "0601020304",
		Contacts: []membership.Contact{
			{FirstName: "Paul", LastName: "Martin", Phone: "0605040302", ContactType: membership.ContactEmergency},
		},
		ActiveCourses: courses,
	}
}

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	verr, ok := core.AsValidationError(err)
	require.True(t, ok, "want a validation error, got %v", err)
	fields := make([]string, 0, len(verr.Fields))
	for _, fe := range verr.Fields {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, field)
}

func assertClosed(t *testing.T, err error) {
	t.Helper()
	verr, ok := core.AsValidationError(err)
	require.True(t, ok, "want a validation error, got %v", err)
	assert.Equal(t, membership.ErrRegistrationClosed, verr.Err)
}

func TestService_CreateMember(t *testing.T) {
	f := newFixture(t)
	svc, rec := f.service()
	course := testutil.CreateCourse(t, f.db, f.season, "Salsa", 1, 100)

	t.Run("no course", func(t *testing.T) {
		_, err := svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Alice"))
		assertFieldError(t, err, "active_courses")
	})

	t.Run("missing emergency contact", func(t *testing.T) {
		in := memberInput(f.season.ID, "Alice", course.ID)
		in.Contacts[0].ContactType = membership.ContactResponsible
		_, err := svc.CreateMember(f.ctx, f.owner, in)
		assertFieldError(t, err, "contacts")
		assertFieldError(t, err, "contacts[0].email")
	})

	t.Run("not the current season", func(t *testing.T) {
		other := testutil.CreateSeason(t, f.db, "2024-2025", false)
		_, err := svc.CreateMember(f.ctx, f.owner, memberInput(other.ID, "Alice", course.ID))
		assertClosed(t, err)
	})

	t.Run("active when a seat is free", func(t *testing.T) {
		rec.reset()
		m, err := svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Alice", course.ID))
		require.NoError(t, err)
		assert.Equal(t, "alice@kdance.test", m.Email)
		assert.Equal(t, "Lyon", m.City)
		require.Len(t, m.Contacts, 1)

		enr, ok := enrollmentOf(m, course.ID)
		require.True(t, ok)
		assert.Equal(t, membership.StateActive, enr.State)

		_, err = f.store.GetPaymentFor(f.ctx, f.owner.ID, f.season.ID)
		assert.NoError(t, err)

		created := rec.of(notification.KindMemberCreated)
		require.Len(t, created, 1)
		n := created[0].Notification.(notification.MemberCreated)
		assert.Equal(t, "2023-2024", n.SeasonYear)
		assert.Len(t, n.ActiveCourses, 1)
		assert.Empty(t, n.WaitingCourses)
		assert.Equal(t, []string{"alice@kdance.test", "parent@kdance.test"}, created[0].Recipients)
	})

	t.Run("waiting when complete", func(t *testing.T) {
		rec.reset()
		m, err := svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Bob", course.ID))
		require.NoError(t, err)
		enr, ok := enrollmentOf(m, course.ID)
		require.True(t, ok)
		assert.Equal(t, membership.StateWaiting, enr.State)
		assert.True(t, enr.QueuedAt.Valid)

		created := rec.of(notification.KindMemberCreated)
		require.Len(t, created, 1)
		n := created[0].Notification.(notification.MemberCreated)
		assert.Empty(t, n.ActiveCourses)
		assert.Len(t, n.WaitingCourses, 1)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Alice", course.ID))
		assertFieldError(t, err, "first_name")
	})

	t.Run("new members closed", func(t *testing.T) {
		_, err := svc.UpdateSettings(f.ctx, membership.SettingsInput{AllowSignup: true})
		require.NoError(t, err)
		t.Cleanup(func() {
			_, err := svc.UpdateSettings(f.ctx, membership.SettingsInput{AllowSignup: true, AllowNewMember: true})
			require.NoError(t, err)
		})

		_, err = svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Carol", course.ID))
		assertClosed(t, err)
	})
}

func TestService_CreateMember_Windows(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	course := testutil.CreateCourse(t, f.db, f.season, "Salsa", 10, 100)
	previous := testutil.CreateSeason(t, f.db, "2022-2023", false)
	testutil.CreateMember(t, f.db, f.owner, previous, "Known", "Martin")

	setWindows := func(t *testing.T, preStart, preEnd, start, end time.Time) {
		season := f.season
		season.PreSignupStart, season.PreSignupEnd = null.TimeFrom(preStart), null.TimeFrom(preEnd)
		season.SignupStart, season.SignupEnd = null.TimeFrom(start), null.TimeFrom(end)
		require.NoError(t, f.store.UpdateSeason(f.ctx, &season))
	}
	day := 24 * time.Hour

	t.Run("pre-signup", func(t *testing.T) {
		setWindows(t, now.Add(-day), now.Add(day), now.Add(2*day), now.Add(30*day))
		svc, rec := f.service()

		_, err := svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Known", course.ID))
		require.NoError(t, err)
		assert.Empty(t, rec.of(notification.KindPreSignupWarning))

		_, err = svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Newbie", course.ID))
		require.NoError(t, err)
		warnings := rec.of(notification.KindPreSignupWarning)
		require.Len(t, warnings, 1)
		assert.Equal(t, []string{operator}, warnings[0].Recipients)
		n := warnings[0].Notification.(notification.PreSignupWarning)
		assert.Equal(t, "parent@kdance.test", n.Username)
		assert.Equal(t, "Newbie Martin", n.FullName)
		assert.Equal(t, "01/05/2010", n.Birthday)
	})

	t.Run("between the windows", func(t *testing.T) {
		setWindows(t, now.Add(-3*day), now.Add(-2*day), now.Add(day), now.Add(30*day))
		svc, _ := f.service()
		_, err := svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Late", course.ID))
		assertClosed(t, err)
	})

	t.Run("signup over", func(t *testing.T) {
		setWindows(t, now.Add(-30*day), now.Add(-20*day), now.Add(-10*day), now.Add(-day))
		svc, _ := f.service()
		_, err := svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Later", course.ID))
		assertClosed(t, err)
	})
}

func TestService_UpdateMember(t *testing.T) {
	f := newFixture(t)
	svc, rec := f.service()
	salsa := testutil.CreateCourse(t, f.db, f.season, "Salsa", 10, 100)
	tango := testutil.CreateCourse(t, f.db, f.season, "Tango", 10, 80)

	alice, err := svc.CreateMember(f.ctx, f.owner, memberInput(f.season.ID, "Alice", salsa.ID))
	require.NoError(t, err)

	t.Run("courses left untouched", func(t *testing.T) {
		in := memberInput(f.season.ID, "Alice")
		in.ActiveCourses = nil
		in.City = "villeurbanne"
		m, err := svc.UpdateMember(f.ctx, alice.ID, in)
		require.NoError(t, err)
		assert.Equal(t, "Villeurbanne", m.City)
		assert.Equal(t, []int{salsa.ID}, m.CourseIDs(membership.StateActive))
	})

	t.Run("sport pass is worth the season amount", func(t *testing.T) {
		require.NoError(t, f.db.Model(&membership.Season{}).Where("id = ?", f.season.ID).
			Update("pass_sport_amount", decimal.NewFromInt(50)).Error)

		in := memberInput(f.season.ID, "Alice")
		in.ActiveCourses = nil
		in.SportPass = &membership.SportPassInput{Code: "PASS-42"}
		m, err := svc.UpdateMember(f.ctx, alice.ID, in)
		require.NoError(t, err)
		require.NotNil(t, m.SportPass)
		assert.Equal(t, "PASS-42", m.SportPass.Code)
		assert.True(t, decimal.NewFromInt(50).Equal(m.SportPass.Amount), "amount = %s", m.SportPass.Amount)

		payment, err := f.store.GetPaymentFor(f.ctx, f.owner.ID, f.season.ID)
		require.NoError(t, err)
		_, err = svc.UpdatePayment(f.ctx, payment.ID, membership.PaymentInput{})
		require.NoError(t, err)
		assert.False(t, f.reload(t, alice.ID).IsValidated)

		st, err := svc.MemberStatement(f.ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(50).Equal(st.Paid), "paid = %s", st.Paid)
		assert.True(t, decimal.NewFromInt(60).Equal(st.Balance), "balance = %s", st.Balance)
	})

	t.Run("empty courses", func(t *testing.T) {
		in := memberInput(f.season.ID, "Alice")
		in.ActiveCourses = []int{}
		_, err := svc.UpdateMember(f.ctx, alice.ID, in)
		assertFieldError(t, err, "active_courses")
	})

	t.Run("season change", func(t *testing.T) {
		other := testutil.CreateSeason(t, f.db, "2024-2025", false)
		_, err := svc.UpdateMember(f.ctx, alice.ID, memberInput(other.ID, "Alice", salsa.ID))
		assertFieldError(t, err, "season")
	})

	t.Run("courses reconciled", func(t *testing.T) {
		rec.reset()
		m, err := svc.UpdateMember(f.ctx, alice.ID, memberInput(f.season.ID, "Alice", tango.ID))
		require.NoError(t, err)
		assert.Equal(t, []int{tango.ID}, m.CourseIDs(membership.StateActive))
		_, ok := enrollmentOf(m, salsa.ID)
		assert.False(t, ok)
		assert.Len(t, rec.of(notification.KindCoursesUpdated), 1)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.UpdateMember(f.ctx, 999, memberInput(f.season.ID, "Alice", salsa.ID))
		assert.ErrorIs(t, err, membership.ErrNotFound)
	})
}

func TestService_DeleteMember(t *testing.T) {
	f := newFixture(t)
	svc, rec := f.service()
	course := testutil.CreateCourse(t, f.db, f.season, "Salsa", 1, 100)
	alice := f.member(t, "Alice")
	bob := f.member(t, "Bob")
	testutil.Enroll(t, f.db, alice, course, membership.StateActive)
	testutil.Enroll(t, f.db, bob, course, membership.StateWaiting, f.now)

	require.NoError(t, svc.DeleteMember(f.ctx, alice.ID))

	_, err := svc.GetMember(f.ctx, alice.ID)
	assert.ErrorIs(t, err, membership.ErrNotFound)

	enr, ok := enrollmentOf(f.reload(t, bob.ID), course.ID)
	require.True(t, ok)
	assert.Equal(t, membership.StateActive, enr.State)

	deleted := rec.of(notification.KindMemberDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, "Alice Martin", deleted[0].Notification.(notification.MemberDeleted).FullName)
	assert.Len(t, rec.of(notification.KindWaitingPromoted), 1)

	assert.ErrorIs(t, svc.DeleteMember(f.ctx, alice.ID), membership.ErrNotFound)
}

func TestService_UpdateSettings(t *testing.T) {
	f := newFixture(t)
	svc, rec := f.service()
	course := testutil.CreateCourse(t, f.db, f.season, "Salsa", 1, 100)
	bob := f.member(t, "Bob")
	testutil.Enroll(t, f.db, bob, course, membership.StateWaiting, f.now)

	t.Run("invalid", func(t *testing.T) {
		_, err := svc.UpdateSettings(f.ctx, membership.SettingsInput{SignupPaymentDeltaDays: -1})
		assert.Error(t, err)
	})

	t.Run("closing does not promote", func(t *testing.T) {
		gs, err := svc.UpdateSettings(f.ctx, membership.SettingsInput{AllowSignup: true, SignupPaymentDeltaDays: 15})
		require.NoError(t, err)
		assert.False(t, gs.AllowNewMember)
		assert.Equal(t, 15, gs.SignupPaymentDeltaDays)
		assert.Empty(t, rec.envelopes)
	})

	t.Run("reopening sweeps", func(t *testing.T) {
		_, err := svc.UpdateSettings(f.ctx, membership.SettingsInput{AllowSignup: true, AllowNewMember: true})
		require.NoError(t, err)

		enr, ok := enrollmentOf(f.reload(t, bob.ID), course.ID)
		require.True(t, ok)
		assert.Equal(t, membership.StateActive, enr.State)
		assert.Len(t, rec.of(notification.KindWaitingPromoted), 1)

		gs, err := svc.GetSettings(f.ctx)
		require.NoError(t, err)
		assert.True(t, gs.AllowNewMember)
	})
}

func seasonInput(year string, current bool) membership.SeasonInput {
	return membership.SeasonInput{
		Year:             year,
		IsCurrent:        &current,
		DiscountPercent:  decimal.NewFromInt(10),
		DiscountLimit:    3,
		MembershipAmount: decimal.NewNullDecimal(decimal.NewFromInt(15)),
	}
}

func TestService_CreateSeason(t *testing.T) {
	f := newFixture(t)
	svc, _ := f.service(func(o *membership.ServiceOptions) {
		o.SeasonRetention = 2
		o.MembershipAmount = decimal.NewFromInt(10)
	})
	older := testutil.CreateSeason(t, f.db, "2022-2023", false)

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name  string
			in    func(in *membership.SeasonInput)
			field string
		}{
			{"discount above 100", func(in *membership.SeasonInput) { in.DiscountPercent = decimal.NewFromInt(101) }, "discount_percent"},
			{"negative membership", func(in *membership.SeasonInput) { in.MembershipAmount = decimal.NewNullDecimal(decimal.NewFromInt(-1)) }, "membership_amount"},
			{"signup ends before it starts", func(in *membership.SeasonInput) {
				in.SignupStart = null.TimeFrom(f.now)
				in.SignupEnd = null.TimeFrom(f.now.Add(-time.Hour))
			}, "signup_end"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				in := seasonInput("2030-2031", false)
				tt.in(&in)
				_, err := svc.CreateSeason(f.ctx, in)
				assertFieldError(t, err, tt.field)
			})
		}

		_, err := svc.CreateSeason(f.ctx, seasonInput("2030", false))
		assert.Error(t, err)
	})

	t.Run("duplicate year", func(t *testing.T) {
		_, err := svc.CreateSeason(f.ctx, seasonInput("2023-2024", false))
		assertFieldError(t, err, "year")
	})

	t.Run("retention and payments", func(t *testing.T) {
		season, err := svc.CreateSeason(f.ctx, seasonInput(" 2024-2025 ", true))
		require.NoError(t, err)
		assert.Equal(t, "2024-2025", season.Year)

		_, err = svc.GetSeason(f.ctx, older.ID)
		assert.ErrorIs(t, err, membership.ErrNotFound)

		seasons, err := svc.QuerySeasons(f.ctx, membership.SeasonFilter{})
		require.NoError(t, err)
		years := make([]string, 0, len(seasons))
		for _, s := range seasons {
			years = append(years, s.Year)
		}
		assert.Equal(t, []string{"2024-2025", "2023-2024"}, years)

		current, err := f.store.GetCurrentSeason(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, season.ID, current.ID)

		_, err = f.store.GetPaymentFor(f.ctx, f.owner.ID, season.ID)
		assert.NoError(t, err)
		assert.True(t, decimal.NewFromInt(15).Equal(season.MembershipAmount))
	})

	t.Run("defaults", func(t *testing.T) {
		previous, err := f.store.GetCurrentSeason(f.ctx)
		require.NoError(t, err)

		season, err := svc.CreateSeason(f.ctx, membership.SeasonInput{Year: "2025-2026"})
		require.NoError(t, err)
		assert.True(t, season.IsCurrent)
		assert.True(t, decimal.NewFromInt(10).Equal(season.MembershipAmount), "membership_amount = %s", season.MembershipAmount)

		current, err := f.store.GetCurrentSeason(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, season.ID, current.ID)
		previous, err = svc.GetSeason(f.ctx, previous.ID)
		require.NoError(t, err)
		assert.False(t, previous.IsCurrent)

		updated, err := svc.UpdateSeason(f.ctx, season.ID, membership.SeasonInput{Year: "2025-2026", DiscountLimit: 2})
		require.NoError(t, err)
		assert.True(t, updated.IsCurrent)
		assert.True(t, decimal.NewFromInt(10).Equal(updated.MembershipAmount))
		assert.Equal(t, 2, updated.DiscountLimit)
	})
}

func courseInput(seasonID int, name string, capacity int) membership.CourseInput {
	return membership.CourseInput{
		SeasonID:  seasonID,
		Name:      name,
		Price:     decimal.NewFromInt(120),
		Weekday:   2,
		StartHour: datatypes.NewTime(17, 30, 0, 0),
		EndHour:   datatypes.NewTime(18, 30, 0, 0),
		Capacity:  capacity,
	}
}

func TestService_Courses(t *testing.T) {
	f := newFixture(t)
	svc, rec := f.service()

	t.Run("default capacity", func(t *testing.T) {
		c, err := svc.CreateCourse(f.ctx, courseInput(f.season.ID, "Hip Hop", 0))
		require.NoError(t, err)
		assert.Equal(t, 12, c.Capacity)
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name  string
			in    func(in *membership.CourseInput)
			field string
		}{
			{"duplicate", func(in *membership.CourseInput) {}, "name"},
			{"unknown season", func(in *membership.CourseInput) { in.SeasonID = 999 }, "season"},
			{"unknown teacher", func(in *membership.CourseInput) { id := 999; in.TeacherID = &id }, "teacher"},
			{"ends before it starts", func(in *membership.CourseInput) { in.EndHour = datatypes.NewTime(17, 0, 0, 0) }, "end_hour"},
			{"negative price", func(in *membership.CourseInput) { in.Price = decimal.NewFromInt(-5) }, "price"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				in := courseInput(f.season.ID, "Hip Hop", 0)
				tt.in(&in)
				_, err := svc.CreateCourse(f.ctx, in)
				assertFieldError(t, err, tt.field)
			})
		}
	})

	t.Run("update", func(t *testing.T) {
		course := testutil.CreateCourse(t, f.db, f.season, "Salsa", 1, 100)
		alice := f.member(t, "Alice")
		bob := f.member(t, "Bob")
		testutil.Enroll(t, f.db, alice, course, membership.StateActive)
		testutil.Enroll(t, f.db, bob, course, membership.StateWaiting, f.now)

		other := testutil.CreateSeason(t, f.db, "2024-2025", false)
		_, err := svc.UpdateCourse(f.ctx, course.ID, courseInput(other.ID, "Salsa", 1))
		assertFieldError(t, err, "season")

		rec.reset()
		got, err := svc.UpdateCourse(f.ctx, course.ID, courseInput(f.season.ID, "Salsa", 2))
		require.NoError(t, err)
		assert.Equal(t, 2, got.Capacity)
		assert.Equal(t, 2, got.ActiveCount)
		assert.Zero(t, got.WaitingCount)
		assert.Len(t, rec.of(notification.KindWaitingPromoted), 1)
	})

	t.Run("delete", func(t *testing.T) {
		c, err := svc.CreateCourse(f.ctx, courseInput(f.season.ID, "Jazz", 5))
		require.NoError(t, err)
		require.NoError(t, svc.DeleteCourse(f.ctx, c.ID))
		assert.ErrorIs(t, svc.DeleteCourse(f.ctx, c.ID), membership.ErrNotFound)
	})
}

func TestService_Teachers(t *testing.T) {
	f := newFixture(t)
	svc, _ := f.service()

	teacher, err := svc.CreateTeacher(f.ctx, membership.TeacherInput{Name: " Lucie Bernard "})
	require.NoError(t, err)
	assert.Equal(t, "Lucie Bernard", teacher.Name)

	_, err = svc.CreateTeacher(f.ctx, membership.TeacherInput{Name: "lucie bernard"})
	assertFieldError(t, err, "name")

	other, err := svc.CreateTeacher(f.ctx, membership.TeacherInput{Name: "Marc Petit"})
	require.NoError(t, err)
	_, err = svc.UpdateTeacher(f.ctx, other.ID, membership.TeacherInput{Name: "Lucie Bernard"})
	assertFieldError(t, err, "name")

	updated, err := svc.UpdateTeacher(f.ctx, other.ID, membership.TeacherInput{Name: "Marc Petit-Jean"})
	require.NoError(t, err)
	assert.Equal(t, "Marc Petit-Jean", updated.Name)

	require.NoError(t, svc.DeleteTeacher(f.ctx, other.ID))
	teachers, err := svc.QueryTeachers(f.ctx)
	require.NoError(t, err)
	assert.Len(t, teachers, 1)
}

func TestService_CopySeasonByYear(t *testing.T) {
	f := newFixture(t)
	svc, _ := f.service()
	testutil.CreateCourse(t, f.db, f.season, "Salsa", 10, 100)
	testutil.CreateCourse(t, f.db, f.season, "Tango", 10, 80)
	next := testutil.CreateSeason(t, f.db, "2024-2025", false)

	courses, err := svc.CopySeasonByYear(f.ctx, "2023-2024", " 2024-2025")
	require.NoError(t, err)
	require.Len(t, courses, 2)
	for _, c := range courses {
		assert.Equal(t, next.ID, c.SeasonID)
		assert.Zero(t, c.ActiveCount)
	}

	t.Run("copying twice skips the existing courses", func(t *testing.T) {
		courses, err := svc.CopySeasonByYear(f.ctx, "2023-2024", "2024-2025")
		require.NoError(t, err)
		assert.Len(t, courses, 2)
	})

	t.Run("same season", func(t *testing.T) {
		_, err := svc.CopySeasonByYear(f.ctx, "2023-2024", "2023-2024")
		assert.Error(t, err)
	})

	t.Run("unknown season", func(t *testing.T) {
		_, err := svc.CopySeasonByYear(f.ctx, "1999-2000", "2024-2025")
		assert.ErrorIs(t, err, membership.ErrNotFound)
	})
}

func TestService_UpdatePayment(t *testing.T) {
	f := newFixture(t)
	svc, _ := f.service()
	course := testutil.CreateCourse(t, f.db, f.season, "Salsa", 10, 100)
	alice := f.member(t, "Alice")
	testutil.Enroll(t, f.db, alice, course, membership.StateActive)
	payment := testutil.CreatePayment(t, f.db, f.owner, f.season)

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name  string
			in    membership.PaymentInput
			field string
		}{
			{"negative cash", membership.PaymentInput{Cash: decimal.NewFromInt(-1)}, "cash"},
			{"coupon amount without count", membership.PaymentInput{Ancv: membership.Coupon{Amount: decimal.NewFromInt(20)}}, "ancv.count"},
			{"coupon count without amount", membership.PaymentInput{SportCoupon: membership.Coupon{Count: 2}}, "sport_coupon.amount"},
			{"other payment without comment", membership.PaymentInput{OtherPayment: membership.OtherPayment{Amount: decimal.NewFromInt(5)}}, "other_payment.comment"},
			{"zero check", membership.PaymentInput{Checks: []membership.CheckInput{{Name: "Martin", Bank: "LCL", Number: "001", Month: 10}}}, "checks[0].amount"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.UpdatePayment(f.ctx, payment.ID, tt.in)
				assertFieldError(t, err, tt.field)
			})
		}
	})

	t.Run("partially paid", func(t *testing.T) {
		got, err := svc.UpdatePayment(f.ctx, payment.ID, membership.PaymentInput{
			Checks: []membership.CheckInput{{Name: "Martin", Bank: "LCL", Number: "001", Amount: decimal.NewFromInt(55), Month: 10}},
		})
		require.NoError(t, err)
		assert.Len(t, got.Checks, 1)
		assert.False(t, f.reload(t, alice.ID).IsValidated)
	})

	t.Run("fully paid validates the members", func(t *testing.T) {
		_, err := svc.UpdatePayment(f.ctx, payment.ID, membership.PaymentInput{
			Cash: decimal.NewFromInt(55),
			Checks: []membership.CheckInput{
				{Name: "Martin", Bank: "LCL", Number: "001", Amount: decimal.NewFromInt(55), Month: 10},
			},
		})
		require.NoError(t, err)
		assert.True(t, f.reload(t, alice.ID).IsValidated)

		st, err := svc.MemberStatement(f.ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(110).Equal(st.Due))
		assert.True(t, st.Balance.IsZero())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.UpdatePayment(f.ctx, 999, membership.PaymentInput{})
		assert.ErrorIs(t, err, membership.ErrNotFound)
	})
}

func TestService_RecordCardEvent(t *testing.T) {
	f := newFixture(t)
	svc, rec := f.service()
	course := testutil.CreateCourse(t, f.db, f.season, "Salsa", 10, 100)
	alice := f.member(t, "Alice")
	testutil.Enroll(t, f.db, alice, course, membership.StateActive)
	payment := testutil.CreatePayment(t, f.db, f.owner, f.season)

	tests := []struct {
		name        string
		event       membership.CardEvent
		wantErr     bool
		wantCards   int
		wantUnknown int
	}{
		{"accepted without amount", membership.CardEvent{Status: membership.CardAccepted}, true, 0, 0},
		{"refused", membership.CardEvent{Status: membership.CardRefused, Amount: decimal.NewFromInt(110)}, false, 0, 0},
		{"cancelled", membership.CardEvent{Status: "CANCELLED", Amount: decimal.NewFromInt(110)}, false, 0, 0},
		{"unknown status", membership.CardEvent{Status: "pending", Reference: "TX-42"}, false, 0, 1},
		{"accepted", membership.CardEvent{Status: membership.CardAccepted, Amount: decimal.NewFromInt(110), Reference: "TX-43"}, false, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.reset()
			got, err := svc.RecordCardEvent(f.ctx, payment.ID, "parent@kdance.test", tt.event)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got.CardPayments, tt.wantCards)
			assert.Len(t, rec.of(notification.KindPaymentStatusUnknown), tt.wantUnknown)
		})
	}

	card, err := svc.GetPayment(f.ctx, payment.ID)
	require.NoError(t, err)
	require.Len(t, card.CardPayments, 1)
	assert.Equal(t, "card", card.CardPayments[0].TransactionType)
	assert.Equal(t, "TX-43", card.CardPayments[0].Reference)
	assert.Equal(t, membership.CardAccepted, card.CardPayments[0].Status)
	assert.True(t, f.reload(t, alice.ID).IsValidated)
}

func TestService_QueryMembers_Balance(t *testing.T) {
	f := newFixture(t)
	svc, _ := f.service()
	course := testutil.CreateCourse(t, f.db, f.season, "Salsa", 10, 100)

	debtor := f.member(t, "Alice")
	testutil.Enroll(t, f.db, debtor, course, membership.StateActive)
	testutil.CreatePayment(t, f.db, f.owner, f.season)

	other := testutil.CreateUser(t, f.db, "other@kdance.test")
	settled := testutil.CreateMember(t, f.db, other, f.season, "Bob", "Durand")
	testutil.Enroll(t, f.db, settled, course, membership.StateActive)
	paid := testutil.CreatePayment(t, f.db, other, f.season)
	_, err := svc.UpdatePayment(f.ctx, paid.ID, membership.PaymentInput{Cash: decimal.NewFromInt(110)})
	require.NoError(t, err)

	tests := []struct {
		name      string
		ascending bool
		want      []int
	}{
		{"ascending", true, []int{settled.ID, debtor.ID}},
		{"descending", false, []int{debtor.ID, settled.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members, err := svc.QueryMembers(f.ctx, membership.MemberFilter{
				SeasonID: f.season.ID,
				Ordering: []core.DBOrdering{{Field: "balance", Ascending: tt.ascending}},
			})
			require.NoError(t, err)
			ids := make([]int, 0, len(members))
			for _, m := range members {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
