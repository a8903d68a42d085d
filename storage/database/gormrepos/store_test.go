package gormrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/storage/database/gormrepos"
	testutil "github.com/kdance/registration/tests"
)

func newStore(t *testing.T) (*gormrepos.Store, *gorm.DB) {
	db := testutil.OpenDB(t)
	return gormrepos.NewStore(db), db
}

func boolPtr(b bool) *bool { return &b }

func TestStore_Settings(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	gs, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, membership.DefaultSettings(), gs)

	gs.AllowNewMember = false
	gs.SignupPaymentDeltaDays = 15
	require.NoError(t, store.SaveSettings(ctx, &gs))

	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.False(t, got.AllowNewMember)
	assert.True(t, got.AllowSignup)
	assert.Equal(t, 15, got.SignupPaymentDeltaDays)
}

func TestStore_Atomic(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	err := store.Atomic(ctx, func(repo membership.Repository) error {
		if err := repo.CreateTeacher(ctx, &membership.Teacher{Name: "Rolled Back"}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	err = store.Atomic(ctx, func(repo membership.Repository) error {
		return repo.CreateTeacher(ctx, &membership.Teacher{Name: "Committed"})
	})
	require.NoError(t, err)

	teachers, err := store.QueryTeachers(ctx)
	require.NoError(t, err)
	if assert.Len(t, teachers, 1) {
		assert.Equal(t, "Committed", teachers[0].Name)
	}
}

func TestStore_Seasons(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	old := testutil.CreateSeason(t, db, "2022-2023", true)
	cur := testutil.CreateSeason(t, db, "2023-2024", false)

	t.Run("duplicate year", func(t *testing.T) {
		err := store.CreateSeason(ctx, &membership.Season{Year: "2023-2024"})
		assert.ErrorIs(t, err, membership.ErrSeasonExists)
	})

	t.Run("set current", func(t *testing.T) {
		require.NoError(t, store.SetCurrentSeason(ctx, cur.ID))
		got, err := store.GetCurrentSeason(ctx)
		require.NoError(t, err)
		assert.Equal(t, cur.ID, got.ID)

		seasons, err := store.QuerySeasons(ctx, membership.SeasonFilter{IsCurrent: boolPtr(true)})
		require.NoError(t, err)
		assert.Len(t, seasons, 1)
	})

	t.Run("newest first", func(t *testing.T) {
		seasons, err := store.QuerySeasons(ctx, membership.SeasonFilter{})
		require.NoError(t, err)
		require.Len(t, seasons, 2)
		assert.Equal(t, "2023-2024", seasons[0].Year)
		assert.Equal(t, "2022-2023", seasons[1].Year)
	})

	t.Run("by year", func(t *testing.T) {
		got, err := store.GetSeasonByYear(ctx, "2022-2023")
		require.NoError(t, err)
		assert.Equal(t, old.ID, got.ID)

		_, err = store.GetSeasonByYear(ctx, "1999-2000")
		assert.ErrorIs(t, err, membership.ErrNotFound)
	})

	t.Run("unknown season", func(t *testing.T) {
		assert.ErrorIs(t, store.SetCurrentSeason(ctx, 999), membership.ErrNotFound)
		assert.ErrorIs(t, store.DeleteSeason(ctx, 999), membership.ErrNotFound)
	})
}

func TestStore_GetCurrentSeason_None(t *testing.T) {
	store, db := newStore(t)
	testutil.CreateSeason(t, db, "2023-2024", false)

	_, err := store.GetCurrentSeason(context.Background())
	assert.ErrorIs(t, err, membership.ErrNoCurrentSeason)
	assert.True(t, membership.IsNotFound(err))
}

func TestStore_DeleteSeason(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, db, "parent@kdance.test")
	season := testutil.CreateSeason(t, db, "2023-2024", true)
	other := testutil.CreateSeason(t, db, "2022-2023", false)
	course := testutil.CreateCourse(t, db, season, "Salsa", 10, 100)
	kept := testutil.CreateCourse(t, db, other, "Salsa", 10, 100)
	member := testutil.CreateMember(t, db, usr, season, "Alice", "Martin")
	testutil.Enroll(t, db, member, course, membership.StateActive)
	testutil.CreatePayment(t, db, usr, season)
	testutil.CreatePayment(t, db, usr, other)

	require.NoError(t, store.DeleteSeason(ctx, season.ID))

	_, err := store.GetSeason(ctx, season.ID)
	assert.ErrorIs(t, err, membership.ErrNotFound)
	_, err = store.GetMember(ctx, member.ID)
	assert.ErrorIs(t, err, membership.ErrNotFound)
	_, err = store.GetCourse(ctx, course.ID)
	assert.ErrorIs(t, err, membership.ErrNotFound)
	_, err = store.GetPaymentFor(ctx, usr.ID, season.ID)
	assert.ErrorIs(t, err, membership.ErrPaymentNotFound)

	var enrollments int64
	require.NoError(t, db.Model(&membership.Enrollment{}).Count(&enrollments).Error)
	assert.Zero(t, enrollments)

	_, err = store.GetCourse(ctx, kept.ID)
	assert.NoError(t, err)
	_, err = store.GetPaymentFor(ctx, usr.ID, other.ID)
	assert.NoError(t, err)
}

func TestStore_Teachers(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	teacher := testutil.CreateTeacher(t, db, "Maria")
	other := testutil.CreateTeacher(t, db, "Carlos")

	tests := []struct {
		name      string
		search    string
		excludeID int
		want      bool
	}{
		{"same name", "Maria", 0, true},
		{"other case", "MARIA", 0, true},
		{"excluded teacher", "maria", teacher.ID, false},
		{"taken by another", "carlos", teacher.ID, true},
		{"unknown", "Sofia", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.TeacherNameExists(ctx, tt.search, tt.excludeID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("delete keeps the courses", func(t *testing.T) {
		season := testutil.CreateSeason(t, db, "2023-2024", true)
		course := testutil.CreateCourse(t, db, season, "Tango", 10, 90)
		course.TeacherID = &other.ID
		require.NoError(t, store.UpdateCourse(ctx, &course))

		require.NoError(t, store.DeleteTeacher(ctx, other.ID))

		got, err := store.GetCourse(ctx, course.ID)
		require.NoError(t, err)
		assert.Nil(t, got.TeacherID)
		assert.ErrorIs(t, store.DeleteTeacher(ctx, other.ID), membership.ErrNotFound)
	})
}

func TestStore_Courses(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, db, "parent@kdance.test")
	season := testutil.CreateSeason(t, db, "2023-2024", true)
	salsa := testutil.CreateCourse(t, db, season, "Salsa", 2, 100)
	tango := testutil.CreateCourse(t, db, season, "Tango", 5, 80)

	alice := testutil.CreateMember(t, db, usr, season, "Alice", "Martin")
	bob := testutil.CreateMember(t, db, usr, season, "Bob", "Martin")
	carol := testutil.CreateMember(t, db, usr, season, "Carol", "Martin")
	testutil.Enroll(t, db, alice, salsa, membership.StateActive)
	testutil.Enroll(t, db, bob, salsa, membership.StateActive)
	testutil.Enroll(t, db, carol, salsa, membership.StateWaiting, time.Now())
	testutil.Enroll(t, db, carol, tango, membership.StateCancelled)

	t.Run("counts", func(t *testing.T) {
		got, err := store.GetCourse(ctx, salsa.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ActiveCount)
		assert.Equal(t, 1, got.WaitingCount)
		assert.True(t, got.IsComplete())

		locked, err := store.LockCourse(ctx, tango.ID)
		require.NoError(t, err)
		assert.Zero(t, locked.ActiveCount)
		assert.Zero(t, locked.WaitingCount)
	})

	t.Run("query", func(t *testing.T) {
		courses, err := store.QueryCourses(ctx, membership.CourseFilter{SeasonID: season.ID})
		require.NoError(t, err)
		require.Len(t, courses, 2)
		assert.Equal(t, "Salsa", courses[0].Name)
		assert.Equal(t, 2, courses[0].ActiveCount)

		none, err := store.QueryCourses(ctx, membership.CourseFilter{SeasonID: season.ID, TeacherID: 42})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("duplicate", func(t *testing.T) {
		dup := salsa
		dup.ID = 0
		assert.ErrorIs(t, store.CreateCourse(ctx, &dup), membership.ErrCourseExists)

		dup.ID = 0
		created, err := store.CreateCourseIfAbsent(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, created)

		dup.ID = 0
		dup.Name = "Salsa 2"
		created, err = store.CreateCourseIfAbsent(ctx, &dup)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, dup.ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteCourse(ctx, tango.ID))
		member, err := store.GetMember(ctx, carol.ID)
		require.NoError(t, err)
		assert.Empty(t, member.CourseIDs(membership.StateCancelled))
		assert.Equal(t, []int{salsa.ID}, member.CourseIDs(membership.StateWaiting))
	})
}

func TestStore_Enrollments(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, db, "parent@kdance.test")
	season := testutil.CreateSeason(t, db, "2023-2024", true)
	course := testutil.CreateCourse(t, db, season, "Salsa", 1, 100)
	alice := testutil.CreateMember(t, db, usr, season, "Alice", "Martin")
	bob := testutil.CreateMember(t, db, usr, season, "Bob", "Martin")
	carol := testutil.CreateMember(t, db, usr, season, "Carol", "Martin")
	dave := testutil.CreateMember(t, db, usr, season, "Dave", "Martin")

	at := time.Date(2023, time.September, 1, 10, 0, 0, 0, time.UTC)
	testutil.Enroll(t, db, alice, course, membership.StateActive)
	testutil.Enroll(t, db, carol, course, membership.StateWaiting, at)
	testutil.Enroll(t, db, bob, course, membership.StateWaiting, at)
	testutil.Enroll(t, db, dave, course, membership.StateWaiting) // no queue entry

	t.Run("ties are broken by member", func(t *testing.T) {
		next, err := store.NextInQueue(ctx, course.ID)
		require.NoError(t, err)
		assert.Equal(t, bob.ID, next.MemberID)
	})

	t.Run("upsert", func(t *testing.T) {
		next, err := store.NextInQueue(ctx, course.ID)
		require.NoError(t, err)
		next.State = membership.StateActive
		next.QueuedAt.Valid = false
		require.NoError(t, store.SaveEnrollment(ctx, &next))

		member, err := store.GetMember(ctx, bob.ID)
		require.NoError(t, err)
		require.Len(t, member.Enrollments, 1)
		assert.Equal(t, membership.StateActive, member.Enrollments[0].State)
		assert.False(t, member.Enrollments[0].QueuedAt.Valid)
		assert.Equal(t, "Salsa", member.Enrollments[0].Course.Name)

		next, err = store.NextInQueue(ctx, course.ID)
		require.NoError(t, err)
		assert.Equal(t, carol.ID, next.MemberID)
	})

	t.Run("empty queue", func(t *testing.T) {
		require.NoError(t, store.DeleteEnrollment(ctx, carol.ID, course.ID))
		_, err := store.NextInQueue(ctx, course.ID)
		assert.ErrorIs(t, err, membership.ErrNotFound)
	})
}

func TestStore_Members(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, db, "parent@kdance.test")
	prev := testutil.CreateSeason(t, db, "2022-2023", false)
	season := testutil.CreateSeason(t, db, "2023-2024", true)
	course := testutil.CreateCourse(t, db, season, "Salsa", 10, 100)

	member := membership.Member{
		UserID:     usr.ID,
		SeasonID:   season.ID,
		FirstName:  "Alice",
		LastName:   "Martin",
		Birthday:   testutil.CreateMember(t, db, usr, prev, "Alice", "Martin").Birthday,
		Address:    "1 rue de la Danse",
		PostalCode: "75001",
		City:       "Paris",
		Email:      "alice@kdance.test",
		Phone:      "0601020304",
		FFDLicense: 2,
		Contacts: []membership.Contact{
			{FirstName: "Eve", LastName: "Martin", Phone: "0605060708", ContactType: membership.ContactEmergency},
		},
		SportPass: &membership.SportPass{Code: "PASS-1", Amount: decimal.NewFromInt(50)},
	}
	require.NoError(t, store.CreateMember(ctx, &member))
	other := testutil.CreateMember(t, db, usr, season, "Bob", "Durand")
	testutil.Enroll(t, db, other, course, membership.StateCancelled)

	t.Run("duplicate", func(t *testing.T) {
		dup := membership.Member{UserID: usr.ID, SeasonID: season.ID, FirstName: "Alice", LastName: "Martin", Birthday: member.Birthday}
		assert.ErrorIs(t, store.CreateMember(ctx, &dup), membership.ErrMemberExists)
	})

	t.Run("relations", func(t *testing.T) {
		got, err := store.GetMember(ctx, member.ID)
		require.NoError(t, err)
		require.Len(t, got.Contacts, 1)
		assert.Equal(t, "Eve", got.Contacts[0].FirstName)
		require.NotNil(t, got.SportPass)
		assert.Equal(t, "PASS-1", got.SportPass.Code)
		require.NotNil(t, got.User)
		assert.Equal(t, []string{"alice@kdance.test", "parent@kdance.test"}, got.Recipients())
	})

	t.Run("update replaces the children", func(t *testing.T) {
		got, err := store.GetMember(ctx, member.ID)
		require.NoError(t, err)
		got.City = "Lyon"
		got.Contacts = []membership.Contact{
			{FirstName: "Paul", LastName: "Martin", Phone: "0611111111", ContactType: membership.ContactParent},
			{FirstName: "Anna", LastName: "Martin", Phone: "0622222222", ContactType: membership.ContactEmergency},
		}
		got.SportPass = nil
		require.NoError(t, store.UpdateMember(ctx, &got))

		got, err = store.GetMember(ctx, member.ID)
		require.NoError(t, err)
		assert.Equal(t, "Lyon", got.City)
		assert.Len(t, got.Contacts, 2)
		assert.Nil(t, got.SportPass)
	})

	t.Run("query", func(t *testing.T) {
		tests := []struct {
			name   string
			filter membership.MemberFilter
			want   []string
		}{
			{"season", membership.MemberFilter{SeasonID: season.ID}, []string{"Bob", "Alice"}},
			{"course, any state", membership.MemberFilter{CourseID: course.ID}, []string{"Bob"}},
			{"with license", membership.MemberFilter{SeasonID: season.ID, WithLicense: boolPtr(true)}, []string{"Alice"}},
			{"without pass", membership.MemberFilter{SeasonID: season.ID, WithPass: boolPtr(false)}, []string{"Bob", "Alice"}},
			{"search", membership.MemberFilter{SeasonID: season.ID, Search: "mart"}, []string{"Alice"}},
			{
				"ordering",
				membership.MemberFilter{SeasonID: season.ID, Ordering: []core.DBOrdering{{Field: "first_name", Ascending: true}}},
				[]string{"Alice", "Bob"},
			},
			{
				"unknown ordering falls back",
				membership.MemberFilter{SeasonID: season.ID, Ordering: []core.DBOrdering{{Field: "password"}}},
				[]string{"Bob", "Alice"},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				members, err := store.QueryMembers(ctx, tt.filter)
				require.NoError(t, err)
				names := make([]string, 0, len(members))
				for _, m := range members {
					names = append(names, m.FirstName)
				}
				assert.Equal(t, tt.want, names)
			})
		}
	})

	t.Run("exists in season", func(t *testing.T) {
		birthday := time.Time(member.Birthday)
		found, err := store.MemberExists(ctx, "Alice", "Martin", birthday, "2022-2023")
		require.NoError(t, err)
		assert.True(t, found)

		found, err = store.MemberExists(ctx, "Alice", "Martin", birthday.AddDate(0, 0, 1), "2022-2023")
		require.NoError(t, err)
		assert.False(t, found)

		found, err = store.MemberExists(ctx, "Bob", "Durand", birthday, "2022-2023")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("validation and refunds", func(t *testing.T) {
		require.NoError(t, store.SetValidated(ctx, member.ID))
		require.NoError(t, store.AddCancelRefund(ctx, member.ID, decimal.NewFromInt(30)))
		require.NoError(t, store.AddCancelRefund(ctx, member.ID, decimal.NewFromFloat(12.5)))

		got, err := store.GetMember(ctx, member.ID)
		require.NoError(t, err)
		assert.True(t, got.IsValidated)
		assert.True(t, decimal.NewFromFloat(42.5).Equal(got.CancelRefund), got.CancelRefund.String())
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteMember(ctx, other.ID))
		_, err := store.GetMember(ctx, other.ID)
		assert.ErrorIs(t, err, membership.ErrNotFound)
		assert.ErrorIs(t, store.DeleteMember(ctx, other.ID), membership.ErrNotFound)

		got, err := store.GetCourse(ctx, course.ID)
		require.NoError(t, err)
		assert.Zero(t, got.ActiveCount)
	})
}

func TestStore_Payments(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, db, "parent@kdance.test")
	other := testutil.CreateUser(t, db, "other@kdance.test")
	season := testutil.CreateSeason(t, db, "2023-2024", true)
	prev := testutil.CreateSeason(t, db, "2022-2023", false)
	payment := testutil.CreatePayment(t, db, usr, season)
	oldPayment := testutil.CreatePayment(t, db, usr, prev)

	payment.Cash = decimal.NewFromInt(40)
	payment.Checks = []membership.Check{
		{Name: "Martin", Bank: "BNP", Number: "001", Amount: decimal.NewFromInt(60), Month: 10},
		{Name: "Martin", Bank: "BNP", Number: "002", Amount: decimal.NewFromInt(60), Month: 11},
	}
	require.NoError(t, store.UpdatePayment(ctx, &payment))

	oldPayment.Checks = []membership.Check{{Name: "Martin", Bank: "LCL", Number: "009", Amount: decimal.NewFromInt(20), Month: 10}}
	require.NoError(t, store.UpdatePayment(ctx, &oldPayment))

	t.Run("checks are replaced", func(t *testing.T) {
		got, err := store.GetPaymentFor(ctx, usr.ID, season.ID)
		require.NoError(t, err)
		require.Len(t, got.Checks, 2)

		got.Checks = got.Checks[:1]
		require.NoError(t, store.UpdatePayment(ctx, &got))

		got, err = store.GetPayment(ctx, payment.ID)
		require.NoError(t, err)
		assert.Len(t, got.Checks, 1)
		assert.True(t, decimal.NewFromInt(40).Equal(got.Cash))
	})

	t.Run("missing payment", func(t *testing.T) {
		_, err := store.GetPaymentFor(ctx, other.ID, season.ID)
		assert.ErrorIs(t, err, membership.ErrPaymentNotFound)
	})

	t.Run("card payments", func(t *testing.T) {
		card := membership.CardPayment{PaymentID: payment.ID, Amount: decimal.NewFromInt(25), TransactionType: "card", Reference: "TX1"}
		require.NoError(t, store.AddCardPayment(ctx, &card))

		got, err := store.GetPayment(ctx, payment.ID)
		require.NoError(t, err)
		require.Len(t, got.CardPayments, 1)
		assert.Equal(t, "TX1", got.CardPayments[0].Reference)
	})

	t.Run("query checks", func(t *testing.T) {
		tests := []struct {
			name   string
			filter membership.CheckFilter
			want   []string
		}{
			{"season", membership.CheckFilter{SeasonID: season.ID}, []string{"001"}},
			{"month across seasons", membership.CheckFilter{Month: 10}, []string{"001", "009"}},
			{"empty month", membership.CheckFilter{SeasonID: season.ID, Month: 11}, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				checks, err := store.QueryChecks(ctx, tt.filter)
				require.NoError(t, err)
				numbers := make([]string, 0, len(checks))
				for _, c := range checks {
					numbers = append(numbers, c.Number)
				}
				assert.Equal(t, tt.want, numbers)
			})
		}
	})

	t.Run("query payments", func(t *testing.T) {
		payments, err := store.QueryPayments(ctx, membership.PaymentFilter{UserID: usr.ID})
		require.NoError(t, err)
		require.Len(t, payments, 2)
		assert.Equal(t, prev.ID, payments[0].SeasonID)
	})

	t.Run("user ids", func(t *testing.T) {
		ids, err := store.UserIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{usr.ID, other.ID}, ids)
	})
}
