// Package testutil opens in-memory databases and creates the fixtures the tests share.
package testutil

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/user"
	logsvc "github.com/kdance/registration/services/logger"
)

// sqliteSchema mirrors fs/migrations for sqlite.
var sqliteSchema = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash BLOB NOT NULL,
		roles TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		last_login DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE general_settings (
		id INTEGER PRIMARY KEY,
		allow_signup BOOLEAN NOT NULL,
		allow_new_member BOOLEAN NOT NULL,
		pre_signup_payment_delta_days INTEGER NOT NULL,
		signup_payment_delta_days INTEGER NOT NULL
	)`,
	`CREATE TABLE seasons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		year TEXT NOT NULL UNIQUE,
		is_current BOOLEAN NOT NULL DEFAULT 0,
		pre_signup_start DATETIME,
		pre_signup_end DATETIME,
		signup_start DATETIME,
		signup_end DATETIME,
		discount_percent NUMERIC NOT NULL DEFAULT 0,
		discount_limit INTEGER NOT NULL DEFAULT 0,
		membership_amount NUMERIC NOT NULL DEFAULT 10,
		pass_sport_amount NUMERIC NOT NULL DEFAULT 0,
		ffd_a_amount NUMERIC NOT NULL DEFAULT 0,
		ffd_b_amount NUMERIC NOT NULL DEFAULT 0,
		ffd_c_amount NUMERIC NOT NULL DEFAULT 0,
		ffd_d_amount NUMERIC NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE teachers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE
	)`,
	`CREATE TABLE courses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		season_id INTEGER NOT NULL,
		teacher_id INTEGER,
		name TEXT NOT NULL,
		price NUMERIC NOT NULL DEFAULT 0,
		weekday INTEGER NOT NULL,
		start_hour TIME NOT NULL,
		end_hour TIME NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 12,
		UNIQUE (name, season_id, weekday, start_hour)
	)`,
	`CREATE TABLE members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		season_id INTEGER NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		birthday DATE NOT NULL,
		address TEXT NOT NULL,
		postal_code TEXT NOT NULL,
		city TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL,
		ffd_license INTEGER NOT NULL DEFAULT 0,
		is_validated BOOLEAN NOT NULL DEFAULT 0,
		cancel_refund NUMERIC NOT NULL DEFAULT 0,
		doc_authorise_photos BOOLEAN NOT NULL DEFAULT 0,
		doc_authorise_emergency BOOLEAN,
		doc_medical_document BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (first_name, last_name, user_id, season_id)
	)`,
	`CREATE TABLE contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id INTEGER NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL,
		contact_type TEXT NOT NULL
	)`,
	`CREATE TABLE sport_passes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id INTEGER NOT NULL UNIQUE,
		code TEXT NOT NULL,
		amount NUMERIC NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE enrollments (
		member_id INTEGER NOT NULL,
		course_id INTEGER NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('active', 'waiting', 'cancelled')),
		queued_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		PRIMARY KEY (member_id, course_id)
	)`,
	`CREATE TABLE payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		season_id INTEGER NOT NULL,
		cash NUMERIC NOT NULL DEFAULT 0,
		refund NUMERIC NOT NULL DEFAULT 0,
		special_discount NUMERIC NOT NULL DEFAULT 0,
		comment TEXT NOT NULL DEFAULT '',
		ancv_amount NUMERIC NOT NULL DEFAULT 0,
		ancv_count INTEGER NOT NULL DEFAULT 0,
		sport_coupon_amount NUMERIC NOT NULL DEFAULT 0,
		sport_coupon_count INTEGER NOT NULL DEFAULT 0,
		other_amount NUMERIC NOT NULL DEFAULT 0,
		other_comment TEXT NOT NULL DEFAULT '',
		updated_at DATETIME,
		UNIQUE (user_id, season_id)
	)`,
	`CREATE TABLE checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		bank TEXT NOT NULL,
		number TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		month INTEGER NOT NULL
	)`,
	`CREATE TABLE card_payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id INTEGER NOT NULL,
		amount NUMERIC NOT NULL,
		transaction_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'accepted',
		reference TEXT NOT NULL DEFAULT '',
		created_at DATETIME
	)`,
}

var dbCounter int64

// Config is the configuration of the test runs.
func Config() *core.Config {
	return &core.Config{
		Env:             "TEST",
		TestMode:        true,
		AppName:         "KDance",
		SecretKey:       "test-secret-key",
		FrontendBaseURL: "http://localhost:3000",
		FromEmail:       "noreply@kdance.test",
		SuperuserEmail:  "admin@kdance.test",
		Server: core.ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: time.Hour,
		},
		Membership: core.MembershipConfig{
			SeasonRetention:  5,
			DefaultCapacity:  12,
			MembershipAmount: "10",
		},
	}
}

// Logger discards everything.
func Logger() core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), Config())
	logger.Enable(false)
	return logger
}

// Validator has every app validation registered.
func Validator() *validator.Validate {
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.RegisterValidators(validate, translator)
	return validate
}

// OpenDB opens a private in-memory sqlite database with the app schema, closed with the test.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := fmt.Sprintf("kdance_%d_%s", atomic.AddInt64(&dbCounter, 1), strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range sqliteSchema {
		if err = db.Exec(stmt).Error; err != nil {
			t.Fatalf("OpenDB() failed: %v", err)
		}
	}
	return db
}

func create(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Omit(clause.Associations).Create(value).Error; err != nil {
		t.Fatalf("creating %T failed: %v", value, err)
	}
}

func CreateUser(t *testing.T, db *gorm.DB, email string, roles ...string) user.User {
	t.Helper()
	usr := user.User{
		FirstName: "John",
		LastName:  "Doe",
		Email:     email,
		Roles:     append(pq.StringArray{}, roles...),
		IsActive:  true,
	}
	if err := usr.SetPassword("Pa$$w0rd!"); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	create(t, db, &usr)
	return usr
}

// CreateSeason creates a season with open signups, a 10 membership fee and license fees of 10, 20, 30 and 40.
func CreateSeason(t *testing.T, db *gorm.DB, year string, current bool) membership.Season {
	t.Helper()
	now := time.Now().UTC()
	season := membership.Season{
		Year:             year,
		IsCurrent:        current,
		PreSignupStart:   null.TimeFrom(now.AddDate(0, -2, 0)),
		PreSignupEnd:     null.TimeFrom(now.AddDate(0, -1, 0)),
		SignupStart:      null.TimeFrom(now.AddDate(0, -1, 0)),
		SignupEnd:        null.TimeFrom(now.AddDate(0, 1, 0)),
		MembershipAmount: decimal.NewFromInt(10),
		FFDAAmount:       decimal.NewFromInt(10),
		FFDBAmount:       decimal.NewFromInt(20),
		FFDCAmount:       decimal.NewFromInt(30),
		FFDDAmount:       decimal.NewFromInt(40),
	}
	create(t, db, &season)
	return season
}

func CreateTeacher(t *testing.T, db *gorm.DB, name string) membership.Teacher {
	t.Helper()
	teacher := membership.Teacher{Name: name}
	create(t, db, &teacher)
	return teacher
}

// CreateCourse creates a Monday 18h00-19h00 course.
func CreateCourse(t *testing.T, db *gorm.DB, season membership.Season, name string, capacity int, price int64) membership.Course {
	t.Helper()
	course := membership.Course{
		SeasonID:  season.ID,
		Name:      name,
		Price:     decimal.NewFromInt(price),
		Weekday:   0,
		StartHour: datatypes.NewTime(18, 0, 0, 0),
		EndHour:   datatypes.NewTime(19, 0, 0, 0),
		Capacity:  capacity,
	}
	create(t, db, &course)
	return course
}

func CreateMember(t *testing.T, db *gorm.DB, owner user.User, season membership.Season, firstName, lastName string) membership.Member {
	t.Helper()
	member := membership.Member{
		UserID:     owner.ID,
		SeasonID:   season.ID,
		FirstName:  firstName,
		LastName:   lastName,
		Birthday:   datatypes.Date(time.Date(2010, time.May, 1, 0, 0, 0, 0, time.UTC)),
		Address:    "1 rue de la Danse",
		PostalCode: "75001",
		City:       "Paris",
		Email:      strings.ToLower(firstName) + "@kdance.test",
		Phone:      "0601020304",
	}
	create(t, db, &member)
	return member
}

// Enroll puts `member` in `course` with `state`; waiting enrollments are queued at `queuedAt`.
func Enroll(t *testing.T, db *gorm.DB, member membership.Member, course membership.Course, state membership.EnrollmentState, queuedAt ...time.Time) membership.Enrollment {
	t.Helper()
	enr := membership.Enrollment{MemberID: member.ID, CourseID: course.ID, State: state}
	if len(queuedAt) > 0 {
		enr.QueuedAt = null.TimeFrom(queuedAt[0].UTC())
	}
	create(t, db, &enr)
	return enr
}

func CreatePayment(t *testing.T, db *gorm.DB, owner user.User, season membership.Season) membership.Payment {
	t.Helper()
	payment := membership.Payment{UserID: owner.ID, SeasonID: season.ID}
	create(t, db, &payment)
	return payment
}
