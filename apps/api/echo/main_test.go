package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	echoapi "github.com/kdance/registration/apps/api/echo"
	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/notification"
	"github.com/kdance/registration/core/user"
	"github.com/kdance/registration/services/email"
	"github.com/kdance/registration/storage/database/gormrepos"
	testutil "github.com/kdance/registration/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type testApp struct {
	conf    *core.Config
	db      *gorm.DB
	store   *gormrepos.Store
	mailSvc *emailsvc.ConsoleServiceMock
	srv     *echoapi.Server
}

func setup(t *testing.T) *testApp {
	conf := testutil.Config()
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.RegisterValidators(validate, translator)
	logger := testutil.Logger()

	// set up DB & repos
	db := testutil.OpenDB(t)
	store := gormrepos.NewStore(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewService(gormrepos.NewUserRepository(db))
	memberSvc := membership.NewService(store, notification.NewGateway(mailSvc, logger), membership.ServiceOptions{
		Logger:           logger,
		Validate:         validate,
		Operators:        conf.Operators(),
		SeasonRetention:  conf.Membership.SeasonRetention,
		DefaultCapacity:  conf.Membership.DefaultCapacity,
		MembershipAmount: decimal.RequireFromString(conf.Membership.MembershipAmount),
	})

	// set up server
	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		UserSvc:       usrSvc,
		MembershipSvc: memberSvc,
		Validate:      validate,
		Translator:    translator,
	})
	return &testApp{conf: conf, db: db, store: store, mailSvc: mailSvc, srv: srv}
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(app.conf, echoapi.GetUserClaims(app.conf, usr))
	require.NoError(t, err, "GenerateToken()")
	return token
}

func (app *testApp) ctx() context.Context { return context.Background() }

// do serves one request and returns the recorded response.
func (app *testApp) do(method, path, token string, body ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, body...)
	app.srv.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) run(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(tt.method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "decoding %s", rec.Body.String())
}

// checkCodeAndData checks the status code, and the body when wantData is set.
func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "body: %s", rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}

// fieldsOf returns the invalid fields of a 400 response.
func fieldsOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decode(t, rec, &body)
	return body.Fields
}
