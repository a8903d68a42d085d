package dig_container

import (
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/dig"
	"gorm.io/gorm"

	echoapi "github.com/kdance/registration/apps/api/echo"
	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/notification"
	"github.com/kdance/registration/core/user"
	emailsvc "github.com/kdance/registration/services/email"
	logsvc "github.com/kdance/registration/services/logger"
	"github.com/kdance/registration/storage/database"
	"github.com/kdance/registration/storage/database/gormrepos"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// ServerParams are the dependencies of the API server.
type ServerParams struct {
	dig.In
	Conf          *core.Config
	Logger        core.Logger
	UserSvc       *user.Service
	MembershipSvc *membership.Service
	Validate      *validator.Validate
	Translator    ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *gorm.DB {
	setUp := func() (*gorm.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		if err := database.MigrateConf(conf); err != nil {
			return nil, err
		}
		return database.Open(conf, loggerParam.Logger)
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(log.New(os.Stdout, "MAIL : ", log.LstdFlags), conf)
	}
	return emailsvc.NewSendgridService(conf)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := core.NewValidator(translator)
	user.RegisterValidators(validate, translator)
	return validate
}

func newUserService(db *gorm.DB) *user.Service {
	return user.NewService(gormrepos.NewUserRepository(db))
}

func newMembershipService(
	conf *core.Config,
	logger core.Logger,
	db *gorm.DB,
	gateway *notification.Gateway,
	validate *validator.Validate,
) *membership.Service {
	amount, err := decimal.NewFromString(conf.Membership.MembershipAmount)
	if err != nil {
		logger.Fatal(fmt.Sprintf("invalid membership amount %q", conf.Membership.MembershipAmount), err)
	}
	return membership.NewService(gormrepos.NewStore(db), gateway, membership.ServiceOptions{
		Logger:           logger,
		Validate:         validate,
		Operators:        conf.Operators(),
		SeasonRetention:  conf.Membership.SeasonRetention,
		DefaultCapacity:  conf.Membership.DefaultCapacity,
		MembershipAmount: amount,
	})
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		UserSvc:       p.UserSvc,
		MembershipSvc: p.MembershipSvc,
		Validate:      p.Validate,
		Translator:    p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(notification.NewGateway))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newUserService))
	must(c.Provide(newMembershipService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
