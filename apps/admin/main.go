package main

import (
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/notification"
	"github.com/kdance/registration/core/user"
	emailsvc "github.com/kdance/registration/services/email"
	logsvc "github.com/kdance/registration/services/logger"
	"github.com/kdance/registration/storage/database"
	"github.com/kdance/registration/storage/database/gormrepos"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(!conf.Debug)

	cli := commandLine{conf: conf}

	// createdb runs before the app database exists
	if len(os.Args) > 1 && os.Args[1] != "createdb" {
		db, err := database.Open(conf, logger)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}()

		amount, err := decimal.NewFromString(conf.Membership.MembershipAmount)
		if err != nil {
			logger.Fatal(fmt.Sprintf("invalid membership amount %q", conf.Membership.MembershipAmount), err)
		}

		var mailSvc core.EmailService
		if conf.Debug {
			mailSvc = emailsvc.NewConsoleService(log.New(os.Stdout, "MAIL : ", log.LstdFlags), conf)
		} else {
			mailSvc = emailsvc.NewSendgridService(conf)
		}

		translator := core.NewTranslator()
		cli.validate = core.NewValidator(translator)
		user.RegisterValidators(cli.validate, translator)

		cli.db = db
		cli.usrSvc = user.NewService(gormrepos.NewUserRepository(db))
		cli.memberSvc = membership.NewService(gormrepos.NewStore(db), notification.NewGateway(mailSvc, logger), membership.ServiceOptions{
			Logger:           logger,
			Validate:         cli.validate,
			Operators:        conf.Operators(),
			SeasonRetention:  conf.Membership.SeasonRetention,
			DefaultCapacity:  conf.Membership.DefaultCapacity,
			MembershipAmount: amount,
		})
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		os.Exit(1)
	}
}
