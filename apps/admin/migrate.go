package main

import (
	"database/sql"

	"github.com/pkg/errors"
	"github.com/trezcool/goose"

	appfs "github.com/kdance/registration/fs"
	"github.com/kdance/registration/storage/database"
)

var (
	// mockable
	gooseRunFunc = func(command string, db *sql.DB, args ...string) error {
		return goose.RunFS(command, db, appfs.FS, "migrations", args...)
	}
	createDBFunc = database.CreateIfNotExist
)

func (cli *commandLine) migrate(args []string) error {
	sqlDB, err := cli.db.DB()
	if err != nil {
		return errors.Wrap(err, "getting database handle")
	}
	return gooseRunFunc(args[0], sqlDB, args[1:]...)
}

func (cli *commandLine) createDB() error {
	if err := createDBFunc(cli.conf); err != nil {
		return err
	}
	cli.printf("database %q is ready\n", cli.conf.Database.Name)
	return nil
}
