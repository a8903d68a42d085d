package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf      *core.Config
	db        *gorm.DB
	validate  *validator.Validate
	usrSvc    *user.Service
	memberSvc *membership.Service
	out       io.Writer
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	w := cli.out
	if w == nil {
		w = os.Stdout
	}
	_, _ = fmt.Fprintf(w, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Usage:\n")
	cli.printf("  createdb - create the app database user and database if they do not exist\n")
	cli.printf("  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)\n")
	cli.printf("  adduser -email EMAIL [-first NAME] [-last NAME] [-admin] - create or update a user\n")
	cli.printf("  resetpassword -email EMAIL - reset user's password\n")
	cli.printf("  sweep - offer the free seats of the current season to the waiting lists\n")
	cli.printf("  copyseason -from YEAR -to YEAR - copy the courses of a season into another\n")
}

// promptPassword reads a password without echo. An empty password prints the usage of `cmd`.
func (cli *commandLine) promptPassword(cmd *flag.FlagSet) (string, error) {
	cli.printf("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	cli.printf("\n")
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		cmd.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserFirst := addUserCmd.String("first", "Admin", "The user's first name.")
	addUserLast := addUserCmd.String("last", "KDance", "The user's last name.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant every role to the user.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	copySeasonCmd := flag.NewFlagSet("copyseason", flag.ContinueOnError)
	copySeasonFrom := copySeasonCmd.String("from", "", "The year of the season to copy, e.g. 2023-2024.")
	copySeasonTo := copySeasonCmd.String("to", "", "The year of the season receiving the courses.")

	switch args[1] {
	case "createdb":
		return cli.createDB()

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addUserCmd)
		if err != nil {
			return err
		}
		return cli.addUser(*addUserEmail, *addUserFirst, *addUserLast, pwd, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	case "sweep":
		return cli.sweep()

	case "copyseason":
		if err := copySeasonCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *copySeasonFrom == "" || *copySeasonTo == "" {
			copySeasonCmd.Usage()
			return errHelp
		}
		return cli.copySeason(*copySeasonFrom, *copySeasonTo)

	default:
		cli.printUsage()
		return errHelp
	}
}
