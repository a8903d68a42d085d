package main

import (
	"context"

	"github.com/kdance/registration/core"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	return cli.usrSvc.ResetPassword(context.Background(), core.CleanString(email, true /* lower */), pwd)
}
