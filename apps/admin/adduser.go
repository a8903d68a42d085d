package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/user"
)

// addUser creates the user, or updates the password, roles and status of an existing one.
func (cli *commandLine) addUser(email, firstName, lastName, pwd string, isAdmin bool) error {
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)

	var roles []string
	if isAdmin {
		roles = user.AllRoles
	}

	usr, err := cli.usrSvc.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, user.ErrNotFound):
		nu := user.NewUser{
			FirstName:       firstName,
			LastName:        lastName,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
			Roles:           roles,
		}
		if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
			return err
		}
		if usr, err = cli.usrSvc.Create(ctx, nu); err != nil {
			return err
		}
		if err = cli.memberSvc.EnsureCurrentPayment(ctx, usr.ID); err != nil {
			return err
		}
		cli.printf("user %s created\n", usr.Email)
		return nil
	case err != nil:
		return err
	}

	active := true
	uu := user.UpdateUser{IsActive: &active, Password: pwd, PasswordConfirm: pwd}
	if isAdmin {
		uu.Roles = roles
	}
	if err = uu.Validate(ctx, usr, cli.validate, cli.usrSvc); err != nil {
		return err
	}
	if usr, err = cli.usrSvc.Update(ctx, usr, uu); err != nil {
		return err
	}
	cli.printf("user %s updated\n", usr.Email)
	return nil
}
