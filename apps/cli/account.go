package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/unihub/unihub/core/session"
	"github.com/unihub/unihub/services/api"
)

func (cli *commandLine) profile(ctx context.Context, args []string) error {
	fs := cli.flagSet("profile")
	name := fs.String("name", "", "New full name")
	email := fs.String("email", "", "New email address")
	uniID := fs.Int64("university", 0, "New university ID")
	changePwd := fs.Bool("change-password", false, "Change the password, both passwords are prompted")
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *changePwd {
		if err := cli.changePassword(ctx, fs); err != nil {
			return err
		}
	}

	if !set["name"] && !set["email"] && !set["university"] {
		if *changePwd {
			return nil
		}
		usr, err := cli.client.Me(ctx)
		if err != nil {
			return err
		}
		cli.printProfile(usr)
		return nil
	}

	upd := api.ProfileUpdate{Name: strings.TrimSpace(*name), Email: strings.TrimSpace(*email)}
	if set["university"] {
		upd.UniversityID = uniID
	}
	updated, err := cli.client.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}
	if _, err := cli.store.UpdateUser(session.PatchFrom(updated)); err != nil {
		return err
	}
	cli.printf("Profile updated.\n")
	cli.printProfile(updated)
	return nil
}

func (cli *commandLine) changePassword(ctx context.Context, fs *flag.FlagSet) error {
	old, err := cli.readPassword("Enter current password:")
	if err != nil {
		return err
	}
	if old == "" {
		fs.Usage()
		return errHelp
	}
	pwd, confirm, err := cli.readNewPassword(fs)
	if err != nil {
		return err
	}

	req := session.ChangePasswordRequest{OldPassword: old, NewPassword: pwd, PasswordConfirm: confirm}
	if err := req.Validate(cli.validate, cli.translator); err != nil {
		return err
	}
	msg, err := cli.client.ChangePassword(ctx, req)
	if err != nil {
		return err
	}
	cli.printf("%s\n", msg)
	return nil
}

func (cli *commandLine) printProfile(usr session.User) {
	cli.printf("ID:         %d\n", usr.ID)
	cli.printf("Name:       %s\n", usr.Name)
	cli.printf("Email:      %s\n", usr.Email)
	cli.printf("Role:       %s\n", displayRole(usr.Role))
	if usr.UniversityID != nil {
		uni := usr.UniversityName
		if uni == "" {
			uni = fmt.Sprintf("#%d", *usr.UniversityID)
		}
		cli.printf("University: %s\n", uni)
	}
	cli.printf("Points:     %d\n", usr.Points)
}

// prefs needs no session, the preference lives on this device only.
func (cli *commandLine) prefs(_ context.Context, args []string) error {
	fs := cli.flagSet("prefs")
	popups := fs.String("notifications", "", "Show badge popups: on or off")
	if err := parse(fs, args); err != nil {
		return err
	}

	switch strings.ToLower(*popups) {
	case "":
	case "on", "true", "yes":
		if err := cli.tokens.SetNotificationsEnabled(true); err != nil {
			return err
		}
	case "off", "false", "no":
		if err := cli.tokens.SetNotificationsEnabled(false); err != nil {
			return err
		}
	default:
		return fmt.Errorf("-notifications must be on or off (got %q)", *popups)
	}

	state := "off"
	if cli.tokens.NotificationsEnabled() {
		state = "on"
	}
	cli.printf("Badge popups: %s\n", state)
	return nil
}
