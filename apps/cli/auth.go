package main

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/unihub/unihub/core/session"
)

var (
	errSSOTimeout   = errors.New("timed out waiting for the browser to come back")
	errNoSSOToken   = errors.New("no sign-in token was received")
	errBadSSOToken  = errors.New("the sign-in token was rejected by the server")
	errInvalidReset = errors.New("the reset link is invalid or has expired")
)

func (cli *commandLine) login(ctx context.Context, args []string) error {
	fs := cli.flagSet("login")
	email := fs.String("email", "", "The account's email. The password will be prompted next.")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" {
		fs.Usage()
		return errHelp
	}

	pwd, err := cli.readPassword("Enter password:")
	if err != nil {
		return err
	}
	if pwd == "" {
		fs.Usage()
		return errHelp
	}

	usr, err := cli.store.Login(ctx, *email, pwd)
	if err != nil {
		return err
	}
	cli.printf("Signed in as %s <%s> (%s)\n", usr.Name, usr.Email, displayRole(usr.Role))
	return nil
}

func (cli *commandLine) logout(ctx context.Context, args []string) error {
	fs := cli.flagSet("logout")
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := cli.store.Logout(ctx); err != nil {
		return err
	}
	cli.printf("Signed out.\n")
	return nil
}

func (cli *commandLine) register(ctx context.Context, args []string) error {
	fs := cli.flagSet("register")
	name := fs.String("name", "", "Full name")
	email := fs.String("email", "", "Email address, a verification link is sent to it")
	role := fs.String("role", session.RoleStudent, "STUDENT, SUPERVISOR or ADMIN")
	uniID := fs.Int64("university", 0, "University ID (required for students and supervisors)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *name == "" || *email == "" {
		fs.Usage()
		return errHelp
	}

	pwd, confirm, err := cli.readNewPassword(fs)
	if err != nil {
		return err
	}
	req := session.RegisterRequest{
		Name:            *name,
		Email:           *email,
		Password:        pwd,
		PasswordConfirm: confirm,
		Role:            *role,
	}
	if *uniID > 0 {
		req.UniversityID = uniID
	}

	res, err := cli.store.Register(ctx, req)
	if err != nil {
		return err
	}
	cli.printf("Account created for %s.\n", res.User.Name)
	if res.VerificationRequired {
		cli.printf("Open the link sent to %s to verify it, then run `unihub login`.\n", res.User.Email)
	}
	return nil
}

func (cli *commandLine) whoami(ctx context.Context, args []string) error {
	fs := cli.flagSet("whoami")
	if err := parse(fs, args); err != nil {
		return err
	}
	usr, err := cli.requireSession(ctx)
	if err != nil {
		return err
	}

	cli.printf("%s <%s>\n", usr.Name, usr.Email)
	cli.printf("  role:       %s\n", displayRole(usr.Role))
	if usr.UniversityName != "" {
		cli.printf("  university: %s\n", usr.UniversityName)
	}
	cli.printf("  points:     %d\n", usr.Points)
	if usr.CurrentBadgeName != "" {
		cli.printf("  badge:      %s\n", usr.CurrentBadgeName)
	}
	if exp, ok := session.TokenExpiry(cli.tokens.Token()); ok {
		cli.printf("  expires:    %s\n", exp.Local().Format(time.RFC1123))
	}
	return nil
}

func (cli *commandLine) sso(ctx context.Context, args []string) error {
	fs := cli.flagSet("sso")
	provider := fs.String("provider", "google", "Identity provider")
	timeout := fs.Duration("timeout", 5*time.Minute, "How long to wait for the browser")
	noClip := fs.Bool("no-clipboard", false, "Do not copy the sign-in URL to the clipboard")
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := cli.callback.Listen(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cli.callback.Stop(stopCtx); err != nil {
			cli.logger.Warn("stopping callback server", err)
		}
	}()

	authURL := cli.client.OAuthURL(*provider, cli.callback.RedirectURL())
	cli.printf("Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
	if !*noClip && cli.clipboard != nil {
		if err := cli.clipboard(authURL); err != nil {
			cli.logger.Debug("copying sign-in URL", err)
		} else {
			cli.printf("(copied to the clipboard)\n")
		}
	}
	cli.callback.Start()

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	dest, err := cli.callback.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errSSOTimeout
		}
		return err
	}
	return cli.arrive(dest)
}

// complete finishes a federated login when the browser could not reach the
// callback server, from the URL it landed on.
func (cli *commandLine) complete(ctx context.Context, args []string) error {
	fs := cli.flagSet("complete")
	rawURL := fs.String("url", "", "The URL the browser was redirected to")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *rawURL == "" {
		fs.Usage()
		return errHelp
	}
	landing, err := url.Parse(*rawURL)
	if err != nil {
		return err
	}

	dest, err := cli.store.Boot(ctx, landing)
	if err != nil {
		return err
	}
	if dest.View == session.NavNone {
		if !cli.store.IsAuthenticated() {
			return errNotSignedIn
		}
		dest.View = session.NavDashboard
	}
	return cli.arrive(dest)
}

// arrive reports where a federated login ended.
func (cli *commandLine) arrive(dest session.Destination) error {
	switch {
	case dest.View == session.NavDashboard:
		if usr := cli.store.User(); usr != nil {
			cli.printf("Signed in as %s <%s> (%s)\n", usr.Name, usr.Email, displayRole(usr.Role))
		}
		return nil
	case dest.Error == "oauth2_failed":
		if dest.Message != "" {
			return errors.New("sign-in failed: " + dest.Message)
		}
		return errors.New("sign-in failed")
	case dest.Error == "session_invalid":
		return errBadSSOToken
	default:
		return errNoSSOToken
	}
}

func (cli *commandLine) forgotPassword(ctx context.Context, args []string) error {
	fs := cli.flagSet("forgot-password")
	email := fs.String("email", "", "The account's email")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" {
		fs.Usage()
		return errHelp
	}

	req := session.ForgotPasswordRequest{Email: *email}
	if err := req.Validate(cli.validate, cli.translator); err != nil {
		return err
	}
	msg, err := cli.client.ForgotPassword(ctx, req)
	if err != nil {
		return err
	}
	cli.printf("%s\n", msg)
	return nil
}

func (cli *commandLine) resetPassword(ctx context.Context, args []string) error {
	fs := cli.flagSet("reset-password")
	token := fs.String("token", "", "The token of the reset link. The new password will be prompted next.")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *token == "" {
		fs.Usage()
		return errHelp
	}

	valid, err := cli.client.ValidateResetToken(ctx, *token)
	if err != nil {
		return err
	}
	if !valid {
		return errInvalidReset
	}

	pwd, confirm, err := cli.readNewPassword(fs)
	if err != nil {
		return err
	}
	req := session.ResetPasswordRequest{Token: *token, NewPassword: pwd, PasswordConfirm: confirm}
	if err := req.Validate(cli.validate, cli.translator); err != nil {
		return err
	}
	msg, err := cli.client.ResetPassword(ctx, req)
	if err != nil {
		return err
	}
	cli.printf("%s\n", msg)
	return nil
}

func (cli *commandLine) verifyEmail(ctx context.Context, args []string) error {
	fs := cli.flagSet("verify-email")
	token := fs.String("token", "", "The token of the verification link")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *token == "" {
		fs.Usage()
		return errHelp
	}

	msg, err := cli.client.VerifyEmail(ctx, *token)
	if err != nil {
		return err
	}
	cli.printf("%s\n", msg)
	return nil
}

func (cli *commandLine) resendVerification(ctx context.Context, args []string) error {
	fs := cli.flagSet("resend-verification")
	email := fs.String("email", "", "The account's email")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" {
		fs.Usage()
		return errHelp
	}

	req := session.ResendVerificationRequest{Email: *email}
	if err := req.Validate(cli.validate, cli.translator); err != nil {
		return err
	}
	msg, err := cli.client.ResendVerification(ctx, req)
	if err != nil {
		return err
	}
	cli.printf("%s\n", msg)
	return nil
}
