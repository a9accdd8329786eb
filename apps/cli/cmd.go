package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
	"github.com/unihub/unihub/services/api"
	"github.com/unihub/unihub/services/callback"
	"github.com/unihub/unihub/services/realtime"
	"github.com/unihub/unihub/storage/tokenstore"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp           = errors.New("help provided")
	errNotSignedIn    = errors.New("not signed in, run `unihub login` first")
	errSessionExpired = errors.New("your session has expired, please sign in again")
	errPwdMismatch    = errors.New("passwords do not match")
)

type commandLine struct {
	conf       *core.Config
	logger     core.Logger
	tokens     tokenstore.Store
	client     *api.Client
	manager    *realtime.Manager
	store      *session.Store
	watcher    *realtime.Watcher
	callback   *callback.Server
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
	clipboard  func(string) error
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

func (cli *commandLine) commands() []command {
	return []command{
		{"login", "login -email EMAIL - sign in, the password is prompted", cli.login},
		{"logout", "logout - sign out and forget the token", cli.logout},
		{"register", "register -name NAME -email EMAIL -role ROLE [-university ID] - create an account", cli.register},
		{"whoami", "whoami - show the signed in user", cli.whoami},
		{"sso", "sso [-provider google] [-timeout 5m] - sign in through an identity provider", cli.sso},
		{"complete", "complete -url URL - finish a federated sign-in from the redirect URL", cli.complete},
		{"forgot-password", "forgot-password -email EMAIL - request a password reset link", cli.forgotPassword},
		{"reset-password", "reset-password -token TOKEN - choose a new password", cli.resetPassword},
		{"verify-email", "verify-email -token TOKEN - verify the email address of a new account", cli.verifyEmail},
		{"resend-verification", "resend-verification -email EMAIL - send the verification email again", cli.resendVerification},
		{"profile", "profile [-name NAME] [-email EMAIL] [-university ID] [-change-password] - show or edit the profile", cli.profile},
		{"leaderboard", "leaderboard [-scope GLOBAL|UNIVERSITY] [-type MEMBERS|EVENTS] [-limit N] - show the rankings", cli.leaderboard},
		{"badges", "badges - show the earned badges", cli.badges},
		{"notifications", "notifications [-unread] [-type TYPE] [-read ID] [-read-all] - list or acknowledge notifications", cli.notifications},
		{"prefs", "prefs [-notifications on|off] - show or change the badge popup preference", cli.prefs},
		{"watch", "watch [-duration D] - follow badge, leaderboard and dashboard updates", cli.watch},
		{"events", "events [-status S] [-type T] [-university ID] [-mine] [-joined] - list events", cli.events},
		{"event", "event -id ID - show an event and its participants", cli.event},
		{"join", "join -id ID [-role ATTENDEE] [-request] - take part in an event", cli.join},
		{"leave", "leave -id ID - leave an event, the points earned are deducted twice", cli.leave},
		{"new-event", "new-event -title T -description D -location L -type T -start DATE -end DATE [-role R] - submit an event", cli.newEvent},
		{"blogs", "blogs [-category C] [-status S] [-mine] [-pending] - list blog posts", cli.blogs},
		{"blog", "blog -id ID - read a blog post", cli.blog},
		{"new-blog", "new-blog -title T -content C [-category ARTICLE] [-global] - submit a blog post", cli.newBlog},
		{"report", "report -event ID|-blog ID -reason R - report content to the supervisors", cli.report},
		{"approve", "approve -event ID|-blog ID - approve pending content (supervisors)", cli.moderate(true)},
		{"reject", "reject -event ID|-blog ID [-reason R] - reject pending content (supervisors)", cli.moderate(false)},
	}
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage: unihub [-ephemeral] [-quiet] COMMAND [FLAGS]")
	fmt.Fprintln(cli.out, "Commands:")
	for _, cmd := range cli.commands() {
		fmt.Fprintln(cli.out, "  "+cmd.usage)
	}
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	for _, cmd := range cli.commands() {
		if cmd.name == args[1] {
			return cli.handle(cmd.run(ctx, args[2:]))
		}
	}
	cli.printUsage()
	return errHelp
}

// handle turns the errors the presentation layer has to react to into CLI errors.
func (cli *commandLine) handle(err error) error {
	if err == nil || err == errHelp {
		return err
	}
	if dest := cli.store.HandleError(err); dest.Error == "session_expired" {
		return errSessionExpired
	}
	if apiErr, ok := api.AsError(err); ok {
		if apiErr.IsUnverified() {
			return fmt.Errorf("%s (run `unihub resend-verification` for a new link)", apiErr.Message)
		}
		return apiErr
	}
	if core.IsValidation(err) {
		return fmt.Errorf("invalid input: %w", err)
	}
	return err
}

func (cli *commandLine) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// parse parses args into fs; -h yields errHelp.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return errHelp
		}
		return err
	}
	return nil
}

// requireSession runs the startup session check and fails without a Session.
func (cli *commandLine) requireSession(ctx context.Context) (*session.User, error) {
	usr, err := cli.store.Init(ctx)
	if err != nil {
		if err == session.ErrNoSession {
			return nil, errNotSignedIn
		}
		return nil, err
	}
	return usr, nil
}

func (cli *commandLine) readPassword(prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// readNewPassword prompts twice.
func (cli *commandLine) readNewPassword(fs *flag.FlagSet) (string, string, error) {
	pwd, err := cli.readPassword("Enter new password:")
	if err != nil {
		return "", "", err
	}
	if pwd == "" {
		fs.Usage()
		return "", "", errHelp
	}
	confirm, err := cli.readPassword("Confirm password:")
	if err != nil {
		return "", "", err
	}
	if confirm != pwd {
		return "", "", errPwdMismatch
	}
	return pwd, confirm, nil
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	fmt.Fprintf(cli.out, format, args...)
}

func displayRole(role string) string {
	for _, r := range session.Roles {
		if r.Value == role {
			return r.Name
		}
	}
	return role
}
