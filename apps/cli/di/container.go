package dig_container

import (
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
	"github.com/unihub/unihub/services/api"
	"github.com/unihub/unihub/services/callback"
	logsvc "github.com/unihub/unihub/services/logger"
	"github.com/unihub/unihub/services/realtime"
	"github.com/unihub/unihub/storage/tokenstore"
)

type (
	Options struct {
		Config    *core.Config
		Ephemeral bool // keep the token in memory only
		Quiet     bool // no request logs from the callback server
	}

	SessionParams struct {
		dig.In
		Auth       *api.Client
		Tokens     tokenstore.Store
		Realtime   *realtime.Manager
		Validate   *validator.Validate
		Translator ut.Translator
		Logger     core.Logger
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stderr, "UNIHUB : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newTokenStore(opts Options) (tokenstore.Store, error) {
	if opts.Ephemeral {
		return tokenstore.NewMemStore(), nil
	}
	return tokenstore.NewFileStore(opts.Config.StateDir)
}

func newAPIClient(conf *core.Config, tokens tokenstore.Store, logger core.Logger) *api.Client {
	return api.NewClient(conf, tokens, logger)
}

func newManager(conf *core.Config, tokens tokenstore.Store, logger core.Logger) *realtime.Manager {
	return realtime.NewManager(realtime.OptionsFromConfig(conf), tokens, logger)
}

func newSessionStore(p SessionParams) *session.Store {
	return session.NewStore(session.Deps{
		Auth:       p.Auth,
		Tokens:     p.Tokens,
		Realtime:   p.Realtime,
		Validate:   p.Validate,
		Translator: p.Translator,
		Logger:     p.Logger,
	})
}

func newWatcher(conf *core.Config, store *session.Store, mgr *realtime.Manager, tokens tokenstore.Store, logger core.Logger) *realtime.Watcher {
	return realtime.NewWatcher(store, mgr, tokens, logger, realtime.WatcherOptions{PulseDuration: conf.PulseDuration})
}

func newCallbackServer(opts Options, store *session.Store, logger core.Logger) *callback.Server {
	return callback.NewServer(&callback.Options{
		Address:        opts.Config.CallbackAddr,
		DisableReqLogs: opts.Quiet || !opts.Config.Debug,
		Debug:          opts.Config.Debug,
		Redirector:     store,
		Logger:         logger,
	})
}

// New returns a new dependency injection dig.Container
func New(opts Options) *dig.Container {
	c := dig.New()

	must(c.Provide(func() Options { return opts }))
	must(c.Provide(func() *core.Config { return opts.Config }))
	must(c.Provide(newLogger))
	must(c.Provide(newTokenStore))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newAPIClient))
	must(c.Provide(newManager))
	must(c.Provide(newSessionStore))
	must(c.Provide(newWatcher))
	must(c.Provide(newCallbackServer))

	// validation messages must be registered before the first request
	must(c.Invoke(func(validate *validator.Validate, translator ut.Translator) {
		core.InitValidators(validate, translator)
		session.InitValidators(validate, translator)
	}))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
