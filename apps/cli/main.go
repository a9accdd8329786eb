package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"go.uber.org/dig"

	dig_container "github.com/unihub/unihub/apps/cli/di"
	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
	"github.com/unihub/unihub/services/api"
	"github.com/unihub/unihub/services/callback"
	logsvc "github.com/unihub/unihub/services/logger"
	"github.com/unihub/unihub/services/realtime"
	"github.com/unihub/unihub/storage/tokenstore"
)

func main() {
	args, opts := parseGlobalFlags(os.Args)
	opts.Config = core.NewConfig()

	cli, err := newCommandLine(dig_container.New(opts))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cli.run(ctx, args)
	stop()
	cli.close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

// parseGlobalFlags strips the flags placed before the command name.
func parseGlobalFlags(args []string) ([]string, dig_container.Options) {
	var opts dig_container.Options
	out := []string{args[0]}
	i := 1
	for ; i < len(args); i++ {
		switch args[i] {
		case "-ephemeral", "--ephemeral":
			opts.Ephemeral = true
		case "-quiet", "--quiet":
			opts.Quiet = true
		default:
			return append(out, args[i:]...), opts
		}
	}
	return out, opts
}

func newCommandLine(c *dig.Container) (*commandLine, error) {
	var cli *commandLine
	err := c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		tokens tokenstore.Store,
		client *api.Client,
		manager *realtime.Manager,
		store *session.Store,
		watcher *realtime.Watcher,
		callbackSrv *callback.Server,
		validate *validator.Validate,
		translator ut.Translator,
	) {
		cli = &commandLine{
			conf:       conf,
			logger:     logger,
			tokens:     tokens,
			client:     client,
			manager:    manager,
			store:      store,
			watcher:    watcher,
			callback:   callbackSrv,
			validate:   validate,
			translator: translator,
			out:        os.Stdout,
			clipboard:  clipboard.WriteAll,
		}
	})
	return cli, err
}

func (cli *commandLine) close() {
	cli.manager.Disconnect()
	if l, ok := cli.logger.(*logsvc.RollbarLogger); ok {
		l.Close()
	}
}
