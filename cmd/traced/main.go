// traced is the collector daemon: it accepts trace streams from
// instrumented processes over TCP and persists the entries into a
// trace database for later review.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffval"
	"go.uber.org/zap"

	"github.com/froglogic/tracer/server"
)

func main() {
	err := exec(os.Args[1:])
	switch {
	case err == nil, errors.Is(err, ff.ErrHelp):
	case errors.As(err, &(run.SignalError{})):
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(args []string) error {
	var flags struct {
		settingsPath string
		port         int
		database     string
		verbose      bool
	}

	fs := ff.NewFlagSet("traced")
	fs.AddFlag(ff.FlagConfig{ShortName: 'c', LongName: "config", Value: ffval.NewValue(&flags.settingsPath), Usage: "daemon settings file (YAML)", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'p', LongName: "port", Value: ffval.NewValue(&flags.port), Usage: "TCP port to listen on (default 12382)", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 'o', LongName: "database", Value: ffval.NewValue(&flags.database), Usage: "trace database file", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'v', LongName: "verbose", Value: ffval.NewValue(&flags.verbose), Usage: "verbose logging", NoDefault: true})

	if err := ff.Parse(fs, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		return err
	}

	settings := &server.Settings{}
	if flags.settingsPath != "" {
		loaded, err := server.LoadSettings(flags.settingsPath)
		if err != nil {
			return err
		}
		settings = loaded
	}
	if flags.port != 0 {
		settings.Port = flags.port
	}
	if flags.database != "" {
		settings.DatabasePath = flags.database
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		return err
	}

	logger, err := newLogger(flags.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := server.OpenDatabase(settings.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := server.NewServer(logger, server.NewDatabaseFeeder(db), settings.Port,
		time.Duration(settings.ShutdownGraceSeconds)*time.Second)
	if err := srv.Start(); err != nil {
		// Failing to bind the listener port is fatal; once the
		// listener runs, entry-level errors are only logged.
		return err
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			<-ctx.Done()
			return ctx.Err()
		}, func(error) {
			srv.Shutdown()
			cancel()
		})
	}
	{
		g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))
	}

	return g.Run()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
