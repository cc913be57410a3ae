// Package main provides guildctl, an operator CLI for the guild engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gymguild/internal/app"
	"github.com/cory-johannsen/gymguild/internal/config"
	"github.com/cory-johannsen/gymguild/internal/guild"
	"github.com/cory-johannsen/gymguild/internal/observability"
)

// env is what a command runs against.
type env struct {
	svc    *guild.Service
	out    io.Writer
	logger *zap.Logger
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var errUsage = errors.New("usage")

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	level := flag.String("log-level", "warn", "log level for diagnostics on stderr")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	logger, err := observability.NewCLILogger(*level)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("opening guild service: %v", err)
	}
	defer a.Close()

	e := &env{svc: a.Service, out: os.Stdout, logger: logger}
	if err := dispatch(ctx, e, flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		a.Close()
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
	logger.Debug("done", zap.String("command", flag.Arg(0)), zap.Duration("elapsed", time.Since(start)))
}

// dispatch runs the command named by args[0] with the remaining arguments.
func dispatch(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return cmd.run(ctx, e, args[1:])
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: guildctl [-config path] <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(os.Stderr, "\nglobal flags:")
	flag.PrintDefaults()
}

// newFlagSet returns a flag set that reports parse errors instead of exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func required(fs *flag.FlagSet, names ...string) error {
	var missing []string
	for _, n := range names {
		f := fs.Lookup(n)
		if f == nil || f.Value.String() == "" {
			missing = append(missing, "-"+n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing %s", fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}
