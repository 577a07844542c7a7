// swiftctl manipulates objects in a Swift container from the command line.
//
// Credentials come from the configuration file (--config) and SWIFTFS_*
// environment variables; flags override both.
//
//	swiftctl --container media ls photos/
//	swiftctl --container media put photos/cat.jpg ./cat.jpg
//	swiftctl cat swift://media/notes.txt
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/swiftfs/swiftfs/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configFile  string
	container   string
	logLevel    string
	metricsAddr string
	limit       int
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("swiftctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configFile, "config", "c", "", "path to a YAML configuration file")
	flagSet.StringVar(&opts.container, "container", "", "container for object commands (overrides storage.container)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flagSet.IntVar(&opts.limit, "limit", 0, "maximum number of names listed by ls (0 lists everything)")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.SetInterspersed(false)

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(stderr, flagSet)
		return nil
	}

	command, ok := commands[flagSet.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q", flagSet.Arg(0))
	}
	cmdArgs := flagSet.Args()[1:]
	if len(cmdArgs) < command.minArgs || len(cmdArgs) > command.maxArgs {
		return fmt.Errorf("usage: swiftctl %s", command.usage)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg, opts, stdout, stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	return command.run(ctx, app, cmdArgs)
}

func loadConfig(opts options) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if opts.container != "" {
		cfg.Storage.Container = opts.container
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = opts.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `swiftctl: work with objects in a Swift container.

Usage:
  swiftctl [flags] <command> [args]

Commands:
`)
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-40s %s\n", commands[name].usage, commands[name].help)
	}
	fmt.Fprintf(w, "\nPaths take the form swift://container/object; a bare object name\nis resolved in --container.\n\nFlags:\n")
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
