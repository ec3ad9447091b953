// Command modem sends and receives text over sound.
//
//	modem transmit -t "hello" -o hello.wav
//	modem transmit -t "hello" --play
//	modem receive hello.wav
//	modem receive --live
//	modem serve --addr :8080
//	modem devices
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/tonemodem/internal/config"
)

type command struct {
	name  string
	usage string
	run   func(args []string, stdout, stderr io.Writer) error
}

var commands = []command{
	{"transmit", "encode a payload to a WAV file or the speaker", runTransmit},
	{"receive", "decode messages from recordings or the microphone", runReceive},
	{"serve", "run the HTTP and WebSocket front end", runServe},
	{"devices", "list audio devices", runDevices},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	switch args[0] {
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	}

	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		err := cmd.run(args[1:], stdout, stderr)
		switch {
		case err == nil, errors.Is(err, pflag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "modem %s: %v\n", cmd.name, err)
			return 2
		default:
			fmt.Fprintf(stderr, "modem %s: %v\n", cmd.name, err)
			return 1
		}
	}

	fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
	printUsage(stderr)
	return 2
}

var errUsage = errors.New("usage")

func usageError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, a...))
}

// flagSet adds the flags every command shares.
type flagSet struct {
	*pflag.FlagSet
	configFile *string
	logLevel   *string
}

func newFlagSet(name string, stderr io.Writer) *flagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return &flagSet{
		FlagSet:    fs,
		configFile: fs.StringP("config", "c", "", "YAML configuration file"),
		logLevel:   fs.String("log-level", "", "Override log.level from the configuration"),
	}
}

// parse parses args, reporting bad flags as usage errors.
func (fs *flagSet) parse(args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return usageError("%v", err)
	}
	return nil
}

// load reads the configuration and builds the logger.
func (fs *flagSet) load(stderr io.Writer) (config.Config, *logrus.Logger, error) {
	cfg := config.Default()
	if *fs.configFile != "" {
		loaded, err := config.Load(*fs.configFile)
		if err != nil {
			return config.Config{}, nil, err
		}
		cfg = loaded
	}
	if *fs.logLevel != "" {
		cfg.Log.Level = *fs.logLevel
	}
	log, err := config.NewLogger(cfg.Log, stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: modem <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'modem <command> -h' for command flags.")
}
