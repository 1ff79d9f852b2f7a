// Command daoforge assembles governed organizations from the app catalog in
// two phases, prepare and finalize, over a persistent ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"daoforge/internal/config"
)

var exitFunc = os.Exit

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"asset":        {"register an external asset", runAsset},
	"account":      {"register an external account", runAccount},
	"prepare":      {"prepare an organization for a principal", runPrepare},
	"finalize":     {"finalize the principal's prepared organization", runFinalize},
	"create":       {"prepare and finalize in one call", runCreate},
	"new-token":    {"deploy a token for new-instance", runNewToken},
	"new-instance": {"build a single-phase organization around the cached token", runNewInstance},
	"inspect":      {"show an organization's components and permissions", runInspect},
	"resolve":      {"resolve a registered name", runResolve},
	"pending":      {"show a principal's cached instance and token", runPending},
	"orphans":      {"list superseded prepared organizations", runOrphans},
	"receipts":     {"list a principal's archived receipts", runReceipts},
}

// usageError marks bad invocations; they exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("daoforge", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	configPath := fs.StringP("config", "c", os.Getenv("DAOFORGE_CONFIG"), "path to a TOML config file")
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr, fs)
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		printUsage(stderr, fs)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	runErr := cmd.run(ctx, a, rest[1:], stdout)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		var help helpRequest
		if errors.As(runErr, &help) {
			fmt.Fprint(stderr, help.usage)
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", runErr)
		var usage usageError
		if errors.As(runErr, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: daoforge [--config file] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-13s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "global flags:")
	fmt.Fprint(w, fs.FlagUsages())
}
