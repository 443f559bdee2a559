package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Mindburn-Labs/arbiter/pkg/config"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. Exit codes follow one convention across
// subcommands: 0 success, 1 rejected or invalid, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "pubkey":
		return runPubkeyCmd(args[2:], stdout, stderr)
	case "policy":
		return runPolicyCmd(args[2:], stdout, stderr)
	case "issue":
		return runIssueCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "accept":
		return runAcceptCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "arbiter: issue and verify signed escrow resolve tickets")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  arbiter <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "keygen", "Generate a new arbiter signing key (--json)")
	printCommand(w, "pubkey", "Print the configured arbiter public key")
	printCommand(w, "policy", "Validate and print a policy table (--file)")
	printCommand(w, "issue", "Issue a signed ticket for a dispute (--request, --out)")
	printCommand(w, "verify", "Verify a signed ticket (--ticket, --now, --pubkey, --json)")
	printCommand(w, "accept", "Verify, check expiry and redeem a ticket nonce (--ticket)")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Configuration is read from ARBITER_* environment variables and the")
	_, _ = fmt.Fprintln(w, "optional YAML file named by ARBITER_CONFIG.")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT. Logs
// always go to stderr so stdout stays machine-readable.
func newLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(stderr, opts)
	} else {
		h = slog.NewJSONHandler(stderr, opts)
	}
	logger := slog.New(h).With("service", "arbiter")
	slog.SetDefault(logger)
	return logger
}
