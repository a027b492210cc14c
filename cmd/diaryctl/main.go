// diaryctl is the command line client for nostrdiary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Config holds the I/O streams of one invocation.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns a Config on the process streams.
func DefaultConfig() *Config {
	return &Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// exitFunc is replaced in tests.
var exitFunc = os.Exit

func main() {
	if err := run(os.Args, DefaultConfig()); err != nil {
		fatal("%v", err)
	}
}

// globalFlags are accepted before the command name.
type globalFlags struct {
	configPath string
	relays     string
}

func run(args []string, cfg *Config) error {
	name := "diaryctl"
	if len(args) > 0 {
		name = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cfg.Stderr)
	var g globalFlags
	fs.StringVar(&g.configPath, "config", "", "path to config file (default: <data dir>/config.toml)")
	fs.StringVar(&g.relays, "relays", "", "comma-separated relay URLs, overriding the config")
	fs.Usage = func() { usage(cfg.Stderr) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		usage(cfg.Stderr)
		return errors.New("usage: diaryctl [options] <command> [args]")
	}

	ctx := context.Background()
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "version":
		return runVersion(cfg)
	case "help":
		usage(cfg.Stdout)
		return nil
	case "keygen":
		return runKeygen(g, rest, cfg)
	case "pubkey":
		return withClient(ctx, g, cfg, rest, runPubkey)
	case "write":
		return withClient(ctx, g, cfg, rest, runWrite)
	case "list":
		return withClient(ctx, g, cfg, rest, runList)
	case "share":
		return withClient(ctx, g, cfg, rest, runShare)
	case "publish":
		return withClient(ctx, g, cfg, rest, runPublish)
	case "inbox":
		return withClient(ctx, g, cfg, rest, runInbox)
	case "verify":
		return withClient(ctx, g, cfg, rest, runVerify)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `diaryctl - private diary sharing over Nostr

Usage: diaryctl [options] <command> [args]

Commands:
  keygen [-mnemonic] [-force]           Create the identity key file
  pubkey                                Print the identity public key
  write [-day D] [-weather W] <text>    Sign and store a diary entry
  list                                  List stored entries
  share [-publish] <nostr_id> <pubkey>  Gift wrap a stored entry for a recipient
  publish [-relay URL] [file]           Publish event JSON from file or stdin
  inbox [-follow] [-for D] [-metrics]   Fetch and open gift wraps sent to you
  verify <nostr_id>                     Check a stored entry's signature
  version                               Print version information

Options:
  -config <path>   Path to config file (TOML or YAML)
  -relays <urls>   Comma-separated relay URLs

Environment:
  NOSTRDIARY_DATA_DIR, NOSTRDIARY_PASSPHRASE, NOSTRDIARY_RELAYS,
  NOSTRDIARY_LOG_LEVEL, NOSTRDIARY_LOG_FORMAT`)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func splitRelays(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	exitFunc(1)
}
