package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	nostrdiary "github.com/luxundiary/nostrdiary-go"
	"github.com/luxundiary/nostrdiary-go/internal/config"
	"github.com/luxundiary/nostrdiary-go/internal/crypto"
	"github.com/luxundiary/nostrdiary-go/internal/identity"
	"github.com/luxundiary/nostrdiary-go/internal/logging"
	"github.com/luxundiary/nostrdiary-go/internal/nip19"
)

// session is the state shared by commands that need a client.
type session struct {
	client   *nostrdiary.Client
	settings *config.Config
	registry *prometheus.Registry
	logger   *slog.Logger
	io       *Config
}

type commandFunc func(ctx context.Context, s *session, args []string) error

func loadSettings(g globalFlags) (*config.Config, error) {
	settings, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.relays != "" {
		settings.Relays = splitRelays(g.relays)
		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	return settings, nil
}

func withClient(ctx context.Context, g globalFlags, cfg *Config, args []string, fn commandFunc) error {
	settings, err := loadSettings(g)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Stderr, settings.Logging.Level, settings.Logging.Format)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()

	client, err := nostrdiary.New(
		nostrdiary.WithKeyFile(settings.KeyFile, settings.Passphrase),
		nostrdiary.WithDatabase(settings.Database),
		nostrdiary.WithRelays(settings.Relays...),
		nostrdiary.WithTimeout(settings.Timeout),
		nostrdiary.WithRetries(settings.Retries),
		nostrdiary.WithConcurrency(settings.Concurrency),
		nostrdiary.WithPublishRate(settings.PublishRate),
		nostrdiary.WithLogger(logger),
		nostrdiary.WithMetrics(reg),
	)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	return fn(ctx, &session{client: client, settings: settings, registry: reg, logger: logger, io: cfg}, args)
}

func runVersion(cfg *Config) error {
	fmt.Fprintf(cfg.Stdout, "diaryctl %s\n", version)
	fmt.Fprintf(cfg.Stdout, "ciphersuite: %s\n", crypto.AlgsCiphersuite)
	return nil
}

// KeygenOutput is printed by keygen.
type KeygenOutput struct {
	PubKey   string `json:"pubkey"`
	NPub     string `json:"npub"`
	KeyFile  string `json:"key_file"`
	Mnemonic string `json:"mnemonic,omitempty"`
}

func runKeygen(g globalFlags, args []string, cfg *Config) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(cfg.Stderr)
	useMnemonic := fs.Bool("mnemonic", false, "derive the key from a new BIP-39 mnemonic and print it")
	force := fs.Bool("force", false, "overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := loadSettings(g)
	if err != nil {
		return err
	}
	if _, err := os.Stat(settings.KeyFile); err == nil && !*force {
		return fmt.Errorf("key file %s already exists; use -force to replace it", settings.KeyFile)
	}

	var (
		km  *identity.KeyManager
		out KeygenOutput
	)
	if *useMnemonic {
		out.Mnemonic, err = crypto.NewMnemonic()
		if err != nil {
			return fmt.Errorf("generate mnemonic: %w", err)
		}
		km, err = identity.FromMnemonic(out.Mnemonic, "", 0)
	} else {
		km, err = identity.Generate()
	}
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	defer km.Close()

	if err := km.Save(settings.KeyFile, []byte(settings.Passphrase)); err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	if out.PubKey, err = km.PublicKey(); err != nil {
		return err
	}
	if out.NPub, err = nip19.EncodePublicKey(out.PubKey); err != nil {
		return err
	}
	out.KeyFile = settings.KeyFile
	return encodeJSON(cfg.Stdout, out)
}

func runPubkey(_ context.Context, s *session, _ []string) error {
	fmt.Fprintln(s.io.Stdout, s.client.PublicKey())
	fmt.Fprintln(s.io.Stdout, s.client.NPub())
	return nil
}

// EntryOutput is one stored entry as printed by write and list.
type EntryOutput struct {
	ID        string `json:"id"`
	Day       string `json:"day"`
	Weather   string `json:"weather"`
	Content   string `json:"content"`
	NostrID   string `json:"nostr_id"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

func entryOutput(e *nostrdiary.Entry) EntryOutput {
	note, _ := nip19.EncodeNote(e.NostrID)
	return EntryOutput{
		Note:      note,
		ID:        e.ID,
		Day:       e.Day,
		Weather:   e.Weather,
		Content:   e.Content,
		NostrID:   e.NostrID,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func runWrite(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	fs.SetOutput(s.io.Stderr)
	day := fs.String("day", "", "entry day as YYYY-MM-DD (default: today)")
	weather := fs.String("weather", "", "weather tag")
	if err := fs.Parse(args); err != nil {
		return err
	}

	content := strings.Join(fs.Args(), " ")
	if content == "" || content == "-" {
		data, err := io.ReadAll(s.io.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = strings.TrimRight(string(data), "\n")
	}
	if content == "" {
		return errors.New("usage: diaryctl write [-day D] [-weather W] <text>")
	}

	entry, err := s.client.CreateEntry(ctx, content, *weather, *day)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return encodeJSON(s.io.Stdout, entryOutput(entry))
}

func runList(_ context.Context, s *session, _ []string) error {
	entries, err := s.client.Entries()
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	for _, e := range entries {
		if err := encodeJSON(s.io.Stdout, entryOutput(e)); err != nil {
			return err
		}
	}
	return nil
}

// ShareOutput is printed by share.
type ShareOutput struct {
	GiftWrapID    string   `json:"gift_wrap_id"`
	GiftWrapEvent string   `json:"gift_wrap_event"`
	Published     []string `json:"published,omitempty"`
}

func runShare(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("share", flag.ContinueOnError)
	fs.SetOutput(s.io.Stderr)
	publish := fs.Bool("publish", false, "publish the gift wrap to the configured relays")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: diaryctl share [-publish] <nostr_id> <recipient pubkey or npub>")
	}

	recipient, err := nostrdiary.NormalizePubkey(fs.Arg(1))
	if err != nil {
		return err
	}
	res, err := s.client.ShareStoredEntry(ctx, fs.Arg(0), recipient)
	if err != nil {
		return fmt.Errorf("share entry: %w", err)
	}

	out := ShareOutput{GiftWrapID: res.GiftWrapID, GiftWrapEvent: res.GiftWrapEvent}
	if *publish {
		out.Published, err = publishAll(ctx, s, res.GiftWrapEvent, s.settings.Relays)
		if err != nil {
			return err
		}
	}
	return encodeJSON(s.io.Stdout, out)
}

func runPublish(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(s.io.Stderr)
	relayURL := fs.String("relay", "", "publish to this relay only")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch fs.NArg() {
	case 0:
		data, err = io.ReadAll(s.io.Stdin)
	case 1:
		data, err = os.ReadFile(fs.Arg(0))
	default:
		return errors.New("usage: diaryctl publish [-relay URL] [file]")
	}
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}

	relays := s.settings.Relays
	if *relayURL != "" {
		relays = []string{*relayURL}
	}
	statuses, err := publishAll(ctx, s, strings.TrimSpace(string(data)), relays)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		fmt.Fprintln(s.io.Stdout, st)
	}
	return nil
}

// publishAll publishes to every relay and fails only when none accepted.
func publishAll(ctx context.Context, s *session, eventJSON string, relays []string) ([]string, error) {
	var (
		statuses []string
		errs     []error
	)
	for _, u := range relays {
		status, err := s.client.Publish(ctx, eventJSON, u)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(s.io.Stderr, "%s: %v\n", u, err)
			continue
		}
		statuses = append(statuses, status)
	}
	if len(statuses) == 0 {
		if len(errs) == 0 {
			return nil, nostrdiary.ErrNoRelays
		}
		return nil, fmt.Errorf("publish: %w", errors.Join(errs...))
	}
	return statuses, nil
}

// ReceivedOutput is one opened gift wrap as printed by inbox.
type ReceivedOutput struct {
	GiftWrapID string `json:"gift_wrap_id"`
	Sender     string `json:"sender"`
	Day        string `json:"day,omitempty"`
	Weather    string `json:"weather,omitempty"`
	Content    string `json:"content"`
	CreatedAt  string `json:"created_at"`
}

func receivedOutput(e *nostrdiary.ReceivedEntry) ReceivedOutput {
	return ReceivedOutput{
		GiftWrapID: e.GiftWrapID,
		Sender:     e.SenderPubkey,
		Day:        e.Day,
		Weather:    e.Weather,
		Content:    e.Content,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

func runInbox(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("inbox", flag.ContinueOnError)
	fs.SetOutput(s.io.Stderr)
	follow := fs.Bool("follow", false, "keep polling for new gift wraps")
	duration := fs.Duration("for", 0, "with -follow, stop after this long (default: until interrupted)")
	serveMetrics := fs.Bool("metrics", s.settings.Metrics.Enabled, "serve Prometheus metrics while following")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*follow {
		res, err := s.client.FetchAndUnwrapAll(ctx)
		if err != nil {
			return fmt.Errorf("fetch inbox: %w", err)
		}
		for _, item := range res.Items {
			if err := encodeJSON(s.io.Stdout, receivedOutput(item)); err != nil {
				return err
			}
		}
		for _, f := range res.Failures {
			fmt.Fprintf(s.io.Stderr, "skipped %s: %v\n", f.GiftWrapID, f.Err)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if *serveMetrics {
		shutdown, err := startMetrics(s)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	w, err := s.client.WatchInbox(ctx, func(e *nostrdiary.ReceivedEntry) {
		if err := encodeJSON(s.io.Stdout, receivedOutput(e)); err != nil {
			s.logger.Warn("write entry", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// startMetrics serves the client's collectors and Go runtime metrics on the
// configured address.
func startMetrics(s *session) (func(), error) {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ln, err := net.Listen("tcp", s.settings.Metrics.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.client.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server", "error", err)
		}
	}()
	s.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func runVerify(ctx context.Context, s *session, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: diaryctl verify <nostr_id>")
	}
	ok, err := s.client.VerifySignature(ctx, args[0])
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !ok {
		fmt.Fprintln(s.io.Stdout, "invalid")
		return fmt.Errorf("signature of %s does not verify", args[0])
	}
	fmt.Fprintln(s.io.Stdout, "valid")
	return nil
}
