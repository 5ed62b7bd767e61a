package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatrelay/client"
	"github.com/pithecene-io/chatrelay/cli/config"
	"github.com/pithecene-io/chatrelay/log"
	"github.com/pithecene-io/chatrelay/metrics"
	"github.com/pithecene-io/chatrelay/thread"
	"github.com/pithecene-io/chatrelay/transcript"
	"github.com/pithecene-io/chatrelay/turn"
	"github.com/pithecene-io/chatrelay/types"
)

// ChatCommand returns the chat command, a terminal client of the relay.
func ChatCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag(),
		LogLevelFlag(),
		&cli.StringFlag{
			Name:  "relay-url",
			Usage: "Relay base URL",
		},
		&cli.StringFlag{
			Name:  "chat-session-id",
			Usage: "Existing backend chat session (default: create one)",
		},
		&cli.IntFlag{
			Name:  "persona-id",
			Usage: "Persona used when creating the chat session",
		},
		&cli.StringFlag{
			Name:  "description",
			Usage: "Description used when creating the chat session",
		},
		&cli.IntFlag{
			Name:  "prompt-id",
			Usage: "Prompt id sent with every turn",
		},
		&cli.Float64Flag{
			Name:  "temperature",
			Usage: "Sampling temperature sent with every turn",
		},
		&cli.StringFlag{
			Name:    "auth-cookie",
			Usage:   "Backend auth cookie value",
			EnvVars: []string{"CHATRELAY_AUTH_COOKIE"},
		},
		&cli.StringFlag{
			Name:  "snapshot",
			Usage: "Thread snapshot file, loaded on start and saved on exit",
		},
		&cli.StringSliceFlag{
			Name:    "message",
			Aliases: []string{"m"},
			Usage:   "Send these messages in order instead of reading stdin (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Print answers only, without documents or status lines",
		},
	}
	flags = append(flags, StorageFlags()...)
	flags = append(flags, AdapterFlags()...)

	return &cli.Command{
		Name:   "chat",
		Usage:  "Chat through the relay, one turn per input line",
		Flags:  flags,
		Action: chatAction,
	}
}

// chatOptions are the per-invocation chat settings that do not live in the
// config file.
type chatOptions struct {
	messages    []string
	description *string
	quiet       bool
}

func chatAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}
	applyChatFlags(c, &cfg.Chat)
	if !c.IsSet("log-level") && cfg.Log.Level == config.Default().Log.Level {
		// Keep the terminal readable.
		cfg.Log.Level = "warn"
	}

	logger, err := newLogger(c, cfg, "chat")
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer logger.Sync()

	opts := chatOptions{
		messages: c.StringSlice("message"),
		quiet:    c.Bool("quiet"),
	}
	if c.IsSet("description") {
		d := c.String("description")
		opts.description = &d
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed, err := runChat(ctx, cfg, opts, c.App.Reader, c.App.Writer, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if failed > 0 && len(opts.messages) > 0 {
		return cli.Exit(fmt.Sprintf("%d turn(s) failed", failed), exitFailure)
	}
	return nil
}

func applyChatFlags(c *cli.Context, chat *config.ChatConfig) {
	setString(c, "relay-url", &chat.RelayURL)
	setString(c, "chat-session-id", &chat.ChatSessionID)
	setString(c, "auth-cookie", &chat.AuthCookie)
	setString(c, "snapshot", &chat.Snapshot)
	if c.IsSet("persona-id") {
		chat.PersonaID = c.Int("persona-id")
	}
	if c.IsSet("prompt-id") {
		chat.PromptID = c.Int("prompt-id")
	}
	if c.IsSet("temperature") {
		chat.Temperature = c.Float64("temperature")
	}
}

// runChat runs turns for every input, printing answers to out as they
// stream. It returns the number of turns that were not committed.
func runChat(ctx context.Context, cfg *config.Config, opts chatOptions, in io.Reader, out io.Writer, logger *log.Logger) (int, error) {
	var clientOpts []client.Option
	clientOpts = append(clientOpts, client.WithLogger(logger))
	if cfg.Chat.AuthCookie != "" {
		clientOpts = append(clientOpts, client.WithAuthCookie(cfg.Chat.AuthCookie))
	}
	cl := client.New(cfg.Chat.RelayURL, clientOpts...)

	tracker, chatSessionID, err := openThread(ctx, cl, cfg.Chat, opts.description)
	if err != nil {
		return 0, err
	}

	store, err := openStore(ctx, cfg.Storage, tracker.SessionID(), len(tracker.Messages()))
	if err != nil {
		return 0, fmt.Errorf("open transcript: %w", err)
	}
	notifier, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return 0, fmt.Errorf("build adapter: %w", err)
	}

	backend := ""
	if store != nil {
		backend = cfg.Storage.Backend
	}
	collector := metrics.NewCollector("chat", backend, cfg.Adapter.Type)

	sessCfg := client.SessionConfig{
		ChatSessionID: chatSessionID,
		PersonaID:     cfg.Chat.PersonaID,
		Description:   opts.description,
		PromptID:      cfg.Chat.PromptID,
		Temperature:   cfg.Chat.Temperature,
		Payload:       payloadOptions(cfg.Chat),
		Adapter:       notifier,
		Logger:        logger,
		Collector:     collector,
	}
	if store != nil {
		sessCfg.Transcript = transcript.NewInstrumentedWriter(store, collector)
		sessCfg.TranscriptPath = store.Path()
	}
	session := client.NewSession(cl, tracker, sessCfg)

	sugar := logger.Sugar()
	failed := 0
	for input := range inputs(opts.messages, in) {
		if ctx.Err() != nil {
			break
		}
		if err := chatTurn(ctx, session, input, out, opts.quiet); err != nil {
			failed++
			fmt.Fprintf(out, "error: %v\n", err)
			sugar.Warnf("turn %q failed: %v", input, err)
		}
	}

	var errs []error
	if cfg.Chat.Snapshot != "" {
		if err := tracker.SaveFile(cfg.Chat.Snapshot); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot: %w", err))
		}
	}
	// A canceled ctx must not prevent the final writes.
	if err := session.Close(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	logger.Info("chat finished", collector.Snapshot().Fields())
	return failed, errors.Join(errs...)
}

// openThread restores the thread snapshot when one exists, and creates the
// backend chat session when none is known.
func openThread(ctx context.Context, cl *client.Client, chat config.ChatConfig, description *string) (*thread.Tracker, string, error) {
	id := chat.ChatSessionID
	var tracker *thread.Tracker

	if chat.Snapshot != "" {
		t, err := thread.LoadFile(chat.Snapshot)
		switch {
		case err == nil:
			if id != "" && t.SessionID() != id {
				return nil, "", fmt.Errorf("snapshot %s belongs to chat session %s, not %s", chat.Snapshot, t.SessionID(), id)
			}
			tracker, id = t, t.SessionID()
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, "", fmt.Errorf("load snapshot: %w", err)
		}
	}

	if id == "" {
		personaID := chat.PersonaID
		if personaID == 0 {
			personaID = client.DefaultPersonaID
		}
		created, err := cl.CreateChatSession(ctx, personaID, description)
		if err != nil {
			return nil, "", fmt.Errorf("create chat session: %w", err)
		}
		id = created
	}
	if tracker == nil {
		tracker = thread.NewTracker(id)
	}
	return tracker, id, nil
}

func payloadOptions(chat config.ChatConfig) client.PayloadOptions {
	opts := client.DefaultPayloadOptions()
	if chat.ModelProvider != "" {
		opts.ModelProvider = chat.ModelProvider
	}
	if chat.ModelVersion != "" {
		opts.ModelVersion = chat.ModelVersion
	}
	return opts
}

// inputs yields messages when given, otherwise each non-blank line of in.
func inputs(messages []string, in io.Reader) iter.Seq[string] {
	return func(yield func(string) bool) {
		if len(messages) > 0 {
			for _, m := range messages {
				if !yield(m) {
					return
				}
			}
			return
		}
		if in == nil {
			return
		}
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}
}

// chatTurn sends one turn and streams the answer to out.
func chatTurn(ctx context.Context, session *client.Session, input string, out io.Writer, quiet bool) error {
	printed := 0
	observer := func(s types.TurnState) {
		if len(s.Content) > printed {
			fmt.Fprint(out, s.Content[printed:])
			printed = len(s.Content)
		}
	}

	outcome, err := session.Send(ctx, input, observer)
	if err == nil && outcome != nil {
		// The terminal packet is not observed.
		observer(outcome.State)
	}
	if printed > 0 {
		fmt.Fprintln(out)
	}
	if err != nil {
		return err
	}

	if quiet {
		return nil
	}
	if outcome.Status == turn.StatusStopped && outcome.State.StopReason != nil {
		fmt.Fprintf(out, "(stopped: %s)\n", *outcome.State.StopReason)
	}
	for _, doc := range outcome.State.ContextDocs {
		if doc.Citation == nil {
			continue
		}
		fmt.Fprintf(out, "[%d] %s %s\n", *doc.Citation, doc.Title, doc.Link)
	}
	return nil
}
