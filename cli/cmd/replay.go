package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatrelay/cli/reader"
	"github.com/pithecene-io/chatrelay/cli/render"
	"github.com/pithecene-io/chatrelay/cli/tui"
)

// defaultContentWidth is the content column width of replay tables.
const defaultContentWidth = 60

// ReplayCommand returns the replay command, which reads stored transcripts.
func ReplayCommand() *cli.Command {
	flags := []cli.Flag{ConfigFlag()}
	flags = append(flags, ReadOnlyFlags()...)
	flags = append(flags, StorageFlags()...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "Show the latest turn metrics instead of messages",
		},
		&cli.IntFlag{
			Name:  "width",
			Usage: "Content column width for table output",
			Value: defaultContentWidth,
		},
	)

	return &cli.Command{
		Name:      "replay",
		Usage:     "List stored sessions or replay one session's transcript",
		ArgsUsage: "[session-id]",
		Flags:     flags,
		Action:    replayAction,
	}
}

func replayAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}
	ds, err := openDataset(c.Context, cfg.Storage)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	rd := reader.New(ds)
	sessionID := c.Args().First()
	if err := replay(c.Context, rd, r, sessionID, replayOptions{
		metrics: c.Bool("metrics"),
		tui:     c.Bool("tui"),
		width:   c.Int("width"),
	}); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return nil
}

type replayOptions struct {
	metrics bool
	tui     bool
	width   int
}

func replay(ctx context.Context, rd *reader.Reader, r *render.Renderer, sessionID string, opts replayOptions) error {
	switch {
	case opts.metrics:
		snap, err := rd.Metrics(ctx, sessionID)
		if err != nil {
			return err
		}
		if opts.tui {
			return r.RenderTUI(tui.ViewReplayMetrics, snap)
		}
		return r.Render(snap)

	case sessionID == "":
		if opts.tui {
			return errors.New("--tui is not supported when listing sessions")
		}
		items, err := rd.ListSessions(ctx)
		if err != nil {
			return err
		}
		return r.Render(items)

	default:
		resp, err := rd.Replay(ctx, sessionID)
		if err != nil {
			return err
		}
		if opts.tui {
			return r.RenderTUI(tui.ViewReplaySession, resp)
		}
		if r.Format() == render.FormatTable {
			return r.Render(resp.Rows(opts.width))
		}
		return r.Render(resp)
	}
}
