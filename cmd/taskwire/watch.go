package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/taskwire/pkg/archive"
	"github.com/vango-dev/taskwire/pkg/protocol"
	"github.com/vango-dev/taskwire/pkg/service"
)

var allEvents = []string{
	service.EventTaskStateUpdate,
	service.EventTaskAdded,
	service.EventTaskListUpdate,
	service.EventBlockNum,
	service.EventInfo,
	service.EventWxUserAdded,
}

func (a *app) watchCmd() *cobra.Command {
	var (
		archiveDir string
		archiveS3  string
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "watch [event...]",
		Short: "Stream server pushes",
		Long: `Print every push for the given events (all known events by default)
until interrupted. With --archive-dir or --archive-s3 the pushes are also
written as compressed JSON-lines batches.

Examples:
  taskwire watch
  taskwire watch block_num info
  taskwire watch --archive-dir ./pushes --quiet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			events := args
			if len(events) == 0 {
				events = allEvents
			}
			if archiveDir != "" {
				a.cfg.Archive.Dir = archiveDir
			}
			if archiveS3 != "" {
				a.cfg.Archive.S3Bucket = archiveS3
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			c, err := a.connect(ctx)
			if err != nil {
				return err
			}

			rec, err := a.recorder(ctx)
			if err != nil {
				return err
			}
			if rec != nil {
				if err := rec.Attach(c, events...); err != nil {
					return err
				}
			}

			if !quiet {
				for _, event := range events {
					if _, err := c.Subscribe(event, a.printPush); err != nil {
						return err
					}
				}
			}
			c.OnConnect(func() { a.log.Info("connected", "url", c.URL()) })
			c.OnError(func(err error) { a.log.Warn("connection error", "error", err) })

			a.success("Watching %d event(s) on %s", len(events), c.URL())

			var runErr error
			select {
			case <-ctx.Done():
			case <-c.Done():
				runErr = c.Err()
			}

			if rec != nil {
				if err := rec.Close(); err != nil {
					return err
				}
				recorded, written := rec.Stats()
				a.info("archived %d push(es) in %d batch(es)", recorded, written)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "Archive pushes into this directory")
	cmd.Flags().StringVar(&archiveS3, "archive-s3", "", "Archive pushes into this S3 bucket")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print pushes")
	return cmd
}

// recorder builds the archive recorder the config asks for, or nil.
func (a *app) recorder(ctx context.Context) (*archive.Recorder, error) {
	ac := a.cfg.Archive
	var sink archive.Sink
	switch {
	case ac.S3Bucket != "":
		s3sink, err := archive.NewS3SinkFromEnv(ctx, ac.S3Bucket)
		if err != nil {
			return nil, err
		}
		sink = s3sink
	case ac.Dir != "":
		sink = archive.DirSink{Root: ac.Dir}
	default:
		return nil, nil
	}

	compression, err := archive.ParseCompression(ac.Compression)
	if err != nil {
		return nil, err
	}
	return archive.New(sink,
		archive.WithBatchSize(ac.BatchSize),
		archive.WithFlushInterval(ac.FlushInterval.D()),
		archive.WithCompression(compression),
		archive.WithPrefix(ac.S3Prefix),
		archive.WithLogger(a.log),
	), nil
}

func (a *app) printPush(p *protocol.Push) {
	ts := p.Time().Format(time.TimeOnly)
	status := ""
	if !p.Status.OK() {
		status = " " + a.paint("\033[31m", p.Status.String())
	}
	fmt.Fprintf(a.stdout, "%s %s%s %s\n", a.paint("\033[2m", ts), a.paint("\033[36m", p.Event), status, p.Data)
}
