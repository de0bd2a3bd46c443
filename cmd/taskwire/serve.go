package main

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/taskwire/internal/errors"
	"github.com/vango-dev/taskwire/internal/taskstore"
	"github.com/vango-dev/taskwire/pkg/server"
)

func (a *app) serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference task server",
		Long: `Run an in-memory task server speaking the taskwire protocol.

The websocket endpoint is mounted at server.path; /healthz and /metrics are
served on the same listener. The block counter is pushed every
peer.blockInterval.

Examples:
  taskwire serve
  taskwire serve --listen 127.0.0.1:9000 --codec msgpack`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Peer.Listen
			}
			codec, err := a.cfg.Codec()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			srv := server.New(
				server.WithLogger(a.log),
				server.WithCodec(codec),
				server.WithRegistry(reg),
				server.WithNamespace(a.cfg.Metrics.Namespace),
				server.WithPath(a.cfg.Server.Path),
			)
			store := taskstore.New(srv, taskstore.WithLogger(a.log))
			taskstore.Register(srv, store)

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return errors.Newf(errors.CategoryCLI, "listen on %s: %v", listen, err)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			go store.Run(ctx, a.cfg.Peer.BlockInterval.D())

			a.success("Serving on ws://%s%s", ln.Addr(), a.cfg.Server.Path)
			a.info("codec %s, block interval %s", codec.Name(), a.cfg.Peer.BlockInterval)
			return srv.Run(ctx, ln)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default: peer.listen)")
	return cmd
}
