package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/taskwire/internal/errors"
)

func (a *app) requestCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "request <route> [json]",
		Short: "Send one request and print the response",
		Long: `Send a request to route with an optional JSON payload and print the
response data.

Examples:
  taskwire request /wxuser/list
  taskwire request /task/update '{"id": 3, "status": 2}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return errors.New("TW401").WithDetailf("%q is not valid JSON", args[1])
				}
				payload = json.RawMessage(args[1])
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			resp, err := c.Request(ctx, args[0], payload)
			if err != nil {
				return err
			}

			if raw {
				fmt.Fprintln(a.stdout, string(resp.Data))
				return nil
			}
			return printJSON(a, resp.Data)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print the response data without indentation")
	return cmd
}

func printJSON(a *app, data []byte) error {
	if len(data) == 0 {
		fmt.Fprintln(a.stdout, "null")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Fprintln(a.stdout, string(data))
		return nil
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(a.stdout)
	return err
}
