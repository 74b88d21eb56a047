// Command flowplanectl is a scriptable inspection client for the control
// plane's event stream: it can ping a server, dump the state snapshot it
// pushes on connect, or hold a raw connection open.
package main

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"time"

	"github.com/fatih/color"
	"github.com/flowmesh/controlplane/internal/wire"
	"github.com/fxamacker/cbor/v2"
	"github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
)

var addr string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flowplanectl",
		Short: "Inspect a running control plane server",
	}

	root.PersistentFlags().StringVar(&addr, "addr", "localhost:8080", "control plane event server address")

	root.AddCommand(newPingCmd(), newDumpCmd(), newConnectCmd())

	return root
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Send a Ping and report the round trip",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, cleanup, err := open()
			if err != nil {
				return err
			}
			defer cleanup()

			start := time.Now()
			req, err := wire.NewRequest(wire.EventPing, 1, nil)
			if err != nil {
				return err
			}

			if err := wire.WriteEvent(conn, req); err != nil {
				return err
			}

			if err := drainUntil(conn, wire.EventServerResponse); err != nil {
				return err
			}

			fmt.Printf("pong in %s\n", time.Since(start))

			return nil
		},
	}
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Connect and pretty-print the first published state snapshot",
		RunE: func(_ *cobra.Command, _ []string) error {
			conn, cleanup, err := open()
			if err != nil {
				return err
			}
			defer cleanup()

			// Decode CBOR maps with string keys so the result can be
			// marshalled to JSON.
			dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
			if err != nil {
				return err
			}

			for {
				ev, err := wire.ReadEvent(conn)
				if err != nil {
					return err
				}

				if ev.Type != wire.EventServerStateUpdate {
					continue
				}

				var snap any
				if err := dm.Unmarshal(ev.Message, &snap); err != nil {
					return err
				}

				formatted, err := prettyjson.Marshal(snap)
				if err != nil {
					return err
				}

				fmt.Println(string(formatted))

				return nil
			}
		},
	}
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Open a raw connection and print every frame received until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			conn, cleanup, err := open()
			if err != nil {
				return err
			}
			defer cleanup()

			for {
				ev, err := wire.ReadEvent(conn)
				if err != nil {
					return err
				}

				fmt.Printf("[%s] tag=%d\n", ev.Type, ev.Tag)
			}
		},
	}
}

func open() (net.Conn, func(), error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// Every stream opens with a ClientEventStreamConnected frame.
	if _, err := wire.ReadEvent(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read connected event: %w", err)
	}

	return conn, func() { conn.Close() }, nil
}

func drainUntil(conn net.Conn, want wire.EventType) error {
	for {
		ev, err := wire.ReadEvent(conn)
		if err != nil {
			return err
		}

		if ev.Type == want {
			return nil
		}
	}
}

func logError(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
}
