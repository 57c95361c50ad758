// Command asterisque-echo-client dials an asterisque-echo-server, opens a
// pipe on the "echo" service's function 1 carrying the --message flag, and
// prints the echoed result.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/asterisque/asterisque/asterisque"
	"github.com/asterisque/asterisque/transport/astwebsocket"
)

var rootCmd = &cobra.Command{
	Use:   "asterisque-echo-client",
	Short: "Demo Asterisque client that opens a pipe on the echo service",
	RunE:  runClient,
}

var (
	flagURL     string
	flagMessage string
	flagTimeout time.Duration
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagURL, "url", "ws://localhost:8077/", "asterisque-echo-server WebSocket URL")
	flags.StringVar(&flagMessage, "message", "hello", "message to echo")
	flags.DurationVar(&flagTimeout, "timeout", 5*time.Second, "overall call timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), flagTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, flagURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", flagURL, err)
	}

	t := astwebsocket.Dial(conn, flagURL)
	wire := asterisque.NewWire(t, asterisque.WithWireLogger(logger))

	dispatcher := asterisque.NewDispatcher(asterisque.WithDispatcherLogger(logger))
	sess, err := dispatcher.BindWire(ctx, wire, asterisque.Secondary, map[string]string{"client": "asterisque-echo-client"})
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer sess.Close(true)

	pipe, err := sess.Open(0, "echo", 1, []byte(flagMessage), false)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	result, err := pipe.Outcome().Wait(ctx)
	if err != nil {
		return fmt.Errorf("echo call failed: %w", err)
	}

	fmt.Println(string(result))
	return nil
}
