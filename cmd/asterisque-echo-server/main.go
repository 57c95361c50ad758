// Command asterisque-echo-server is a minimal end-to-end demo over the
// WebSocket transport binding: it accepts WebSocket connections, upgrades
// each to an Asterisque Wire, binds a Session as the primary (accepting)
// peer, and serves an "echo" service whose function 1 returns its params
// unchanged.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/asterisque/asterisque/asterisque"
	"github.com/asterisque/asterisque/transport/astwebsocket"
)

var rootCmd = &cobra.Command{
	Use:   "asterisque-echo-server",
	Short: "Demo Asterisque session server that serves the echo service over WebSocket",
	RunE:  runServer,
}

var (
	flagAddr    string
	flagVerbose bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddr, "addr", ":8077", "WebSocket listen address")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug-level logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	dispatcher := asterisque.NewDispatcher(asterisque.WithDispatcherLogger(logger))
	dispatcher.RegisterService("echo", asterisque.BindFunc(1, func(ctx asterisque.CallContext, params []byte) ([]byte, error) {
		return params, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handleUpgrade(ctx, w, r, dispatcher, logger)
	})
	srv := &http.Server{
		Addr:              flagAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", flagAddr).Msg("asterisque-echo-server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelShut()
	return srv.Shutdown(shutCtx)
}

func handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, dispatcher *asterisque.Dispatcher, logger zerolog.Logger) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}

	t := astwebsocket.Accept(conn, r)
	wire := asterisque.NewWire(t, asterisque.WithWireLogger(logger))

	handshakeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sess, err := dispatcher.BindWire(handshakeCtx, wire, asterisque.Primary, map[string]string{"server": "asterisque-echo-server"})
	if err != nil {
		logger.Warn().Err(err).Msg("handshake failed")
		return
	}
	logger.Info().Uint64("session", uint64(sess.ID())).Str("remote", r.RemoteAddr).Msg("session established")
}
