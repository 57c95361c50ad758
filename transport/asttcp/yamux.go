package asttcp

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// DialYamuxStream and AcceptYamuxStream each run one yamux session over
// conn and wrap its single stream into a framed Transport, so one physical
// connection carries exactly one Asterisque session. Opening or accepting
// further streams on the same connection is not provided here.
// Asterisque's pipes are a separate multiplexing layer on top.

func defaultYamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.Logger = nil
	cfg.StreamOpenTimeout = 30 * time.Second
	return cfg
}

// DialYamuxStream opens a new yamux client session over conn and opens the
// single stream that will carry one Asterisque session, as the secondary
// (connection-initiating) role.
func DialYamuxStream(conn io.ReadWriteCloser) (*Transport, error) {
	sess, err := yamux.Client(conn, defaultYamuxConfig())
	if err != nil {
		return nil, err
	}
	stream, err := sess.OpenStream()
	if err != nil {
		return nil, err
	}
	return New(stream, false), nil
}

// AcceptYamuxStream runs a yamux server session over conn and accepts the
// first stream from the peer, as the primary (connection-accepting) role.
func AcceptYamuxStream(conn io.ReadWriteCloser) (*Transport, error) {
	sess, err := yamux.Server(conn, defaultYamuxConfig())
	if err != nil {
		return nil, err
	}
	stream, err := sess.AcceptStream()
	if err != nil {
		return nil, err
	}
	return New(stream, true), nil
}
