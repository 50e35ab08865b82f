package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/readaloud/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// EmbeddedServer runs a NATS server in process so a single reader node needs
// no external broker.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start creates and starts the embedded server. It returns nil when the bus
// is disabled or configured as external.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Enabled || !cfg.Embedded {
		return nil, nil
	}

	ns, err := server.NewServer(serverOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", readyTimeout)
	}

	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.Bool("auth", cfg.Token != "" || cfg.Username != ""))

	return &EmbeddedServer{ns: ns, log: log}, nil
}

// serverOptions mirrors the client credentials onto the server so the
// runtime's own connection and remote readaloudctl share one config block.
func serverOptions(cfg config.BusConfig) *server.Options {
	opts := &server.Options{
		Host:     "0.0.0.0",
		Port:     cfg.Port,
		StoreDir: cfg.StoreDir,
		NoSigs:   true,
	}
	switch {
	case cfg.Token != "":
		opts.Authorization = cfg.Token
	case cfg.Username != "":
		opts.Username = cfg.Username
		opts.Password = cfg.Password
	}
	return opts
}

// ClientURL is the address local clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Running reports whether the server still accepts connections.
func (e *EmbeddedServer) Running() bool {
	return e != nil && e.ns != nil && e.ns.Running()
}

func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
