// Package bus republishes engine events on an embedded NATS server so
// external processes can subscribe without linking the engine.
//
// The bus is a track.Sink: wire it into the daemon's MultiSink and
// every event goes out as JSON on its subject. Publishing is
// fire-and-forget; a failed publish is logged, never surfaced, and
// never blocks an engine loop.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/roamkit/roam/internal/track"
)

// Config describes where the embedded server listens.
type Config struct {
	Host string
	Port int
}

// DefaultConfig listens on the conventional NATS port, loopback only.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: 4222}
}

// readyTimeout bounds embedded server startup.
const readyTimeout = 10 * time.Second

// Bus is an embedded NATS server plus the engine's publishing
// connection.
type Bus struct {
	srv *server.Server
	nc  *nats.Conn
	log *slog.Logger
}

// Open starts the embedded server and connects to it. Port -1 picks a
// random free port (useful for tests). log may be nil.
func Open(cfg Config, log *slog.Logger) (*Bus, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	srv, err := server.NewServer(&server.Options{
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: create server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("bus: server not ready after %s", readyTimeout)
	}

	nc, err := nats.Connect(srv.ClientURL(),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn("bus connection error", "error", err)
		}),
	)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	log.Info("event bus started", "url", srv.ClientURL())
	return &Bus{srv: srv, nc: nc, log: log}, nil
}

// URL returns the client URL external subscribers connect to.
func (b *Bus) URL() string {
	return b.srv.ClientURL()
}

// Conn returns the bus's own connection, for in-process subscribers.
func (b *Bus) Conn() *nats.Conn {
	return b.nc
}

// Close drains the connection and shuts the server down.
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.log.Warn("bus drain failed", "error", err)
	}
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
}

// publish marshals and sends one event. Failures are logged only.
func (b *Bus) publish(subject string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error("bus encode failed", "subject", subject, "error", err)
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.log.Warn("bus publish failed", "subject", subject, "error", err)
	}
}

func (b *Bus) OnLocation(l track.Location) {
	b.publish(SubjectLocation, l)
}

func (b *Bus) OnMotionChange(e track.MotionChange) {
	b.publish(SubjectMotionChange, e)
}

func (b *Bus) OnGeofencesChange(e track.GeofencesChange) {
	b.publish(SubjectGeofencesChange, e)
}

func (b *Bus) OnGeofenceEvent(e track.GeofenceEvent) {
	b.publish(GeofenceSubject(e.Identifier, strings.ToLower(string(e.Action))), e)
}

func (b *Bus) OnHeartbeat(e track.Heartbeat) {
	b.publish(SubjectHeartbeat, e)
}

func (b *Bus) OnProviderChange(e track.ProviderChange) {
	b.publish(SubjectProviderChange, e)
}
