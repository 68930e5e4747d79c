// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/waymark-io/waymark/internal/logging"
)

// StreamName is the JetStream stream holding all Waymark subjects.
const StreamName = "WAYMARK"

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	// URL of the NATS server. Ignored when EmbeddedServer is true.
	URL string

	// EmbeddedServer runs an in-process NATS server so single-instance
	// deployments need no external broker.
	EmbeddedServer bool
	StoreDir       string
	MaxMemory      int64
	MaxStore       int64

	// DurableName prefixes durable consumer names; distinct consumers
	// within one process append their own suffix.
	DurableName string
}

// EmbeddedServer wraps the NATS server with lifecycle management.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer creates and starts an embedded JetStream server.
func NewEmbeddedServer(cfg NATSConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName:         "waymark-events",
		Host:               "127.0.0.1",
		Port:               -1, // random free port
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              true,
		MaxPayload:         1 << 20,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("NATS server not ready within timeout")
	}

	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() error {
	s.server.Shutdown()
	s.server.WaitForShutdown()
	return nil
}

// NewNATSBus creates the JetStream transport. The stream is provisioned
// before the publisher and subscriber attach, so the wildcard subjects
// never trigger auto-provisioning.
func NewNATSBus(ctx context.Context, cfg NATSConfig) (*Bus, error) {
	logger := NewLoggerAdapter()

	var (
		embedded *EmbeddedServer
		url      = cfg.URL
	)
	if cfg.EmbeddedServer {
		var err error
		embedded, err = NewEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		url = embedded.ClientURL()
		logging.Info().Str("url", url).Msg("embedded NATS server started")
	}

	fail := func(err error) (*Bus, error) {
		if embedded != nil {
			_ = embedded.Shutdown()
		}
		return nil, err
	}

	nc, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return fail(fmt.Errorf("connect to NATS: %w", err))
	}

	if err := ensureStream(ctx, nc); err != nil {
		nc.Close()
		return fail(err)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		nc.Close()
		return fail(fmt.Errorf("create publisher: %w", err))
	}

	durable := cfg.DurableName
	if durable == "" {
		durable = "waymark"
	}
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:            url,
		NatsOptions:    natsOpts,
		Unmarshaler:    &wmNats.NATSMarshaler{},
		AckWaitTimeout: 30 * time.Second,
		CloseTimeout:   10 * time.Second,
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			DurablePrefix: durable,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(StreamName),
				natsgo.DeliverNew(),
				natsgo.MaxDeliver(3),
				natsgo.AckWait(30 * time.Second),
			},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		nc.Close()
		return fail(fmt.Errorf("create subscriber: %w", err))
	}

	bus := newBus(pub, sub, logger)
	if embedded != nil {
		bus.addCloser(embedded.Shutdown)
	}
	bus.addCloser(func() error { nc.Close(); return nil })
	bus.addCloser(pub.Close)
	bus.addCloser(sub.Close)
	return bus, nil
}

// ensureStream creates or updates the Waymark stream. Idempotent.
func ensureStream(ctx context.Context, nc *natsgo.Conn) error {
	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{"telemetry.>", "device.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	if _, err := js.Stream(ctx, StreamName); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", StreamName, err)
		}
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("check stream %s: %w", StreamName, err)
	}

	if _, err := js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	stream, err := js.Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", StreamName, err)
	}
	info := stream.CachedInfo()
	logging.Info().
		Str("name", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Msg("JetStream stream ready")
	return nil
}
