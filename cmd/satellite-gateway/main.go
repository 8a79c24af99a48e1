package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/api"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/config"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/gateway"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/integration"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/natslink"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio/serialmesh"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio/stub"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/relay"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/storage"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/crypto"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/lorawan"
)

var version = "dev"

func main() {
	var configPath = flag.String("config", "config/satellite-gateway.yml", "Configuration file path")
	var validateOnly = flag.Bool("validate", false, "Validate the configuration and exit")
	var showConfig = flag.Bool("show-config", false, "Print the configuration summary and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = version
	}
	setupLogging(cfg.Log)

	if *showConfig || *validateOnly {
		cfg.PrintConfigSummary()
		if *validateOnly {
			fmt.Println("Configuration is valid")
		}
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Str("gateway", cfg.Server.Name).
		Str("version", cfg.Server.Version).
		Msg("Satellite gateway starting")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Satellite gateway failed")
	}
	log.Info().Msg("Satellite gateway stopped")
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.Database.Driver != "" {
		s, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
		}
		defer s.Close()
		store = s
		log.Info().Str("driver", cfg.Database.Driver).Msg("Connected to database")
	}

	var nc *nats.Conn
	if cfg.Mesh.Driver == "nats" || cfg.LoRaWAN.Driver == "nats" || cfg.NATS.PublishStatus {
		conn, err := connectNATS(cfg.NATS, cfg.Server.Name)
		if err != nil {
			return err
		}
		defer conn.Close()
		nc = conn
	}
	subjects := natslink.NewSubjects(cfg.Server.Name)

	mesh, err := newMesh(cfg, nc, subjects)
	if err != nil {
		return err
	}
	if c, ok := mesh.(io.Closer); ok {
		defer c.Close()
	}

	network, err := newNetwork(cfg, nc, subjects)
	if err != nil {
		return err
	}
	if c, ok := network.(io.Closer); ok {
		defer c.Close()
	}

	gw, err := newGateway(cfg, mesh, network, store)
	if err != nil {
		return err
	}

	if err := gw.Start(ctx); err != nil {
		if errors.Is(err, gateway.ErrTransceiverFault) {
			log.Error().Err(err).Msg("Transceiver fault, gateway halted")
		}
		return err
	}
	if sm, ok := mesh.(*serialmesh.Mesh); ok {
		go watchSerialMesh(ctx, sm, stop)
	}

	var wg sync.WaitGroup

	if cfg.API.Enabled {
		srv, err := newAPIServer(cfg, gw, store)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("REST API server failed")
				stop()
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("REST API shutdown failed")
			}
			wg.Wait()
		}()
	}

	sinks, closeSinks, err := newStatusSinks(cfg, nc, subjects)
	if err != nil {
		return err
	}
	defer closeSinks()
	go integration.NewForwarder(gw, cfg.Integration.Interval, sinks...).Run(ctx)

	if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Received shutdown signal")
	return nil
}

func connectNATS(cfg config.NATSConfig, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("satgw-" + name),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}
	log.Info().Str("url", cfg.URL).Msg("Connected to NATS")
	return nc, nil
}

func newMesh(cfg *config.Config, nc *nats.Conn, subjects natslink.Subjects) (radio.MeshTransceiver, error) {
	switch cfg.Mesh.Driver {
	case "serial":
		m, err := serialmesh.Open(cfg.Mesh.SerialPort, cfg.Mesh.BaudRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", gateway.ErrTransceiverFault, err)
		}
		return m, nil
	case "nats":
		return natslink.NewMesh(nc, subjects), nil
	default:
		log.Warn().Msg("Using stub mesh transceiver, no radio traffic will be received")
		return stub.NewMesh(), nil
	}
}

// watchSerialMesh stops the gateway when the serial reader gives up
func watchSerialMesh(ctx context.Context, m *serialmesh.Mesh, stop context.CancelFunc) {
	select {
	case <-ctx.Done():
	case <-m.Done():
		if err := m.Err(); err != nil {
			log.Error().Err(err).Msg("Mesh radio lost, shutting down")
			stop()
		}
	}
}

func newNetwork(cfg *config.Config, nc *nats.Conn, subjects natslink.Subjects) (radio.NetworkTransceiver, error) {
	dr, err := cfg.DataRate()
	if err != nil {
		return nil, err
	}

	switch cfg.LoRaWAN.Driver {
	case "nats":
		devEUI, err := lorawan.ParseEUI64(cfg.LoRaWAN.DevEUI)
		if err != nil {
			return nil, err
		}
		joinEUI, err := lorawan.ParseEUI64(cfg.LoRaWAN.JoinEUI)
		if err != nil {
			return nil, err
		}
		return natslink.NewNetwork(nc, subjects, natslink.NetworkConfig{
			DevEUI:         devEUI,
			JoinEUI:        joinEUI,
			DataRate:       dr,
			MaxPayloadSize: cfg.MaxPayloadSize(),
			DutyCycleLimit: cfg.LoRaWAN.DutyCycleLimit,
			DutyWindow:     cfg.LoRaWAN.DutyCycleWindow,
			JoinTimeout:    cfg.LoRaWAN.JoinTimeout,
		}), nil
	default:
		log.Warn().Msg("Using stub network transceiver, uplinks are discarded")
		n := stub.NewNetwork(cfg.LoRaWAN.DutyCycleLimit, cfg.LoRaWAN.DutyCycleWindow, time.Now)
		n.DataRate = dr
		return n, nil
	}
}

func newGateway(cfg *config.Config, mesh radio.MeshTransceiver, network radio.NetworkTransceiver, store storage.Store) (*gateway.Gateway, error) {
	dr, err := cfg.DataRate()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.TTLTable()
	if err != nil {
		return nil, err
	}

	translator := relay.NewTranslator(relay.Config{Compression: cfg.Codec.Compression})

	return gateway.New(gateway.Config{
		Name:          cfg.Server.Name,
		QueueCapacity: cfg.Queue.Capacity,
		TTL:           ttl,
		Pass: gateway.PassConfig{
			Interval:  cfg.Pass.Interval,
			Duration:  cfg.Pass.Duration,
			WakeEarly: cfg.Pass.WakeEarly,
		},
		MaxRetries:          cfg.Queue.MaxRetries,
		FPort:               cfg.LoRaWAN.FPort,
		DataRate:            dr,
		MaxUplinkSize:       cfg.MaxPayloadSize(),
		JoinAttempts:        cfg.LoRaWAN.JoinAttempts,
		JoinRetryDelay:      cfg.LoRaWAN.JoinRetryDelay,
		TickInterval:        cfg.Queue.TickInterval,
		MaintenanceInterval: cfg.Queue.MaintenanceInterval,
		StatusInterval:      cfg.Queue.StatusInterval,
	}, mesh, network, translator, store), nil
}

func newAPIServer(cfg *config.Config, gw *gateway.Gateway, store storage.Store) (*api.RESTServer, error) {
	if cfg.JWT.Secret == "" {
		secret, err := crypto.GenerateRandomString(32)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.JWT.Secret = secret
		log.Warn().Msg("No JWT secret configured, tokens will not survive a restart")
	}
	return api.NewRESTServer(cfg, gw, store), nil
}

func newStatusSinks(cfg *config.Config, nc *nats.Conn, subjects natslink.Subjects) ([]integration.Sink, func(), error) {
	var (
		sinks   []integration.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.NATS.PublishStatus && nc != nil {
		sinks = append(sinks, integration.NewNATSSink(nc, subjects))
	}

	if h := cfg.Integration.HTTP; h.Enabled {
		sinks = append(sinks, integration.NewHTTPSink(integration.HTTPConfig{
			Endpoint: h.Endpoint,
			Headers:  h.Headers,
			Timeout:  h.Timeout,
		}))
	}

	if m := cfg.Integration.MQTT; m.Enabled {
		sink, err := integration.NewMQTTSink(integration.MQTTConfig{
			BrokerURL: m.BrokerURL,
			ClientID:  m.ClientID,
			Username:  m.Username,
			Password:  m.Password,
			Topic:     m.Topic,
			QoS:       m.QoS,
			TLS:       m.TLS,
		}, cfg.Server.Name)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("status mqtt sink: %w", err)
		}
		sinks = append(sinks, sink)
		closers = append(closers, sink.Close)
	}

	return sinks, closeAll, nil
}
