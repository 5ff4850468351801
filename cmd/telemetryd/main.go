// Gray Logic Telemetry - device telemetry gateway
//
// This is the main entry point for the telemetry gateway. One TCP port
// carries both long-lived device sessions (newline-delimited JSON) and the
// HTTP API; the protocol is decided from each connection's first bytes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-telemetry/internal/api"
	"github.com/nerrad567/gray-logic-telemetry/internal/command"
	"github.com/nerrad567/gray-logic-telemetry/internal/device"
	"github.com/nerrad567/gray-logic-telemetry/internal/fanout"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-telemetry/internal/relay"
	"github.com/nerrad567/gray-logic-telemetry/internal/session"
	"github.com/nerrad567/gray-logic-telemetry/internal/sniff"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/telemetry.yaml"

// configEnv names the environment variable that overrides the config path.
const configEnv = "GRAYLOGIC_TELEMETRY_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, binds the shared port and serves until ctx is
// cancelled. Separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Telemetry",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath, explicit := getConfigPath()
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	ln, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return fmt.Errorf("binding %s: %w", cfg.Address(), err)
	}

	return serve(ctx, cfg, log, ln)
}

// serve wires the gateway onto ln and blocks until ctx is cancelled or the
// listener fails. ln is closed on return.
func serve(ctx context.Context, cfg *config.Config, log *logging.Logger, ln net.Listener) error {
	registry := device.NewRegistry(device.Options{
		Liveness:       device.Liveness(cfg.Devices.Liveness),
		LivenessWindow: cfg.GetLivenessWindow(),
	})
	registry.SetLogger(log.With("component", "registry"))

	dispatcher := command.NewDispatcher(registry, command.ActuatorSpace{
		Prefix:   cfg.Devices.Actuators.Prefix,
		Count:    cfg.Devices.Actuators.Count,
		MaxValue: cfg.Devices.Actuators.MaxValue,
	}, log.With("component", "dispatcher"))

	events := fanout.NewHub(fanout.DefaultBuffer, log.With("component", "fanout"))
	defer events.Close()

	idle := cfg.GetDeviceIdleTimeout()
	if idle == 0 {
		idle = -1 // disabled
	}
	sessions := session.NewServer(registry, dispatcher, events, session.Options{
		IdleTimeout:    idle,
		WriteTimeout:   cfg.GetDeviceWriteTimeout(),
		MaxFrameBuffer: cfg.Devices.MaxFrameBuffer,
		ReadBufferSize: cfg.Devices.ReadBufferSize,
		Logger:         log.With("component", "session"),
	})

	deps := api.Deps{
		Config:     cfg.Server,
		WS:         cfg.WebSocket,
		Logger:     log.With("component", "api"),
		Registry:   registry,
		Dispatcher: dispatcher,
		Events:     events,
		Sessions:   sessions,
		Version:    version,
	}

	// MQTT relay (optional)
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			ln.Close()
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		deps.MQTT = mqttClient
		r := relay.New(mqttClient, events, dispatcher, log.With("component", "relay"))
		deps.Relay = r
		go func() {
			if err := r.Run(ctx); err != nil {
				log.Error("MQTT relay stopped", "error", err)
			}
		}()
	} else {
		log.Info("MQTT relay disabled")
	}

	// InfluxDB sink (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			ln.Close()
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		deps.InfluxDB = influxClient
		sink := influxdb.NewSink(influxClient, events, log.With("component", "influxdb"))
		deps.Sink = sink
		go sink.Run(ctx)
	} else {
		log.Info("InfluxDB sink disabled")
	}

	listener := sniff.NewListener(ln, sessions.Handle, sniff.Options{
		Timeout: cfg.GetSniffTimeout(),
		Logger:  log.With("component", "sniff"),
	})
	deps.Listener = listener

	apiServer, err := api.New(deps)
	if err != nil {
		listener.Close()
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx, listener.Foreign()); err != nil {
		listener.Close()
		return fmt.Errorf("starting API server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listener.Serve(ctx)
	}()

	log.Info("gateway listening",
		"address", ln.Addr().String(),
		"liveness", registry.Liveness(),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case runErr = <-serveErr:
		serveErr <- runErr
		log.Error("listener stopped", "error", runErr)
	}

	if err := apiServer.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	listener.Close()
	sessions.CloseAll()
	if err := <-serveErr; err != nil && !errors.Is(err, sniff.ErrListenerClosed) && !errors.Is(err, net.ErrClosed) {
		runErr = err
	}

	// Deferred Close() calls run in reverse order: InfluxDB, MQTT, fan-out hub.
	log.Info("Gray Logic Telemetry stopped")
	if errors.Is(runErr, sniff.ErrListenerClosed) || errors.Is(runErr, net.ErrClosed) {
		return nil
	}
	return runErr
}

// getConfigPath returns the configuration file path and whether it was
// given explicitly through the environment.
func getConfigPath() (string, bool) {
	if path := os.Getenv(configEnv); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// loadConfig requires an explicitly named file to exist; the default path
// falls back to built-in defaults when absent.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if explicit {
		return config.Load(path)
	}
	return config.LoadOrDefault(path)
}
