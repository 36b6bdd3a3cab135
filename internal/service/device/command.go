package device

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/door-alarm/internal/api/grpc/health"
	"github.com/oshokin/door-alarm/internal/bridge"
	"github.com/oshokin/door-alarm/internal/config"
	"github.com/oshokin/door-alarm/internal/controller"
	"github.com/oshokin/door-alarm/internal/device/input"
	"github.com/oshokin/door-alarm/internal/device/pulse"
	"github.com/oshokin/door-alarm/internal/logger"
	"github.com/oshokin/door-alarm/internal/metrics"
	"github.com/oshokin/door-alarm/internal/reconcile"
	repository "github.com/oshokin/door-alarm/internal/repository/state"
	"github.com/oshokin/door-alarm/internal/transport/mqtt"
)

// Options controls the door-alarm process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// StateFile overrides the durable state file from the settings.
	StateFile string
	// LogLevel overrides the log level from the settings.
	LogLevel string
	// Simulate replaces hardware lines with in-memory ones.
	Simulate bool
	// Backend replaces the line backend selected by the settings.
	Backend Backend
}

// Device is an assembled door alarm ready to run.
type Device struct {
	// cfg holds the effective settings.
	cfg *config.Config
	// backend provides every line.
	backend Backend
	// registry gathers process and alarm metrics.
	registry *prometheus.Registry
	// health reports component statuses.
	health *health.Server
	// controller owns the alarm state.
	controller *controller.Controller
	// bridge relays remote traffic.
	bridge *bridge.Bridge
	// reconciler re-reads the door sensor.
	reconciler *reconcile.Reconciler
}

// Run assembles the device and runs it until ctx is canceled or a fatal
// hardware error occurs.
func Run(ctx context.Context, opts *Options) error {
	d, err := New(ctx, opts)
	if err != nil {
		return err
	}

	return d.Run(ctx)
}

// New loads the settings, requests every line and wires the components.
// Edge handlers dispatch with ctx.
//
//nolint:funlen // Wiring reads top to bottom.
func New(ctx context.Context, opts *Options) (*Device, error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	if err = configureLogger(settings.Log); err != nil {
		return nil, err
	}

	// Set context with logger name for tracking.
	// Derived after configureLogger so the file sink is included.
	ctx = logger.WithName(ctx, "door-alarm")

	// Registry with the process collectors and the alarm metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := metrics.New(registry)
	healthServer := health.NewServer()

	backend := opts.Backend
	if backend == nil {
		backend = openBackend(ctx, settings.GPIO)
	}

	// Asynchronous output failures end the controller loop.
	faults := make(chan error, 1)

	outputs, err := buildOutputs(backend, settings.GPIO.Outputs, m, faults)
	if err != nil {
		return nil, closeOnError(ctx, backend, err)
	}

	window := input.WithWindow(settings.GPIO.Debounce)
	observer := input.WithObserver(m.ObserveEdge)

	door := input.New(inputDoorSensor, window, observer)

	reader, err := backend.Input(settings.GPIO.Inputs.DoorSensor, door.Edge)
	if err != nil {
		return nil, closeOnError(ctx, backend, fmt.Errorf("watch %s: %w", inputDoorSensor, err))
	}

	door.Bind(reader)

	// A nil interface keeps the bridge offline; a typed nil would not.
	var transport bridge.Transport
	if settings.MQTT.Enabled {
		transport = mqtt.New(settings.MQTT)
	}

	b := bridge.New(transport,
		bridge.WithMetrics(m),
		bridge.WithStatusHook(func(connected bool) {
			healthServer.SetServing(health.ServiceMQTT, connected)
		}),
	)

	ctrl, err := controller.New(
		controller.Deps{
			Repository:  repository.NewFileRepository(settings.StateFile),
			Broadcaster: b,
			Sensor:      door,
			Outputs:     outputs,
		},
		controller.WithDelays(settings.SirenTriggerOnDelay, settings.SirenOnDelay),
		controller.WithMetrics(m),
		controller.WithFaults(faults),
	)
	if err != nil {
		return nil, closeOnError(ctx, backend, err)
	}

	door.WatchRising(dispatcher(ctx, ctrl, controller.DoorClosed))
	door.WatchFalling(dispatcher(ctx, ctrl, controller.DoorOpened))

	for _, pin := range buttonPins(settings.GPIO.Inputs) {
		button := input.New(pin.name, window, observer)

		reader, err = backend.Input(pin.offset, button.Edge)
		if err != nil {
			return nil, closeOnError(ctx, backend, fmt.Errorf("watch %s: %w", pin.name, err))
		}

		button.Bind(reader)
		button.WatchRising(dispatcher(ctx, ctrl, buttonCommands[pin.name]))
	}

	logger.InfoKV(ctx, "Device assembled",
		"state_file", settings.StateFile,
		"simulate", settings.GPIO.Simulate,
		"mqtt_enabled", settings.MQTT.Enabled,
	)

	return &Device{
		cfg:        settings,
		backend:    backend,
		registry:   registry,
		health:     healthServer,
		controller: ctrl,
		bridge:     b,
		reconciler: reconcile.New(door, ctrl, settings.ReconcileInterval),
	}, nil
}

// Controller returns the alarm state controller.
func (d *Device) Controller() *controller.Controller {
	return d.controller
}

// Run initializes the controller and runs every component until ctx is done
// or one of them fails. Lines are released on return.
func (d *Device) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "door-alarm")

	defer func() {
		if err := d.backend.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to release lines", "error", err)
		}
	}()

	if err := d.controller.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize controller: %w", err)
	}

	d.health.SetServing(health.ServiceOverall, true)
	d.health.SetServing(health.ServiceController, true)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer func() {
			d.health.SetServing(health.ServiceController, false)
			d.health.SetServing(health.ServiceOverall, false)
		}()

		return d.controller.Run(gctx)
	})

	g.Go(func() error {
		return d.bridge.Run(gctx, d.controller)
	})

	g.Go(func() error {
		return d.reconciler.Run(gctx)
	})

	if address := d.cfg.HealthAddress; address != "" {
		g.Go(func() error {
			return d.health.Run(gctx, address)
		})
	}

	if address := d.cfg.MetricsAddress; address != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, address, d.registry)
		})
	}

	logger.Info(ctx, "Door alarm started")

	if err := g.Wait(); err != nil {
		logger.ErrorKV(ctx, "Door alarm stopped on failure", "error", err)

		return err
	}

	logger.Info(ctx, "Door alarm stopped")

	return nil
}

// loadSettings reads the settings file and applies command line overrides.
func loadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.StateFile != "" {
		settings.StateFile = opts.StateFile
	}

	if opts.LogLevel != "" {
		settings.Log.Level = opts.LogLevel
	}

	if opts.Simulate {
		settings.GPIO.Simulate = true
	}

	return settings, nil
}

// configureLogger installs the console and optional file logger.
func configureLogger(cfg config.LogConfig) error {
	level, ok := logger.ParseLogLevel(cfg.Level)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, cfg.Level)
	}

	logger.SetLogger(logger.NewWithFile(logger.AtomicLevel(), logger.FileSink{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}))
	logger.SetLevel(level)

	return nil
}

// buildOutputs requests every output line and wraps it in a pulse scheduler.
func buildOutputs(
	backend Backend,
	pins config.OutputPins,
	m *metrics.Metrics,
	faults chan<- error,
) (map[controller.Channel]controller.Driver, error) {
	report := func(err error) {
		select {
		case faults <- err:
		default:
		}
	}

	outputs := make(map[controller.Channel]controller.Driver, len(controller.Channels()))

	for _, pin := range outputPins(pins) {
		line, err := backend.Output(pin.offset)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", pin.channel, err)
		}

		name := pin.channel.String()

		outputs[pin.channel] = pulse.New(name, line,
			pulse.WithFaultHandler(report),
			pulse.WithPulseHook(func() { m.ObservePulse(name) }),
		)
	}

	return outputs, nil
}

// dispatcher returns an edge handler submitting cmd to the controller.
func dispatcher(ctx context.Context, ctrl *controller.Controller, cmd controller.Command) input.Handler {
	return func() {
		if err := ctrl.Dispatch(ctx, cmd); err != nil {
			logger.WarnKV(ctx, "Failed to dispatch command", "command", cmd.String(), "error", err)
		}
	}
}

func closeOnError(ctx context.Context, backend Backend, err error) error {
	if closeErr := backend.Close(); closeErr != nil {
		logger.WarnKV(ctx, "Failed to release lines", "error", closeErr)
	}

	return err
}
