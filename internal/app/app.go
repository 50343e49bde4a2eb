// Package app runs the udots polling loop: it keeps the Ubidots session
// alive, publishes sensor readings on a fixed cadence and shows
// subscribed values on a text panel.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/creatiox/udots/internal/config"
	"github.com/creatiox/udots/internal/interval"
	"github.com/creatiox/udots/internal/sensors"
	"github.com/creatiox/udots/internal/ubidots"
)

// Client is the subset of [ubidots.Client] the loop drives.
type Client interface {
	Begin(handler ubidots.MessageHandler)
	Connected() bool
	Reconnect(ctx context.Context) error
	Loop() bool
	AddTimestamped(label string, value float64, contextJSON string, timestamp uint32)
	Publish(ctx context.Context, device string) error
	Subscribe(ctx context.Context, device, variable string) error
	Close(ctx context.Context) error
}

// Variable is one published reading.
type Variable struct {
	Label   string
	Context string
	Source  sensors.Source
}

// Options control loop cadence and output. Zero intervals take the
// defaults from [config.Default]; a zero ReadInterval disables local
// reading logs.
type Options struct {
	Device            string
	PublishInterval   time.Duration
	ReconnectInterval time.Duration
	ReadInterval      time.Duration
	PollInterval      time.Duration

	// Timestamps attaches Now().Unix() to every reading.
	Timestamps    bool
	Subscriptions []string

	// Display receives the rendered panel after each inbound value.
	// Nil disables rendering.
	Display io.Writer

	Clock  interval.Clock
	Now    func() time.Time
	Logger *slog.Logger
}

// App holds everything the loop needs between passes.
type App struct {
	client Client
	vars   []Variable
	opts   Options
	logger *slog.Logger

	send      *interval.Timer
	reconnect *interval.Timer
	read      *interval.Timer

	panel *Panel
}

// New creates an App. Call [App.Setup] before the first [App.Loop], or
// use [App.Run].
func New(client Client, vars []Variable, opts Options) *App {
	d := config.Default()
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = time.Duration(d.PublishIntervalMs) * time.Millisecond
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = time.Duration(d.ReconnectIntervalMs) * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Duration(d.PollIntervalMs) * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &App{
		client:    client,
		vars:      vars,
		opts:      opts,
		logger:    logger,
		send:      interval.New(opts.Clock),
		reconnect: interval.New(opts.Clock),
		read:      interval.New(opts.Clock),
		panel:     NewPanel(opts.Subscriptions),
	}
}

// FromConfig builds the variables and options described by cfg.
func FromConfig(cfg *config.Config, client Client, display io.Writer, logger *slog.Logger) (*App, error) {
	vars := make([]Variable, 0, len(cfg.Variables))
	for _, vc := range cfg.Variables {
		src, err := sensors.New(vc.Source, vc.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", vc.Label, err)
		}
		vars = append(vars, Variable{Label: vc.Label, Context: vc.ContextFragment(), Source: src})
	}

	opts := Options{
		Device:            cfg.Device,
		PublishInterval:   cfg.PublishInterval(),
		ReconnectInterval: cfg.ReconnectInterval(),
		ReadInterval:      cfg.ReadInterval(),
		PollInterval:      cfg.PollInterval(),
		Timestamps:        cfg.Timestamps,
		Subscriptions:     cfg.Subscriptions,
		Logger:            logger,
	}
	if cfg.Display {
		opts.Display = display
	}
	return New(client, vars, opts), nil
}

// Panel returns the subscribed-value panel.
func (a *App) Panel() *Panel { return a.panel }

// Setup arms the timers and registers the inbound handler.
func (a *App) Setup() {
	a.send.Start(a.opts.PublishInterval)
	a.reconnect.Start(a.opts.ReconnectInterval)
	if a.opts.ReadInterval > 0 {
		a.read.Start(a.opts.ReadInterval)
	}
	a.client.Begin(a.handleMessage)

	a.logger.Info("udots loop ready",
		"device", a.opts.Device,
		"variables", len(a.vars),
		"subscriptions", len(a.opts.Subscriptions),
		"publish_interval", a.opts.PublishInterval,
		"reconnect_interval", a.opts.ReconnectInterval)
}

// Loop runs one non-blocking pass. Network calls made during the pass
// block until they finish or ctx expires.
func (a *App) Loop(ctx context.Context) {
	if !a.client.Connected() && a.reconnect.Elapsed() {
		if err := a.client.Reconnect(ctx); err != nil {
			a.logger.Warn("ubidots reconnect failed", "error", err,
				"retry_in", a.opts.ReconnectInterval)
		}
		a.reconnect.Restart()

		if a.client.Connected() {
			a.subscribeAll(ctx)
		}
	}

	if a.client.Connected() && a.send.Elapsed() {
		a.publish(ctx)
		a.send.Restart()
	}

	if a.opts.ReadInterval > 0 && a.read.Elapsed() {
		a.logReadings(ctx)
		a.read.Restart()
	}

	a.client.Loop()
}

// Run calls Setup and then Loop every PollInterval until ctx is
// cancelled. The session is closed before returning.
func (a *App) Run(ctx context.Context) error {
	a.Setup()

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		a.Loop(ctx)

		select {
		case <-ctx.Done():
			a.logger.Info("udots loop stopping")
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := a.client.Close(closeCtx); err != nil {
				a.logger.Debug("ubidots close failed", "error", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}

func (a *App) subscribeAll(ctx context.Context) {
	for _, v := range a.opts.Subscriptions {
		if err := a.client.Subscribe(ctx, a.opts.Device, v); err != nil {
			a.logger.Warn("ubidots subscribe failed", "variable", v, "error", err)
			continue
		}
		a.logger.Debug("ubidots subscribed", "device", a.opts.Device, "variable", v)
	}
}

// readAll reads every variable. ok is false if any source failed.
func (a *App) readAll(ctx context.Context) (values []float64, ok bool) {
	values = make([]float64, len(a.vars))
	ok = true
	for i, v := range a.vars {
		val, err := sensors.ReadOrNaN(ctx, v.Source)
		if err != nil {
			a.logger.Debug("sensor read error", "label", v.Label, "error", err)
		}
		if math.IsNaN(val) {
			ok = false
		}
		values[i] = val
	}
	return values, ok
}

func (a *App) publish(ctx context.Context) {
	if len(a.vars) == 0 {
		return
	}

	values, ok := a.readAll(ctx)
	if !ok {
		a.logger.Warn("sensor read failed, skipping publish")
		return
	}

	var ts uint32
	if a.opts.Timestamps {
		ts = uint32(a.opts.Now().Unix())
	}
	for i, v := range a.vars {
		a.client.AddTimestamped(v.Label, values[i], v.Context, ts)
	}

	a.logger.Info("sending data", "device", a.opts.Device, "values", len(values))
	if err := a.client.Publish(ctx, a.opts.Device); err != nil && !errors.Is(err, ubidots.ErrEmptyBuffer) {
		a.logger.Warn("ubidots publish failed", "error", err)
		return
	}
	a.logger.Info("data sent", "device", a.opts.Device)
}

func (a *App) logReadings(ctx context.Context) {
	values, _ := a.readAll(ctx)
	attrs := make([]any, 0, 2*len(values))
	for i, v := range a.vars {
		attrs = append(attrs, v.Label, values[i])
	}
	a.logger.Info("local readings", attrs...)
}

func (a *App) handleMessage(topic string, payload []byte) {
	_, variable, ok := ubidots.VariableFromTopic(topic)
	if !ok {
		a.logger.Debug("ignoring message on unexpected topic", "topic", topic)
		return
	}

	value, err := ubidots.ParseValue(payload)
	if err != nil {
		a.logger.Warn("ignoring unparsable value", "variable", variable, "error", err)
		return
	}

	a.logger.Info("value received", "variable", variable, "value", value)
	a.panel.Set(variable, value)

	if a.opts.Display != nil {
		if err := a.panel.Render(a.opts.Display); err != nil {
			a.logger.Debug("panel render failed", "error", err)
		}
	}
}
