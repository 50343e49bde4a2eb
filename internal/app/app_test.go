package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/creatiox/udots/internal/config"
	"github.com/creatiox/udots/internal/interval"
	"github.com/creatiox/udots/internal/sensors"
	"github.com/creatiox/udots/internal/ubidots"
)

type staged struct {
	label     string
	value     float64
	context   string
	timestamp uint32
}

type fakeClient struct {
	connected    bool
	connectOK    bool
	reconnectErr error
	publishErr   error

	handler    ubidots.MessageHandler
	reconnects int
	loops      int
	closed     bool
	staged     []staged
	published  [][]staged
	devices    []string
	subscribed []string
}

func (f *fakeClient) Begin(h ubidots.MessageHandler) { f.handler = h }
func (f *fakeClient) Connected() bool                { return f.connected }

func (f *fakeClient) Reconnect(context.Context) error {
	f.reconnects++
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.connected = f.connectOK
	return nil
}

func (f *fakeClient) Loop() bool {
	f.loops++
	return f.connected
}

func (f *fakeClient) AddTimestamped(label string, value float64, contextJSON string, ts uint32) {
	f.staged = append(f.staged, staged{label, value, contextJSON, ts})
}

func (f *fakeClient) Publish(_ context.Context, device string) error {
	f.published = append(f.published, f.staged)
	f.devices = append(f.devices, device)
	f.staged = nil
	return f.publishErr
}

func (f *fakeClient) Subscribe(_ context.Context, device, variable string) error {
	f.subscribed = append(f.subscribed, device+"/"+variable)
	return nil
}

func (f *fakeClient) Close(context.Context) error {
	f.closed = true
	return nil
}

type manualClock struct{ ms uint32 }

func (c *manualClock) Millis() uint32 { return c.ms }

func (c *manualClock) advance(d time.Duration) { c.ms += uint32(d.Milliseconds()) }

func testApp(t *testing.T, client *fakeClient, vars []Variable, opts Options) (*App, *manualClock, *bytes.Buffer) {
	t.Helper()
	clock := &manualClock{}
	var logs bytes.Buffer
	opts.Clock = clock
	opts.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if opts.Device == "" {
		opts.Device = "bench"
	}
	a := New(client, vars, opts)
	a.Setup()
	return a, clock, &logs
}

func staticVar(label string, v float64) Variable {
	s, _ := sensors.New(sensors.Static, v)
	return Variable{Label: label, Source: s}
}

func TestLoop_ReconnectWaitsForInterval(t *testing.T) {
	client := &fakeClient{connectOK: true}
	a, clock, _ := testApp(t, client, nil, Options{
		ReconnectInterval: 3 * time.Second,
		Subscriptions:     []string{"boton"},
	})
	ctx := context.Background()

	a.Loop(ctx)
	if client.reconnects != 0 {
		t.Fatalf("reconnected before interval: %d", client.reconnects)
	}

	clock.advance(3 * time.Second)
	a.Loop(ctx)
	if client.reconnects != 1 {
		t.Fatalf("reconnects = %d, want 1", client.reconnects)
	}
	if len(client.subscribed) != 1 || client.subscribed[0] != "bench/boton" {
		t.Errorf("subscribed = %v, want [bench/boton]", client.subscribed)
	}

	// Connected now: further passes neither reconnect nor resubscribe.
	clock.advance(10 * time.Second)
	a.Loop(ctx)
	if client.reconnects != 1 || len(client.subscribed) != 1 {
		t.Errorf("reconnects=%d subscribed=%v after connect", client.reconnects, client.subscribed)
	}
	if client.loops != 3 {
		t.Errorf("client Loop calls = %d, want 3", client.loops)
	}
}

func TestLoop_ReconnectFailureRetriesLater(t *testing.T) {
	client := &fakeClient{reconnectErr: errors.New("connection refused")}
	a, clock, logs := testApp(t, client, nil, Options{
		ReconnectInterval: 3 * time.Second,
		Subscriptions:     []string{"boton"},
	})
	ctx := context.Background()

	clock.advance(3 * time.Second)
	a.Loop(ctx)
	clock.advance(time.Second)
	a.Loop(ctx)
	if client.reconnects != 1 {
		t.Errorf("reconnects = %d, want 1 (timer restarted)", client.reconnects)
	}
	if len(client.subscribed) != 0 {
		t.Errorf("subscribed while disconnected: %v", client.subscribed)
	}
	if !strings.Contains(logs.String(), "ubidots reconnect failed") {
		t.Errorf("missing reconnect warning in %q", logs.String())
	}

	clock.advance(2 * time.Second)
	a.Loop(ctx)
	if client.reconnects != 2 {
		t.Errorf("reconnects = %d, want 2", client.reconnects)
	}
}

func TestLoop_PublishesOnInterval(t *testing.T) {
	client := &fakeClient{connected: true}
	vars := []Variable{staticVar("pot", 2048), staticVar("gps", 1)}
	vars[1].Context = ubidots.LocationContext(-33.023034, -71.5464)

	a, clock, _ := testApp(t, client, vars, Options{PublishInterval: 10 * time.Second})
	ctx := context.Background()

	clock.advance(9999 * time.Millisecond)
	a.Loop(ctx)
	if len(client.published) != 0 {
		t.Fatal("published before interval")
	}

	clock.advance(time.Millisecond)
	a.Loop(ctx)
	if len(client.published) != 1 {
		t.Fatalf("published %d times, want 1", len(client.published))
	}
	got := client.published[0]
	if len(got) != 2 || got[0].label != "pot" || got[0].value != 2048 || got[1].label != "gps" {
		t.Errorf("published records = %+v", got)
	}
	if got[1].context != `"lat": -33.023034, "lng": -71.546400` {
		t.Errorf("gps context = %q", got[1].context)
	}
	if got[0].timestamp != 0 {
		t.Errorf("timestamp = %d, want 0 with timestamps off", got[0].timestamp)
	}
	if client.devices[0] != "bench" {
		t.Errorf("device = %q, want bench", client.devices[0])
	}

	a.Loop(ctx)
	if len(client.published) != 1 {
		t.Error("published again without waiting for the interval")
	}
}

func TestLoop_NoPublishWhileDisconnected(t *testing.T) {
	client := &fakeClient{reconnectErr: errors.New("down")}
	a, clock, _ := testApp(t, client, []Variable{staticVar("pot", 1)}, Options{
		PublishInterval: time.Second,
	})

	clock.advance(5 * time.Second)
	a.Loop(context.Background())
	if len(client.published) != 0 || len(client.staged) != 0 {
		t.Errorf("published=%v staged=%v while disconnected", client.published, client.staged)
	}
}

func TestLoop_Timestamps(t *testing.T) {
	client := &fakeClient{connected: true}
	a, clock, _ := testApp(t, client, []Variable{staticVar("pot", 1)}, Options{
		PublishInterval: time.Second,
		Timestamps:      true,
		Now:             func() time.Time { return time.Unix(1700000000, 0) },
	})

	clock.advance(time.Second)
	a.Loop(context.Background())
	if ts := client.published[0][0].timestamp; ts != 1700000000 {
		t.Errorf("timestamp = %d, want 1700000000", ts)
	}
}

func TestLoop_SensorFailureSkipsCycle(t *testing.T) {
	client := &fakeClient{connected: true}
	fail := Variable{Label: "temperatura", Source: sensors.SourceFunc(func(context.Context) (float64, error) {
		return 0, errors.New("dht timeout")
	})}
	a, clock, logs := testApp(t, client, []Variable{staticVar("pot", 1), fail}, Options{
		PublishInterval: time.Second,
	})
	ctx := context.Background()

	clock.advance(time.Second)
	a.Loop(ctx)
	if len(client.published) != 0 || len(client.staged) != 0 {
		t.Errorf("published=%v staged=%v after sensor failure", client.published, client.staged)
	}
	if !strings.Contains(logs.String(), "sensor read failed") {
		t.Errorf("missing sensor warning in %q", logs.String())
	}

	// The send timer restarts even when the cycle is skipped.
	a.Loop(ctx)
	if strings.Count(logs.String(), "sensor read failed") != 1 {
		t.Error("retried the skipped cycle before the interval")
	}
}

func TestLoop_PublishErrorLogged(t *testing.T) {
	client := &fakeClient{connected: true, publishErr: ubidots.ErrNotConnected}
	a, clock, logs := testApp(t, client, []Variable{staticVar("pot", 1)}, Options{
		PublishInterval: time.Second,
	})

	clock.advance(time.Second)
	a.Loop(context.Background())
	if !strings.Contains(logs.String(), "ubidots publish failed") {
		t.Errorf("missing publish warning in %q", logs.String())
	}
}

func TestLoop_ReadIntervalLogsLocally(t *testing.T) {
	client := &fakeClient{}
	a, clock, logs := testApp(t, client, []Variable{staticVar("pot", 7)}, Options{
		ReadInterval:      500 * time.Millisecond,
		ReconnectInterval: time.Hour,
	})

	clock.advance(500 * time.Millisecond)
	a.Loop(context.Background())
	if !strings.Contains(logs.String(), "local readings") || !strings.Contains(logs.String(), "pot=7") {
		t.Errorf("missing local readings in %q", logs.String())
	}
}

func TestHandleMessage(t *testing.T) {
	client := &fakeClient{}
	var display bytes.Buffer
	a, _, logs := testApp(t, client, nil, Options{
		Subscriptions: []string{"input_1", "input_2"},
		Display:       &display,
	})

	client.handler("/v1.6/devices/bench/input_2/lv", []byte("100"))

	if v, _ := a.Panel().Value("input_2"); v != "100" {
		t.Errorf("panel input_2 = %q, want 100", v)
	}
	want := "input_1:        \ninput_2:     100\n\n"
	if display.String() != want {
		t.Errorf("display = %q, want %q", display.String(), want)
	}
	if !strings.Contains(logs.String(), "value received") {
		t.Errorf("missing receive log in %q", logs.String())
	}
}

func TestHandleMessage_Ignored(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		log     string
	}{
		{"unexpected topic", "/v1.6/devices/bench", "1", "unexpected topic"},
		{"bad payload", "/v1.6/devices/bench/boton/lv", "on", "unparsable value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			var display bytes.Buffer
			_, _, logs := testApp(t, client, nil, Options{Display: &display})

			client.handler(tt.topic, []byte(tt.payload))
			if display.Len() != 0 {
				t.Errorf("display written: %q", display.String())
			}
			if !strings.Contains(logs.String(), tt.log) {
				t.Errorf("log %q missing %q", logs.String(), tt.log)
			}
		})
	}
}

func TestRun_ClosesOnCancel(t *testing.T) {
	client := &fakeClient{connected: true}
	a := New(client, nil, Options{
		PollInterval: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !client.closed {
		t.Error("client not closed")
	}
	if client.handler == nil {
		t.Error("Run did not call Setup")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ubidots.Token = "x"
	cfg.Display = true
	cfg.Variables = []config.VariableConfig{
		{Label: "pot", Source: "counter", Value: 3},
		{Label: "gps", Source: "static", Location: &config.LocationConfig{Lat: 1, Lng: 2}},
	}

	var display bytes.Buffer
	a, err := FromConfig(cfg, &fakeClient{}, &display, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.vars) != 2 || a.vars[1].Context != `"lat": 1.000000, "lng": 2.000000` {
		t.Errorf("vars = %+v", a.vars)
	}
	if a.opts.Display != &display {
		t.Error("display not wired when enabled")
	}
	if a.opts.PublishInterval != 10*time.Second {
		t.Errorf("PublishInterval = %v", a.opts.PublishInterval)
	}

	cfg.Variables[0].Source = "dht11"
	if _, err := FromConfig(cfg, &fakeClient{}, nil, nil); err == nil {
		t.Error("FromConfig should reject unknown sources")
	}
}

var _ interval.Clock = (*manualClock)(nil)
var _ Client = (*ubidots.Client)(nil)
