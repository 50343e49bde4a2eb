// Package sensors reads the values udots publishes. On a host there is
// no DHT probe, ultrasonic ranger or potentiometer, so the built-in
// sources read host metrics through gopsutil instead; a static source
// covers fixed values such as a device's position marker.
package sensors

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Source produces one reading per call.
type Source interface {
	Read(ctx context.Context) (float64, error)
}

// SourceFunc adapts a function to [Source].
type SourceFunc func(ctx context.Context) (float64, error)

// Read calls f.
func (f SourceFunc) Read(ctx context.Context) (float64, error) { return f(ctx) }

// Built-in source names.
const (
	CPU         = "cpu"
	Memory      = "memory"
	Load        = "load"
	Temperature = "temperature"
	Uptime      = "uptime"
	Static      = "static"
	Counter     = "counter"
)

var builtins = map[string]func(value float64) Source{
	CPU:         func(float64) Source { return SourceFunc(readCPU) },
	Memory:      func(float64) Source { return SourceFunc(readMemory) },
	Load:        func(float64) Source { return SourceFunc(readLoad) },
	Temperature: func(float64) Source { return SourceFunc(readTemperature) },
	Uptime:      func(float64) Source { return SourceFunc(readUptime) },
	Static:      func(v float64) Source { return staticSource(v) },
	Counter:     func(v float64) Source { return &counterSource{next: v} },
}

// Known reports whether name is a built-in source.
func Known(name string) bool {
	_, ok := builtins[strings.ToLower(name)]
	return ok
}

// Names returns the built-in source names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New returns the built-in source called name. value is the fixed
// reading for "static" and the starting point for "counter"; other
// sources ignore it.
func New(name string, value float64) (Source, error) {
	build, ok := builtins[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown sensor source %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
	return build(value), nil
}

// ReadOrNaN reads s and folds any error into NaN, the "no reading"
// marker callers check with [math.IsNaN].
func ReadOrNaN(ctx context.Context, s Source) (float64, error) {
	v, err := s.Read(ctx)
	if err != nil {
		return math.NaN(), err
	}
	return v, nil
}

type staticSource float64

func (s staticSource) Read(context.Context) (float64, error) { return float64(s), nil }

// counterSource returns next, next+1, ... on successive reads.
type counterSource struct {
	mu   sync.Mutex
	next float64
}

func (c *counterSource) Read(context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.next
	c.next++
	return v, nil
}

func readCPU(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("read cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("read cpu percent: no data")
	}
	return pct[0], nil
}

func readMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory: %w", err)
	}
	return vm.UsedPercent, nil
}

func readLoad(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read load average: %w", err)
	}
	return avg.Load1, nil
}

// readTemperature returns the first sensor reporting a positive
// temperature. gopsutil may return partial results alongside an error
// (unreadable sensors); those results are still used.
func readTemperature(ctx context.Context) (float64, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	for _, t := range temps {
		if t.Temperature > 0 {
			return t.Temperature, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("read temperature sensors: %w", err)
	}
	return 0, fmt.Errorf("read temperature sensors: none available")
}

func readUptime(ctx context.Context) (float64, error) {
	secs, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read uptime: %w", err)
	}
	return float64(secs), nil
}
