// Udots publishes host readings to Ubidots over MQTT and follows the
// last value of subscribed variables.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	udots run                       Run the publish/subscribe loop
//	udots publish label=value ...   Publish values once and exit
//	udots init [dir]                Write an example udots.yaml
//	udots version                   Print version and build information
//	udots -o json version           Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creatiox/udots/internal/app"
	"github.com/creatiox/udots/internal/buildinfo"
	"github.com/creatiox/udots/internal/config"
	"github.com/creatiox/udots/internal/ubidots"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the entry point with OS dependencies injected. Logs go to
// stdout; the caller prints the returned error to stderr. Arguments are
// parsed by hand so tests can call run concurrently.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command == "" {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
			cmdArgs = append(cmdArgs, args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "run":
		return runLoop(ctx, stdout, configPath)
	case "publish":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: udots publish label=value [label=value ...]")
		}
		return runPublish(ctx, stdout, configPath, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "udots - Ubidots MQTT telemetry publisher")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: udots [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run                      Publish readings and follow subscriptions until interrupted")
	fmt.Fprintln(w, "  publish label=value ...  Publish up to 5 values once and exit")
	fmt.Fprintln(w, "  init [dir]               Write an example udots.yaml (default: .)")
	fmt.Fprintln(w, "  version                  Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./udots.yaml, ~/.config/udots/udots.yaml, /etc/udots/udots.yaml")
	return nil
}

// runLoop handles "udots run". It exits cleanly on SIGINT or SIGTERM.
func runLoop(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := configLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting udots", "version", buildinfo.Version, "config", cfgPath)

	client, err := ubidots.New(cfg.Ubidots.Client(), logger)
	if err != nil {
		return err
	}
	logger.Info("ubidots client ready", "broker", cfg.Ubidots.Broker, "client", client.Name())

	a, err := app.FromConfig(cfg, client, stdout, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Info("udots stopped", "uptime", buildinfo.Uptime())
	return nil
}

// reading is one label=value argument to "udots publish".
type reading struct {
	label string
	value float64
}

// parseReadings parses label=value arguments.
func parseReadings(args []string) ([]reading, error) {
	if len(args) > ubidots.MaxValues {
		return nil, fmt.Errorf("%d values given, at most %d fit in one publish", len(args), ubidots.MaxValues)
	}
	out := make([]reading, 0, len(args))
	for _, arg := range args {
		label, raw, ok := strings.Cut(arg, "=")
		if !ok || label == "" {
			return nil, fmt.Errorf("invalid reading %q: want label=value", arg)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", label, err)
		}
		out = append(out, reading{label: label, value: v})
	}
	return out, nil
}

// runPublish handles "udots publish": connect, publish one batch and
// disconnect.
func runPublish(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	readings, err := parseReadings(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := configLogger(stdout, cfg)
	if err != nil {
		return err
	}

	client, err := ubidots.New(cfg.Ubidots.Client(), logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := client.Reconnect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Ubidots.Broker, err)
	}
	defer func() {
		if err := client.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Debug("ubidots close failed", "error", err)
		}
	}()

	var ts uint32
	if cfg.Timestamps {
		ts = uint32(time.Now().Unix())
	}
	for _, r := range readings {
		client.AddTimestamped(r.label, r.value, "", ts)
	}
	if err := client.Publish(ctx, cfg.Device); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	logger.Info("data sent", "device", cfg.Device, "values", len(readings))
	return nil
}

// configLogger validates cfg and builds the logger it describes.
func configLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := config.ParseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(w, level, format), nil
}

// loadConfig locates and parses the YAML configuration file. Returns the
// parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
