// Command nusbridge relays a local serial stream to the first BLE peripheral
// found advertising the Nordic UART Service, and relays its notifications back.
//
// Usage:
//
//	nusbridge [run] [--port /dev/ttyUSB0] [--baud 115200]
//	nusbridge scan [--timeout 5s]
//	nusbridge init-config
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/chaz8081/nusbridge/internal/ble"
	"github.com/chaz8081/nusbridge/internal/bridge"
	"github.com/chaz8081/nusbridge/internal/config"
	"github.com/chaz8081/nusbridge/internal/serial"
	"github.com/chaz8081/nusbridge/internal/status"
)

var cli struct {
	Config  string `help:"Path to config file (default: ~/.config/nusbridge/config.yaml)." short:"c"`
	Verbose bool   `help:"Enable debug logging." short:"v"`

	Run struct {
		Port string `help:"Serial device, or - for stdin/stdout. Overrides serial.port."`
		Baud int    `help:"Serial baud rate. Overrides serial.baud."`
	} `cmd:"" default:"1" help:"Bridge the serial port to the first peer advertising the UART service."`

	Scan struct {
		Timeout time.Duration `help:"How long to scan." default:"5s"`
	} `cmd:"" help:"List nearby peers advertising the UART service."`

	InitConfig struct{} `cmd:"" help:"Write the default config file if none exists."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("nusbridge"),
		kong.Description("Serial to BLE UART bridge."),
		kong.UsageOnError(),
	)

	if kctx.Command() == "init-config" {
		path := cli.Config
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if err := config.WriteDefault(path); err != nil {
			log.Fatalf("config: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Config at %s\n", path)
		return
	}

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cli.Run.Port != "" {
		cfg.Serial.Port = cli.Run.Port
	}
	if cli.Run.Baud > 0 {
		cfg.Serial.Baud = cli.Run.Baud
	}
	if cli.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	// Logs go to stderr: stdout carries bridge data in stdio mode.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "scan":
		err = runScan(ctx, cfg, cli.Scan.Timeout)
	default:
		err = runBridge(ctx, cfg)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func runBridge(ctx context.Context, cfg *config.Config) error {
	printBanner(cfg)

	adapter, err := ble.NewDefaultAdapter()
	if err != nil {
		return err
	}

	port, err := serial.Open(cfg.Serial)
	if err != nil {
		return err
	}
	defer port.Close()

	indicator := status.NewIndicator(status.NewLED(cfg.Status.LED), cfg.Status.BlinkPeriod)
	b := bridge.New(adapter, port, indicator, bridgeOptions(cfg))

	slog.Info("Bridge running. Ctrl+C to quit.")
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Goodbye!")
	return nil
}

func runScan(ctx context.Context, cfg *config.Config, timeout time.Duration) error {
	adapter, err := ble.NewDefaultAdapter()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Scanning for %s ...\n", timeout)
	devices, err := ble.ScanForDevices(ctx, adapter, scanParams(cfg), timeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No UART peers found.")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%s  %-6s  %4d dBm  %s\n", d.Address, d.Address.Kind, d.RSSI, d.Name)
	}
	return nil
}

func scanParams(cfg *config.Config) ble.ScanParams {
	return ble.ScanParams{
		Interval: cfg.BLE.ScanInterval,
		Window:   cfg.BLE.ScanWindow,
		Active:   cfg.BLE.ActiveScan,
	}
}

func bridgeOptions(cfg *config.Config) bridge.Options {
	return bridge.Options{
		BufferSize:   cfg.Bridge.BufferSize,
		PreferredMTU: cfg.BLE.PreferredMTU,
		IdleFlush:    cfg.Bridge.IdleFlush,
		PollInterval: cfg.Bridge.PollInterval,
		SettleDelay:  cfg.BLE.SettleDelay,
		BackoffMax:   cfg.BLE.RescanBackoffMax,
		Scan:         scanParams(cfg),
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary on stderr.
func printBanner(cfg *config.Config) {
	led := cfg.Status.LED
	if led == "" {
		led = "(log only)"
	}
	fmt.Fprintln(os.Stderr, "=== nusbridge ===")
	fmt.Fprintf(os.Stderr, "  Device:  %s\n", cfg.DeviceName)
	fmt.Fprintf(os.Stderr, "  Serial:  %s @ %d baud\n", cfg.Serial.Port, cfg.Serial.Baud)
	fmt.Fprintf(os.Stderr, "  Service: %s\n", ble.ServiceUUID)
	fmt.Fprintf(os.Stderr, "  Framing: %d bytes, MTU %d, idle flush %s\n", cfg.Bridge.BufferSize, cfg.BLE.PreferredMTU, cfg.Bridge.IdleFlush)
	fmt.Fprintf(os.Stderr, "  LED:     %s (blink %s)\n", led, cfg.Status.BlinkPeriod)
	fmt.Fprintf(os.Stderr, "  Log:     %s\n", cfg.LogLevel)
	fmt.Fprintln(os.Stderr, "=================")
}
