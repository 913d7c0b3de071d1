package status

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SysfsLED drives a Linux LED class device through its brightness file.
type SysfsLED struct {
	path string
}

// NewSysfsLED accepts either an LED name under /sys/class/leds or a full
// path to a brightness file.
func NewSysfsLED(name string) *SysfsLED {
	path := name
	if !strings.ContainsRune(name, os.PathSeparator) {
		path = filepath.Join("/sys/class/leds", name, "brightness")
	}
	return &SysfsLED{path: path}
}

// Path returns the brightness file written by Set.
func (l *SysfsLED) Path() string {
	return l.path
}

func (l *SysfsLED) Set(on bool) error {
	value := "0\n"
	if on {
		value = "1\n"
	}
	if err := os.WriteFile(l.path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("status: write %s: %w", l.path, err)
	}
	return nil
}

// LogLED reports level changes through slog, for hosts without an LED.
type LogLED struct {
	on    bool
	known bool
}

func (l *LogLED) Set(on bool) error {
	if l.known && l.on == on {
		return nil
	}
	l.on, l.known = on, true
	slog.Debug("[LED] level changed", "on", on)
	return nil
}

// NewLED returns a SysfsLED for a non-empty name and a LogLED otherwise.
func NewLED(name string) LED {
	if name == "" {
		return &LogLED{}
	}
	led := NewSysfsLED(name)
	slog.Debug("[LED] using sysfs LED", "path", led.Path())
	return led
}
