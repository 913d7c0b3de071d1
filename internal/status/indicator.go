// Package status drives the on/off status LED from connection state:
// steady on while connecting, blinking while searching, off when connected.
package status

import (
	"log/slog"
	"sync"
	"time"
)

// Mode is the signal currently shown.
type Mode int

const (
	ModeOff Mode = iota
	ModeOn
	ModeBlink
)

func (m Mode) String() string {
	switch m {
	case ModeOn:
		return "on"
	case ModeBlink:
		return "blink"
	default:
		return "off"
	}
}

// LED is a single on/off output.
type LED interface {
	Set(on bool) error
}

// Indicator schedules an LED. It is driven from the bridge loop with the
// loop's sampled timestamp; it never reads the clock itself.
type Indicator struct {
	led    LED
	period time.Duration

	mu         sync.Mutex
	mode       Mode
	lit        bool
	lastToggle time.Time
}

// NewIndicator returns an indicator that starts off.
func NewIndicator(led LED, period time.Duration) *Indicator {
	ind := &Indicator{led: led, period: period}
	ind.write(false)
	return ind
}

// On shows a steady light.
func (i *Indicator) On(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.mode = ModeOn
	i.lastToggle = now
	i.write(true)
}

// Off turns the light off and restarts the blink schedule from now.
func (i *Indicator) Off(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.mode = ModeOff
	i.lastToggle = now
	i.write(false)
}

// Blink starts toggling every period, beginning from the current level.
// Calling Blink while already blinking keeps the schedule.
func (i *Indicator) Blink(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.mode == ModeBlink {
		return
	}
	i.mode = ModeBlink
	i.lastToggle = now
}

// Tick advances the blink schedule.
func (i *Indicator) Tick(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.mode != ModeBlink || now.Sub(i.lastToggle) <= i.period {
		return
	}
	i.lastToggle = now
	i.write(!i.lit)
}

// Mode returns the current mode.
func (i *Indicator) Mode() Mode {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mode
}

// Lit reports whether the LED is currently on.
func (i *Indicator) Lit() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lit
}

// write sets the LED (caller must hold mu, except from the constructor).
func (i *Indicator) write(on bool) {
	i.lit = on
	if i.led == nil {
		return
	}
	if err := i.led.Set(on); err != nil {
		slog.Debug("[LED] set failed", "error", err)
	}
}
