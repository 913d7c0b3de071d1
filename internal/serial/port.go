// Package serial is the local side of the bridge: a byte stream with a
// non-blocking view of what has been received so far.
package serial

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
	goserial "go.bug.st/serial"

	"github.com/chaz8081/nusbridge/internal/config"
)

// Port buffers incoming bytes in a ring buffer filled by a pump goroutine,
// so Buffered and ReadByte never block on the device.
type Port struct {
	rw   io.ReadWriteCloser
	rb   *ringbuffer.RingBuffer
	done chan struct{}
	once sync.Once

	// wmu serialises writes; notifications arrive on driver goroutines.
	wmu sync.Mutex

	mu  sync.Mutex
	err error
}

// Open opens the configured serial device (8N1) or stdio.
func Open(cfg config.SerialConfig) (*Port, error) {
	if cfg.Port == config.StdioPort {
		return NewPort(stdio{in: os.Stdin, out: os.Stdout}, cfg.ReadBuffer), nil
	}

	mode := &goserial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}
	sp, err := goserial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Port, err)
	}
	return NewPort(sp, cfg.ReadBuffer), nil
}

// NewPort wraps rw and starts reading from it.
func NewPort(rw io.ReadWriteCloser, bufferSize int) *Port {
	p := &Port{
		rw:   rw,
		rb:   ringbuffer.New(bufferSize),
		done: make(chan struct{}),
	}
	go p.pump()
	return p
}

// Buffered returns the number of received bytes not yet read.
func (p *Port) Buffered() int {
	return p.rb.Length()
}

// ReadByte returns the oldest received byte.
func (p *Port) ReadByte() (byte, error) {
	return p.rb.ReadByte()
}

// Write sends p to the device. Safe for concurrent use.
func (p *Port) Write(data []byte) (int, error) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.rw.Write(data)
}

// Err returns the error that stopped the pump, if any.
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close stops the pump and closes the device.
func (p *Port) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.rw.Close()
	})
	return err
}

func (p *Port) pump() {
	buf := make([]byte, 256)
	for {
		n, err := p.rw.Read(buf)
		data := buf[:n]
		for len(data) > 0 {
			written, werr := p.rb.Write(data)
			data = data[written:]
			if werr == nil || len(data) == 0 {
				continue
			}
			// Full: wait for the bridge loop to drain.
			select {
			case <-p.done:
				return
			case <-time.After(time.Millisecond):
			}
		}
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			if !errors.Is(err, io.EOF) {
				slog.Warn("[SERIAL] read failed", "error", err)
			} else {
				slog.Info("[SERIAL] input closed")
			}
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
	}
}

// stdio joins stdin and stdout into one stream.
type stdio struct {
	in  io.ReadCloser
	out io.Writer
}

func (s stdio) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s stdio) Write(p []byte) (int, error) { return s.out.Write(p) }
func (s stdio) Close() error                { return s.in.Close() }
