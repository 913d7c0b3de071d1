package serial

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"
)

// pipeDevice feeds reads from a pipe and records writes.
type pipeDevice struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu  sync.Mutex
	out bytes.Buffer
}

func newPipeDevice() *pipeDevice {
	r, w := io.Pipe()
	return &pipeDevice{r: r, w: w}
}

func (d *pipeDevice) Read(p []byte) (int, error) { return d.r.Read(p) }

func (d *pipeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.Write(p)
}

func (d *pipeDevice) Close() error { return d.r.Close() }

func (d *pipeDevice) written() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.String()
}

func waitBuffered(t *testing.T, p *Port, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for p.Buffered() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Buffered() = %d, want %d", p.Buffered(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPortBuffersIncomingBytes(t *testing.T) {
	dev := newPipeDevice()
	port := NewPort(dev, 64)
	defer port.Close()

	if port.Buffered() != 0 {
		t.Fatalf("Buffered() = %d before any input, want 0", port.Buffered())
	}

	go dev.w.Write([]byte("AB\r"))
	waitBuffered(t, port, 3)

	var got []byte
	for port.Buffered() > 0 {
		b, err := port.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte() error = %v", err)
		}
		got = append(got, b)
	}
	if string(got) != "AB\r" {
		t.Errorf("read %q, want %q", got, "AB\r")
	}
}

func TestPortWaitsWhenBufferFull(t *testing.T) {
	dev := newPipeDevice()
	port := NewPort(dev, 4)
	defer port.Close()

	go dev.w.Write([]byte("0123456789"))
	waitBuffered(t, port, 4)

	var got []byte
	deadline := time.Now().Add(time.Second)
	for len(got) < 10 && time.Now().Before(deadline) {
		for port.Buffered() > 0 {
			b, err := port.ReadByte()
			if err != nil {
				t.Fatalf("ReadByte() error = %v", err)
			}
			got = append(got, b)
		}
		time.Sleep(time.Millisecond)
	}
	if string(got) != "0123456789" {
		t.Errorf("read %q, want %q", got, "0123456789")
	}
}

func TestPortWrite(t *testing.T) {
	dev := newPipeDevice()
	port := NewPort(dev, 16)
	defer port.Close()

	if _, err := port.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if dev.written() != "hello" {
		t.Errorf("device got %q, want %q", dev.written(), "hello")
	}
}

func TestPortRecordsEOF(t *testing.T) {
	dev := newPipeDevice()
	port := NewPort(dev, 16)
	defer port.Close()

	dev.w.Close()
	deadline := time.Now().Add(time.Second)
	for port.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Err() should report EOF after input closes")
		}
		time.Sleep(time.Millisecond)
	}
	if port.Err() != io.EOF {
		t.Errorf("Err() = %v, want io.EOF", port.Err())
	}
}
