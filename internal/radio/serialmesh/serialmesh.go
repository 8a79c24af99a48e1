// Package serialmesh drives a mesh radio module attached over a serial port.
// Frames use the stream framing 0x94 0xC3 <len hi> <len lo> <frame>.
package serialmesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
)

const (
	start1     = 0x94
	start2     = 0xC3
	headerSize = 4
	maxFrame   = 512

	// consecutive read errors tolerated before the reader gives up
	maxReadErrors = 8
	maxRetryDelay = 5 * time.Second
)

// Open opens the serial device at path
func Open(path string, baudRate int) (*Mesh, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}

	return New(port), nil
}

// Mesh implements radio.MeshTransceiver over a byte stream
type Mesh struct {
	port       io.ReadWriteCloser
	rx         *radio.FrameBuffer
	retryDelay time.Duration

	writeMu   sync.Mutex
	once      sync.Once
	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// New wraps an open port
func New(port io.ReadWriteCloser) *Mesh {
	return &Mesh{
		port:       port,
		rx:         radio.NewFrameBuffer(32),
		retryDelay: 100 * time.Millisecond,
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Begin starts the frame reader
func (m *Mesh) Begin() error {
	started := false
	m.once.Do(func() {
		started = true
		go m.readLoop()
	})
	if !started {
		return errors.New("serial mesh already started")
	}
	return nil
}

// Done is closed when the reader exits
func (m *Mesh) Done() <-chan struct{} {
	return m.done
}

// Err returns why the reader gave up, or nil if it stopped because the
// port was closed or reached EOF
func (m *Mesh) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

func (m *Mesh) readLoop() {
	defer close(m.done)

	r := bufio.NewReader(m.port)
	failures := 0
	for {
		frame, err := readFrame(r)
		if err == nil {
			failures = 0
			m.rx.Push(frame)
			continue
		}

		if m.stopped(err) {
			log.Info().Msg("Serial mesh reader stopped")
			return
		}

		failures++
		if failures >= maxReadErrors {
			m.errMu.Lock()
			m.err = fmt.Errorf("serial read failed %d times: %w", failures, err)
			m.errMu.Unlock()
			log.Error().
				Err(err).
				Int("failures", failures).
				Msg("Serial mesh reader giving up")
			return
		}

		delay := m.retryDelay << (failures - 1)
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		log.Warn().
			Err(err).
			Int("failures", failures).
			Dur("retryIn", delay).
			Msg("Serial mesh read failed")

		select {
		case <-m.closing:
			return
		case <-time.After(delay):
		}
	}
}

// stopped reports whether err means the port is gone for good
func (m *Mesh) stopped(err error) bool {
	select {
	case <-m.closing:
		return true
	default:
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var portErr *serial.PortError
	return errors.As(err, &portErr) && portErr.Code() == serial.PortClosed
}

// readFrame scans for the start bytes and returns the next frame body
func readFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start1 {
			continue
		}

		b, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start2 {
			if b == start1 {
				_ = r.UnreadByte()
			}
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n == 0 || n > maxFrame {
			log.Warn().Int("length", n).Msg("Discarding serial frame with invalid length")
			continue
		}

		frame := make([]byte, n)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

func (m *Mesh) Available() bool { return m.rx.Signal().Take() }

func (m *Mesh) Receive() (*meshtastic.Packet, error) {
	frame, ok := m.rx.Pop()
	if !ok {
		return nil, nil
	}
	return meshtastic.Decode(frame)
}

// Transmit writes one framed packet
func (m *Mesh) Transmit(frame []byte) error {
	if len(frame) == 0 || len(frame) > maxFrame {
		return fmt.Errorf("serial frame length %d out of range", len(frame))
	}

	buf := make([]byte, headerSize, headerSize+len(frame))
	buf[0], buf[1] = start1, start2
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(frame)))
	buf = append(buf, frame...)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := m.port.Write(buf); err != nil {
		return fmt.Errorf("write serial frame: %w", err)
	}
	return nil
}

// SignalQuality is not reported over the serial link
func (m *Mesh) SignalQuality() (int16, float32) { return 0, 0 }

// Close closes the port, which stops the reader
func (m *Mesh) Close() error {
	m.closeOnce.Do(func() { close(m.closing) })
	return m.port.Close()
}
