package serialmesh

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
)

// pipePort feeds reads from a pipe and records writes
type pipePort struct {
	r *io.PipeReader

	mu      sync.Mutex
	written []byte
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *pipePort) Close() error { return p.r.Close() }

func (p *pipePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

var errFraming = errors.New("framing error")

// flakyPort fails the first failures reads, then reads from the pipe
type flakyPort struct {
	pipePort

	mu       sync.Mutex
	failures int
}

func (p *flakyPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.failures > 0 {
		p.failures--
		p.mu.Unlock()
		return 0, errFraming
	}
	p.mu.Unlock()
	return p.pipePort.Read(b)
}

func encode(frame []byte) []byte {
	return append([]byte{start1, start2, byte(len(frame) >> 8), byte(len(frame))}, frame...)
}

func TestReadFrame(t *testing.T) {
	tests := []struct {
		name   string
		stream []byte
		want   []byte
	}{
		{"clean", encode([]byte{1, 2, 3}), []byte{1, 2, 3}},
		{"leading noise", append([]byte{0x00, 0x94, 0x11}, encode([]byte{9})...), []byte{9}},
		{"repeated start byte", append([]byte{0x94}, encode([]byte{7, 7})...), []byte{7, 7}},
		{"zero length skipped", append([]byte{start1, start2, 0, 0}, encode([]byte{5})...), []byte{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readFrame(bufio.NewReader(bytes.NewReader(tt.stream)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	_, err := readFrame(bufio.NewReader(bytes.NewReader([]byte{start1, start2, 0, 10, 1, 2})))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMesh_ReceiveAndTransmit(t *testing.T) {
	pr, pw := io.Pipe()
	port := &pipePort{r: pr}
	m := New(port)
	require.NoError(t, m.Begin())
	assert.Error(t, m.Begin())

	pkt := &meshtastic.Packet{Dest: meshtastic.Broadcast, Source: 0x42, ID: 1, Port: meshtastic.PortTextMessage, Payload: []byte("SOS")}
	frame, err := pkt.MarshalBinary()
	require.NoError(t, err)

	go func() { _, _ = pw.Write(encode(frame)) }()

	require.Eventually(t, m.Available, time.Second, 5*time.Millisecond)
	got, err := m.Receive()
	require.NoError(t, err)
	assert.Equal(t, pkt.Source, got.Source)
	assert.Equal(t, []byte("SOS"), got.Payload)

	none, err := m.Receive()
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, m.Transmit([]byte{0xAA, 0xBB}))
	assert.Equal(t, []byte{start1, start2, 0x00, 0x02, 0xAA, 0xBB}, port.Written())
	assert.Error(t, m.Transmit(nil))

	require.NoError(t, pw.Close())
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
}

func TestMesh_RetriesTransientReadErrors(t *testing.T) {
	pr, pw := io.Pipe()
	port := &flakyPort{pipePort: pipePort{r: pr}, failures: 3}
	m := New(port)
	m.retryDelay = time.Millisecond
	require.NoError(t, m.Begin())

	pkt := &meshtastic.Packet{Dest: meshtastic.Broadcast, Source: 0x43, ID: 2, Port: meshtastic.PortTextMessage, Payload: []byte("after noise")}
	frame, err := pkt.MarshalBinary()
	require.NoError(t, err)
	go func() { _, _ = pw.Write(encode(frame)) }()

	require.Eventually(t, m.Available, time.Second, 5*time.Millisecond)
	got, err := m.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("after noise"), got.Payload)

	require.NoError(t, m.Close())
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
	assert.NoError(t, m.Err())
}

func TestMesh_GivesUpAfterRepeatedErrors(t *testing.T) {
	pr, _ := io.Pipe()
	port := &flakyPort{pipePort: pipePort{r: pr}, failures: maxReadErrors}
	m := New(port)
	m.retryDelay = time.Millisecond
	require.NoError(t, m.Begin())

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not give up")
	}
	assert.ErrorIs(t, m.Err(), errFraming)
}
