package natslink

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/lorawan"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
)

type fakeConn struct {
	mu        sync.Mutex
	published []*nats.Msg
	handlers  map[string]nats.MsgHandler
	reply     func(subject string, data []byte) (*nats.Msg, error)
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]nats.MsgHandler)}
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	return c.PublishMsg(&nats.Msg{Subject: subject, Data: data})
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeConn) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	if c.reply == nil {
		return nil, nats.ErrTimeout
	}
	return c.reply(subject, data)
}

func (c *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[subject] = cb
	return nil, nil
}

func (c *fakeConn) deliver(t *testing.T, msg *nats.Msg) {
	t.Helper()
	c.mu.Lock()
	h, ok := c.handlers[msg.Subject]
	c.mu.Unlock()
	require.True(t, ok, "no subscription for %s", msg.Subject)
	h(msg)
}

func (c *fakeConn) Published() []*nats.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*nats.Msg(nil), c.published...)
}

func TestSubjects(t *testing.T) {
	s := NewSubjects("gw1")
	assert.Equal(t, "meshxt.gw1.mesh.rx", s.MeshRx())
	assert.Equal(t, "meshxt.gw1.mesh.tx", s.MeshTx())
	assert.Equal(t, "meshxt.gw1.uplink", s.Uplink())
	assert.Equal(t, "meshxt.gw1.downlink", s.Downlink())
	assert.Equal(t, "meshxt.gw1.join", s.Join())
	assert.Equal(t, "meshxt.gw1.status", s.Status())
}

func TestMesh_ReceiveWithHeaders(t *testing.T) {
	nc := newFakeConn()
	subjects := NewSubjects("gw1")
	m := NewMesh(nc, subjects)
	require.NoError(t, m.Begin())
	assert.False(t, m.Available())

	pkt := &meshtastic.Packet{Dest: meshtastic.Broadcast, Source: 9, ID: 77, Port: meshtastic.PortPosition, Payload: []byte{1, 2}}
	frame, err := pkt.MarshalBinary()
	require.NoError(t, err)

	msg := nats.NewMsg(subjects.MeshRx())
	msg.Data = frame
	msg.Header.Set(HeaderRSSI, "-97")
	msg.Header.Set(HeaderSNR, "6.5")
	msg.Header.Set(HeaderChannel, "2")
	nc.deliver(t, msg)
	nc.deliver(t, &nats.Msg{Subject: subjects.MeshRx(), Data: frame})

	require.True(t, m.Available())
	got, err := m.Receive()
	require.NoError(t, err)
	assert.Equal(t, meshtastic.NodeID(9), got.Source)
	assert.Equal(t, int16(-97), got.RSSI)
	assert.Equal(t, float32(6.5), got.SNR)
	assert.Equal(t, uint8(2), got.Channel)

	rssi, snr := m.SignalQuality()
	assert.Equal(t, int16(-97), rssi)
	assert.Equal(t, float32(6.5), snr)

	require.True(t, m.Available())
	got, err = m.Receive()
	require.NoError(t, err)
	assert.Zero(t, got.RSSI)
	assert.False(t, m.Available())
}

func TestMesh_BacklogDropsOldest(t *testing.T) {
	nc := newFakeConn()
	subjects := NewSubjects("gw1")
	m := NewMesh(nc, subjects)
	require.NoError(t, m.Begin())

	for i := 0; i < meshBacklog+2; i++ {
		pkt := &meshtastic.Packet{Dest: meshtastic.Broadcast, Source: meshtastic.NodeID(i + 1), Port: meshtastic.PortTextMessage, Payload: []byte("hi")}
		frame, err := pkt.MarshalBinary()
		require.NoError(t, err)
		nc.deliver(t, &nats.Msg{Subject: subjects.MeshRx(), Data: frame})
	}
	assert.Equal(t, uint64(2), m.Dropped())

	require.True(t, m.Available())
	got, err := m.Receive()
	require.NoError(t, err)
	assert.Equal(t, meshtastic.NodeID(3), got.Source)
}

func TestMesh_Transmit(t *testing.T) {
	nc := newFakeConn()
	m := NewMesh(nc, NewSubjects("gw1"))
	require.NoError(t, m.Transmit([]byte{1, 2, 3}))

	pub := nc.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, "meshxt.gw1.mesh.tx", pub[0].Subject)
	assert.Equal(t, []byte{1, 2, 3}, pub[0].Data)
}

func newTestNetwork(nc *fakeConn, now func() time.Time) *Network {
	return NewNetwork(nc, NewSubjects("gw1"), NetworkConfig{
		DevEUI:         lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
		DataRate:       lorawan.DataRate{SpreadFactor: 9, Bandwidth: 125},
		MaxPayloadSize: 115,
		DutyCycleLimit: 2 * time.Second,
		DutyWindow:     time.Hour,
		Clock:          now,
	})
}

func TestNetwork_JoinAndSend(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nc := newFakeConn()
	nc.reply = func(subject string, data []byte) (*nats.Msg, error) {
		var req JoinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		assert.Equal(t, "meshxt.gw1.join", subject)
		assert.Equal(t, lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}, req.DevEUI)
		reply, _ := json.Marshal(JoinReply{Accepted: true, DevAddr: lorawan.DevAddr{0x26, 0x01, 0x1b, 0xda}})
		return &nats.Msg{Data: reply}, nil
	}
	n := newTestNetwork(nc, func() time.Time { return now })

	assert.ErrorIs(t, n.Send([]byte("x"), 42), radio.ErrNotJoined)

	require.NoError(t, n.Join())
	assert.True(t, n.IsJoined())

	require.NoError(t, n.Send([]byte("hello"), 42))
	pub := nc.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, "meshxt.gw1.uplink", pub[0].Subject)
	assert.Equal(t, "42", pub[0].Header.Get("Fport"))

	var up UplinkMessage
	require.NoError(t, json.Unmarshal(pub[0].Data, &up))
	assert.Equal(t, []byte("hello"), up.Data)
	assert.Equal(t, "26011bda", up.DevAddr)
	assert.Equal(t, lorawan.EstimateAirtime(5, lorawan.DataRate{SpreadFactor: 9, Bandwidth: 125}), up.AirtimeMs)
	assert.Equal(t, up.AirtimeMs, n.AirtimeUsed())

	assert.ErrorIs(t, n.Send(make([]byte, 116), 42), radio.ErrPayloadTooLarge)
}

func TestNetwork_DutyCycleExhausted(t *testing.T) {
	nc := newFakeConn()
	nc.reply = func(string, []byte) (*nats.Msg, error) {
		reply, _ := json.Marshal(JoinReply{Accepted: true})
		return &nats.Msg{Data: reply}, nil
	}
	n := newTestNetwork(nc, time.Now)
	require.NoError(t, n.Join())

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = n.Send(make([]byte, 100), 42)
	}
	assert.ErrorIs(t, err, radio.ErrDutyCycle)
	assert.LessOrEqual(t, n.AirtimeUsed(), uint32(2000))
	assert.False(t, n.CanTransmit(n.AirtimeRemaining()+1))
}

func TestNetwork_JoinFailures(t *testing.T) {
	nc := newFakeConn()
	n := newTestNetwork(nc, time.Now)
	assert.ErrorIs(t, n.Join(), nats.ErrTimeout)

	nc.reply = func(string, []byte) (*nats.Msg, error) {
		reply, _ := json.Marshal(JoinReply{Accepted: false, Reason: "unknown device"})
		return &nats.Msg{Data: reply}, nil
	}
	err := n.Join()
	assert.True(t, errors.Is(err, ErrJoinRejected))
	assert.False(t, n.IsJoined())
}

func TestNetwork_Downlink(t *testing.T) {
	nc := newFakeConn()
	n := newTestNetwork(nc, time.Now)
	require.NoError(t, n.Begin())

	_, ok := n.PendingDownlink()
	assert.False(t, ok)

	data, _ := json.Marshal(DownlinkMessage{FPort: 42, Data: []byte("ack")})
	nc.deliver(t, &nats.Msg{Subject: "meshxt.gw1.downlink", Data: data})
	nc.deliver(t, &nats.Msg{Subject: "meshxt.gw1.downlink", Data: data})
	nc.deliver(t, &nats.Msg{Subject: "meshxt.gw1.downlink", Data: []byte("not json")})

	dl, ok := n.PendingDownlink()
	require.True(t, ok)
	assert.Equal(t, uint8(42), dl.Port)
	assert.Equal(t, []byte("ack"), dl.Payload)

	_, ok = n.PendingDownlink()
	assert.False(t, ok)
}
