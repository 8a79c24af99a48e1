package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/gateway"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/natslink"
)

type staticSource gateway.Status

func (s staticSource) Status() gateway.Status { return gateway.Status(s) }

type recordingSink struct {
	name    string
	err     error
	mu      sync.Mutex
	reports [][]byte
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, report []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return s.err
}

type publishConn struct {
	subject string
	data    []byte
}

func (c *publishConn) Publish(subject string, data []byte) error {
	c.subject, c.data = subject, data
	return nil
}

func (c *publishConn) PublishMsg(msg *nats.Msg) error { return c.Publish(msg.Subject, msg.Data) }

func (c *publishConn) Request(string, []byte, time.Duration) (*nats.Msg, error) {
	return nil, nats.ErrTimeout
}

func (c *publishConn) Subscribe(string, nats.MsgHandler) (*nats.Subscription, error) {
	return nil, nil
}

var testStatus = staticSource{Gateway: "gw-7", Joined: true, QueueDepth: 3, PassState: "active"}

func TestForwarder_Forward(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	failing := &recordingSink{name: "failing", err: errors.New("unreachable")}

	f := NewForwarder(testStatus, time.Minute, ok, failing)
	assert.Equal(t, 1, f.Forward(context.Background()))

	require.Len(t, ok.reports, 1)
	var st gateway.Status
	require.NoError(t, json.Unmarshal(ok.reports[0], &st))
	assert.Equal(t, "gw-7", st.Gateway)
	assert.Equal(t, 3, st.QueueDepth)
	assert.Len(t, failing.reports, 1)
}

func TestForwarder_RunStopsOnCancel(t *testing.T) {
	sink := &recordingSink{name: "ok"}
	f := NewForwarder(testStatus, time.Millisecond, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.reports) > 0
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHTTPSink(t *testing.T) {
	var (
		gotBody   []byte
		gotHeader string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPConfig{Endpoint: srv.URL, Headers: map[string]string{"X-Api-Key": "k1"}})
	require.NoError(t, sink.Send(context.Background(), []byte(`{"gateway":"gw-7"}`)))
	assert.Equal(t, `{"gateway":"gw-7"}`, string(gotBody))
	assert.Equal(t, "k1", gotHeader)
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPSink(HTTPConfig{Endpoint: srv.URL}).Send(context.Background(), []byte("{}"))
	assert.ErrorContains(t, err, "status 502")
}

func TestNATSSink(t *testing.T) {
	nc := &publishConn{}
	sink := NewNATSSink(nc, natslink.NewSubjects("gw-7"))

	require.NoError(t, sink.Send(context.Background(), []byte("{}")))
	assert.Equal(t, "meshxt.gw-7.status", nc.subject)
	assert.Equal(t, []byte("{}"), nc.data)
}

func TestExpandTopic(t *testing.T) {
	assert.Equal(t, "meshxt/gw-7/status", ExpandTopic("", "gw-7"))
	assert.Equal(t, "site/gw-7/report", ExpandTopic("site/{gateway}/report", "gw-7"))
}
