package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/pulsesensor/pulse"
)

var testSnapshot = pulse.Snapshot{
	Signal:       700,
	BPM:          100,
	IBI:          600,
	Amplitude:    300,
	Threshold:    550,
	LastBeatTime: 2902,
	SampleTime:   2904,
	InsideBeat:   true,
}

func TestBeatEvent(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	e := BeatEvent("s1", 1, "ear", testSnapshot, now)

	assert.Equal(t, KindBeat, e.Kind)
	assert.Equal(t, int64(1700000000000), e.Ts)
	assert.Equal(t, int64(2902), e.SampleTime)
	assert.Equal(t, 100, e.BPM)
	assert.Equal(t, 600, e.IBI)
	assert.Equal(t, 300, e.Amplitude)

	b, err := e.Marshal()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "beat", m["kind"])
	assert.Equal(t, "ear", m["name"])

	s := SampleEvent("s1", 0, "", testSnapshot, now)
	assert.Equal(t, KindSample, s.Kind)
	assert.Equal(t, int64(2904), s.SampleTime)
	assert.Zero(t, s.BPM)
}

func TestNewSessionUnique(t *testing.T) {
	a, b := NewSession(), NewSession()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestTextSinkSingleChannel(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf, 1)

	require.NoError(t, s.Publish(SampleEvent("", 0, "", testSnapshot, time.Now())))
	require.NoError(t, s.Publish(BeatEvent("", 0, "", testSnapshot, time.Now())))
	require.Error(t, s.Publish(Event{Kind: "bogus"}))
	require.NoError(t, s.Close())

	assert.Equal(t, "S700\nB100\nQ600\n", buf.String())
}

func TestTextSinkMultiChannel(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf, 2)

	require.NoError(t, s.Publish(BeatEvent("", 1, "", testSnapshot, time.Now())))
	assert.Equal(t, "B1:100\nQ1:600\n", buf.String())
}

type failingSink struct{ closed bool }

func (f *failingSink) Publish(Event) error { return errors.New("down") }
func (f *failingSink) Close() error        { f.closed = true; return nil }

func TestMultiPublishesToAll(t *testing.T) {
	var buf bytes.Buffer
	bad := &failingSink{}
	m := Multi{bad, NewTextSink(&buf, 1)}

	err := m.Publish(BeatEvent("", 0, "", testSnapshot, time.Now()))
	require.Error(t, err)
	assert.Equal(t, "B100\nQ600\n", buf.String(), "a failing sink must not block the others")

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
}

func TestSubjectsAndTopics(t *testing.T) {
	beat := BeatEvent("", 2, "", testSnapshot, time.Now())
	sample := SampleEvent("", 2, "", testSnapshot, time.Now())

	n := NewNATSSink(nil, "pulse.beat")
	assert.Equal(t, "pulse.beat.2", n.Subject(beat))
	assert.Equal(t, "pulse.beat.2.sample", n.Subject(sample))

	m := &MQTTSink{topic: "pulse"}
	assert.Equal(t, "pulse/2/beat", m.Topic(beat))
	assert.Equal(t, "pulse/2/sample", m.Topic(sample))
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(func() any { return map[string]int{"channels": 1} })
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(BeatEvent("s", 0, "finger", testSnapshot, time.Now())))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var e Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "finger", e.Name)
	assert.Equal(t, 100, e.BPM)

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"channels":1}`, string(body))

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "events 1\n")
	assert.Contains(t, string(body), "clients 1\n")

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())
}

func TestHubWithoutStatus(t *testing.T) {
	server := httptest.NewServer(NewHub(nil).Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
