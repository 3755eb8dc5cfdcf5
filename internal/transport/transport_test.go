package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
	"github.com/banshee-data/umrr-bridge/internal/radar/variant"
	"github.com/banshee-data/umrr-bridge/internal/serialmux"
)

func init() {
	monitoring.SetLogger(nil)
}

type batchCall struct {
	sensorID uint32
	tag      variant.Tag
	targets  int
}

type recordingHandler struct {
	mu        sync.Mutex
	batches   []batchCall
	responses []radar.Response
	notify    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{notify: make(chan struct{}, 128)}
}

func (h *recordingHandler) OnSensorBatch(sensorID uint32, tag variant.Tag, raw []byte) (radar.PointSet, error) {
	res, err := variant.Decode(tag, raw)
	if err != nil {
		return radar.PointSet{}, err
	}
	h.mu.Lock()
	h.batches = append(h.batches, batchCall{sensorID, tag, len(res.Targets)})
	h.mu.Unlock()
	h.signal()
	return radar.PointSet{}, nil
}

func (h *recordingHandler) OnResponse(resp radar.Response) {
	h.mu.Lock()
	h.responses = append(h.responses, resp)
	h.mu.Unlock()
	h.signal()
}

func (h *recordingHandler) signal() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.notify:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the handler")
	}
}

func telemetry(t *testing.T, sensorID uint32, tag variant.Tag, n int) Frame {
	t.Helper()
	targets := make([]radar.Target, n)
	for i := range targets {
		targets[i] = radar.Target{ID: uint32(i + 1), Range: float64(10 + i)}
	}
	raw, err := variant.Encode(tag, variant.Batch{Kind: radar.KindTargetList, Cycle: 1, Timestamp: time.Unix(1700000000, 0), Targets: targets})
	require.NoError(t, err)
	return Frame{SensorID: sensorID, Type: MsgTelemetry, Payload: raw}
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{SensorID: 0xDEADBEEF, Type: MsgTelemetry, Payload: []byte{1, 2, 3}}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, FrameHeaderSize+3, len(b))

	got, err := ParseFrame(b)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestParseFrameErrors(t *testing.T) {
	good, err := Frame{SensorID: 1, Type: MsgResponse}.MarshalBinary()
	require.NoError(t, err)

	mutate := func(i int, v byte) []byte {
		b := bytes.Clone(good)
		b[i] = v
		return b
	}
	for name, b := range map[string][]byte{
		"short":        good[:FrameHeaderSize-1],
		"magic":        mutate(0, 'X'),
		"version":      mutate(2, 9),
		"type zero":    mutate(3, 0),
		"type too big": mutate(3, 4),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrame(b)
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}

	_, err = Frame{Payload: make([]byte, MaxFrameSize)}.MarshalBinary()
	assert.Error(t, err)
}

func TestRequestResponseBodies(t *testing.T) {
	req := radar.Request{Category: radar.CategoryIP, Address: "10.1.1.1"}
	f, err := RequestFrame(7, "abc", req)
	require.NoError(t, err)

	id, got, err := ParseRequest(f)
	require.NoError(t, err)
	assert.Equal(t, radar.ClientID("abc"), id)
	assert.Equal(t, req, got)

	_, err = ParseResponse(f)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	rf, err := ResponseFrame(7, radar.Response{ClientID: "abc", Status: radar.StatusOutOfRange, Detail: "max 3"})
	require.NoError(t, err)
	resp, err := ParseResponse(rf)
	require.NoError(t, err)
	assert.Equal(t, radar.Response{ClientID: "abc", Status: radar.StatusOutOfRange, Detail: "max 3"}, resp)

	_, err = ParseResponse(Frame{Type: MsgResponse, Payload: []byte{0xff}})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestNewClientIDUnique(t *testing.T) {
	seen := map[radar.ClientID]bool{}
	for i := 0; i < 1000; i++ {
		id := NewClientID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := c.LocalAddr().String()
	require.NoError(t, c.Close())
	return addr
}

func TestUDPSessionWithSyntheticSensor(t *testing.T) {
	sensorAddr := freeUDPAddr(t)
	host, portStr, err := net.SplitHostPort(sensorAddr)
	require.NoError(t, err)
	var port uint32
	_, err = fmt.Sscan(portStr, &port)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Configure(0, registry.SensorConfig{SensorID: 100, Variant: variant.UMRR96, IP: host, Port: port}))

	udp := NewUDP(UDPConfig{Address: "127.0.0.1:0", Registry: reg, Metrics: monitoring.NewMetrics()})
	h := newRecordingHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listenErr := make(chan error, 1)
	go func() { listenErr <- udp.Listen(ctx, h) }()
	<-udp.Ready()

	sensor := &SyntheticSensor{
		SensorID: 100,
		Variant:  variant.UMRR96,
		Listen:   sensorAddr,
		Bridge:   udp.LocalAddr().String(),
		Interval: 10 * time.Millisecond,
		Answer: func(req radar.Request) radar.Response {
			if req.Name == "Bogus" {
				return radar.Response{Status: radar.StatusUnknownInstruction}
			}
			return radar.Response{Status: radar.StatusOK}
		},
	}
	go func() { _ = sensor.Run(ctx) }()
	<-sensor.Ready()

	h.wait(t)
	h.mu.Lock()
	first := h.batches[0]
	h.mu.Unlock()
	assert.Equal(t, batchCall{100, variant.UMRR96, 8}, first)

	cfg, err := reg.Lookup(0)
	require.NoError(t, err)
	require.NoError(t, udp.Send("req-1", cfg, radar.Request{Category: radar.CategoryMode, Name: "Bogus", Value: 1}))

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.responses) > 0
	}, 3*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	resp := h.responses[0]
	h.mu.Unlock()
	assert.Equal(t, radar.ClientID("req-1"), resp.ClientID)
	assert.Equal(t, radar.StatusUnknownInstruction, resp.Status)

	cancel()
	assert.ErrorIs(t, <-listenErr, context.Canceled)
}

func TestUDPSendQueueFull(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Configure(0, registry.SensorConfig{SensorID: 1, Variant: variant.UMRR11}))
	cfg, err := reg.Lookup(0)
	require.NoError(t, err)

	udp := NewUDP(UDPConfig{Address: "127.0.0.1:0", QueueSize: 1, Registry: reg})
	require.NoError(t, udp.Send("a", cfg, radar.Request{Category: radar.CategoryCommand, Name: "Reset"}))
	err = udp.Send("b", cfg, radar.Request{Category: radar.CategoryCommand, Name: "Reset"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDeliver(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Configure(2, registry.SensorConfig{SensorID: 300, Variant: variant.UMRR9DV103}))
	h := newRecordingHandler()

	require.NoError(t, deliver("test", telemetry(t, 300, variant.UMRR9DV103, 3), reg, h, nil))
	assert.Equal(t, []batchCall{{300, variant.UMRR9DV103, 3}}, h.batches)

	err := deliver("test", telemetry(t, 301, variant.UMRR9DV103, 1), reg, h, nil)
	assert.ErrorIs(t, err, radar.ErrUnknownSlot)

	req, err := RequestFrame(300, "x", radar.Request{})
	require.NoError(t, err)
	assert.ErrorIs(t, deliver("test", req, reg, h, nil), ErrMalformedFrame)
}

type fakeLineMux struct {
	lines chan string
	sent  chan string
}

func (f *fakeLineMux) Subscribe(int) (string, <-chan string) { return "sub", f.lines }
func (f *fakeLineMux) Unsubscribe(string)                    {}
func (f *fakeLineMux) SendLine(line string) error            { f.sent <- line; return nil }
func (f *fakeLineMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSerialLink(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.ConfigureAdapter(0, registry.HWConfig{HWDevID: 5, IfaceName: "can0", Type: "can"}))
	require.NoError(t, reg.Configure(0, registry.SensorConfig{SensorID: 50, DevID: 5, Variant: variant.UMRRA4V101, LinkType: "can"}))

	mux := &fakeLineMux{lines: make(chan string, 4), sent: make(chan string, 4)}
	link := NewSerialLink(registry.HWConfig{HWDevID: 5}, mux, reg, nil, 4)
	h := newRecordingHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- link.Run(ctx, h) }()

	line, err := EncodeLine(telemetry(t, 50, variant.UMRRA4V101, 2))
	require.NoError(t, err)
	mux.lines <- "not base64!"
	mux.lines <- line
	h.wait(t)
	h.mu.Lock()
	assert.Equal(t, []batchCall{{50, variant.UMRRA4V101, 2}}, h.batches)
	h.mu.Unlock()

	cfg, err := reg.Lookup(0)
	require.NoError(t, err)
	require.NoError(t, link.Send("c-1", cfg, radar.Request{Category: radar.CategoryMode, Name: "Transmit", Value: 1}))
	sent := <-mux.sent
	f, err := DecodeLine(sent)
	require.NoError(t, err)
	id, req, err := ParseRequest(f)
	require.NoError(t, err)
	assert.Equal(t, radar.ClientID("c-1"), id)
	assert.Equal(t, "Transmit", req.Name)
	assert.Equal(t, uint32(50), f.SensorID)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSerialLinkOverPipe(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.ConfigureAdapter(0, registry.HWConfig{HWDevID: 9, Type: "rs485"}))
	require.NoError(t, reg.Configure(0, registry.SensorConfig{SensorID: 90, DevID: 9, Variant: variant.UMRR11}))

	local, remote := serialmux.NewPipe()
	mux := serialmux.NewSerialMux(local)
	defer mux.Close()
	link := NewSerialLink(registry.HWConfig{HWDevID: 9}, mux, reg, nil, 4)
	h := newRecordingHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = link.Run(ctx, h) }()

	line, err := EncodeLine(telemetry(t, 90, variant.UMRR11, 4))
	require.NoError(t, err)
	// The mux subscribes asynchronously; resend until the handler sees it.
	require.Eventually(t, func() bool {
		go func() { _, _ = remote.Write([]byte(line + "\n")) }()
		select {
		case <-h.notify:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, batchCall{90, variant.UMRR11, 4}, h.batches[0])
}

type recordingLink struct {
	name string
	got  *[]string
}

func (l recordingLink) Send(radar.ClientID, registry.SensorConfig, radar.Request) error {
	*l.got = append(*l.got, l.name)
	return nil
}

func TestRouter(t *testing.T) {
	var got []string
	r := &Router{
		UDP:    recordingLink{"udp", &got},
		Serial: map[uint32]Link{5: recordingLink{"serial5", &got}},
	}
	require.NoError(t, r.Send("a", registry.SensorConfig{DevID: 5}, radar.Request{}))
	require.NoError(t, r.Send("b", registry.SensorConfig{DevID: 1}, radar.Request{}))
	assert.Equal(t, []string{"serial5", "udp"}, got)
	assert.NotEmpty(t, r.NewClientID())

	r = &Router{}
	assert.Error(t, r.Send("c", registry.SensorConfig{}, radar.Request{}))
}

func TestReplay(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Configure(0, registry.SensorConfig{SensorID: 100, Variant: variant.UMRR9FV221}))
	require.NoError(t, reg.Configure(1, registry.SensorConfig{SensorID: 101, Variant: variant.UMRRA1V100}))

	var capture bytes.Buffer
	cw, err := NewCaptureWriter(&capture, [4]byte{10, 0, 0, 2}, [4]byte{10, 0, 0, 1}, 55555, 55555)
	require.NoError(t, err)
	ts := time.Unix(1700000000, 0)
	require.NoError(t, cw.WriteFrame(ts, telemetry(t, 100, variant.UMRR9FV221, 3)))
	require.NoError(t, cw.WriteFrame(ts.Add(50*time.Millisecond), telemetry(t, 101, variant.UMRRA1V100, 5)))
	require.NoError(t, cw.WriteFrame(ts.Add(100*time.Millisecond), telemetry(t, 999, variant.UMRR11, 1)))
	rf, err := ResponseFrame(100, radar.Response{ClientID: "late"})
	require.NoError(t, err)
	require.NoError(t, cw.WriteFrame(ts.Add(150*time.Millisecond), rf))

	h := newRecordingHandler()
	stats, err := Replay(context.Background(), &capture, ReplayConfig{Port: 55555, Registry: reg}, h)
	require.NoError(t, err)

	assert.Equal(t, ReplayStats{Packets: 4, Frames: 4, Failed: 1}, stats)
	assert.Equal(t, []batchCall{
		{100, variant.UMRR9FV221, 3},
		{101, variant.UMRRA1V100, 5},
	}, h.batches)
	require.Len(t, h.responses, 1)
	assert.Equal(t, radar.ClientID("late"), h.responses[0].ClientID)
}

func TestReplayPortFilter(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Configure(0, registry.SensorConfig{SensorID: 100, Variant: variant.UMRR11}))

	var capture bytes.Buffer
	cw, err := NewCaptureWriter(&capture, [4]byte{10, 0, 0, 2}, [4]byte{10, 0, 0, 1}, 40000, 9999)
	require.NoError(t, err)
	require.NoError(t, cw.WriteFrame(time.Unix(0, 0), telemetry(t, 100, variant.UMRR11, 1)))

	h := newRecordingHandler()
	stats, err := Replay(context.Background(), &capture, ReplayConfig{Port: 55555, Registry: reg}, h)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Packets: 1, Skipped: 1}, stats)
}

func TestReplayBadCapture(t *testing.T) {
	_, err := Replay(context.Background(), bytes.NewReader([]byte("nope, not a capture")), ReplayConfig{}, newRecordingHandler())
	assert.Error(t, err)

	_, err = ReplayFile(context.Background(), "/does/not/exist.pcap", ReplayConfig{}, newRecordingHandler())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
