package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestMonitorBroadcastsLines(t *testing.T) {
	local, remote := NewPipe()
	mux := NewSerialMux(local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	_, a := mux.Subscribe(4)
	idB, b := mux.Subscribe(4)

	go func() {
		_, _ = remote.Write([]byte("first\nsecond\n"))
	}()

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-a:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
		assert.Equal(t, want, <-b)
	}

	mux.Unsubscribe(idB)
	_, ok := <-b
	assert.False(t, ok, "unsubscribed channel should be closed")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSendLine(t *testing.T) {
	local, remote := NewPipe()
	mux := NewSerialMux(local)

	go func() {
		_ = mux.SendLine("hello")
	}()
	line, err := bufio.NewReader(remote).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
}

type failingPort struct{ PipePort }

func (failingPort) Write([]byte) (int, error) { return 0, errors.New("unplugged") }

func TestSendLineWriteError(t *testing.T) {
	mux := NewSerialMux(&failingPort{})
	assert.ErrorIs(t, mux.SendLine("x"), ErrWriteFailed)
}

func TestCloseEndsMonitor(t *testing.T) {
	local, _ := NewPipe()
	mux := NewSerialMux(local)
	_, ch := mux.Subscribe(1)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	require.NoError(t, mux.Close())
	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}

	_, late := mux.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok, "subscribing after close returns a closed channel")
}

func TestPortOptions(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even long form", PortOptions{BaudRate: 9600, Parity: "even"}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	mode, err := PortOptions{BaudRate: 500000, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 500000, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.OddParity}, mode)
}

func TestAdminRoutes(t *testing.T) {
	local, remote := NewPipe()
	mux := NewSerialMux(local)
	defer mux.Close()

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, "can0")

	go func() {
		_, _ = bufio.NewReader(remote).ReadString('\n')
	}()

	form := url.Values{"line": {"ping"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/serial-can0-send-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"ping"`)

	req = httptest.NewRequest(http.MethodGet, "/debug/serial-can0-send-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
