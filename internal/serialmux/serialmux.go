// Package serialmux multiplexes one serial-attached hardware adapter
// between the transport that owns it and any number of line subscribers,
// such as the live tail on the debug pages.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("serial mux closed")
)

// maxLine bounds one adapter line. Telemetry lines carry a full batch.
const maxLine = 256 * 1024

// SerialMux fans lines read from a serial port out to subscribers and
// serialises writes to it.
type SerialMux[T SerialPorter] struct {
	port T

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	closing      bool

	writeMu sync.Mutex
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

func randomID() string {
	b := make([]byte, 8)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns an id and a channel receiving every line read from the
// port. Slow subscribers miss lines rather than stall the reader.
func (s *SerialMux[T]) Subscribe(buffer int) (string, <-chan string) {
	id := randomID()
	ch := make(chan string, buffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendLine writes line to the port, appending a newline if missing.
func (s *SerialMux[T]) SendLine(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port until ctx is done or the port fails,
// delivering each to every subscriber.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 4096), maxLine)

	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks; keep it off the select loop so ctx is honoured.
	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				err := <-scanErr
				if s.isClosing() {
					return nil
				}
				return err
			}
			s.broadcast(line)
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) broadcast(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close closes every subscription and the port.
func (s *SerialMux[T]) Close() error {
	s.subscriberMu.Lock()
	if s.closing {
		s.subscriberMu.Unlock()
		return nil
	}
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

var sendLineTemplate = template.Must(template.New("send").Parse(`<!doctype html>
<title>{{.Name}} serial</title>
<h1>{{.Name}}</h1>
<form method="post" action="{{.Prefix}}-send-api"><input name="line" size="80"><button>send</button></form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("{{.Prefix}}-tail").onmessage = (e) => { tail.textContent = e.data + "\n" + tail.textContent.slice(0, 20000); };
</script>
`))

// AttachAdminRoutes registers a send form and a server-sent-events live
// tail for this adapter under /debug/, prefixed with name.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux, name string) {
	debug := tsweb.Debugger(mux)
	prefix := "serial-" + name

	debug.HandleFunc(prefix, "send lines to and tail adapter "+name, func(w http.ResponseWriter, r *http.Request) {
		data := struct{ Name, Prefix string }{name, prefix}
		if err := sendLineTemplate.Execute(w, data); err != nil {
			http.Error(w, "failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc(prefix+"-send-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		line := strings.TrimSpace(r.FormValue("line"))
		if line == "" {
			http.Error(w, "Missing line", http.StatusBadRequest)
			return
		}
		if err := s.SendLine(line); err != nil {
			http.Error(w, "Failed to write line", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "wrote %q to %s\n", line, name)
	})

	debug.HandleSilentFunc(prefix+"-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")

		id, lines := s.Subscribe(64)
		defer s.Unsubscribe(id)

		fmt.Fprint(w, ": ping\n\n")
		flusher.Flush()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
