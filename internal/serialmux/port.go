package serialmux

import "io"

// SerialPorter is the minimal surface of a serial port. go.bug.st/serial
// ports satisfy it, as do the in-memory pipes used by tests and the
// synthetic adapter.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PipePort is one end of an in-memory serial link.
type PipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *PipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *PipePort) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *PipePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

// NewPipe returns two connected ports: bytes written to one are read from
// the other.
func NewPipe() (*PipePort, *PipePort) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &PipePort{r: ar, w: aw}, &PipePort{r: br, w: bw}
}
