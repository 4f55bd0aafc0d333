package transport

import (
	"io"

	"github.com/pkg/errors"
)

// FD is a Transport over a raw input/output descriptor pair, such as
// a pair of os.File pipes or the two halves of a net.Conn.
type FD struct {
	poller
	out io.Writer
}

// NewFD returns a Transport reading from in and writing to out.
// Either may also implement io.Closer, in which case Close closes it.
func NewFD(in io.Reader, out io.Writer) *FD {
	return &FD{poller: poller{src: in}, out: out}
}

// Kind reports KindFD.
func (t *FD) Kind() Kind { return KindFD }

// Write writes b in full; a short write is reported as an error.
func (t *FD) Write(b []byte) (int, error) {
	n, err := t.out.Write(b)
	if err == nil && n < len(b) {
		err = errors.WithStack(io.ErrShortWrite)
	}
	return n, err
}

// Close closes both descriptors where they support closing.
func (t *FD) Close() error {
	var err error
	if c, ok := t.out.(io.Closer); ok {
		err = c.Close()
	}
	if c, ok := t.poller.src.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if err == io.ErrClosedPipe {
		err = nil
	}
	return err
}
