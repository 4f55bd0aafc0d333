package transport

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/framing"
)

const readerChunk = 4096

// Reader decodes whole NETCONF messages from a Transport using the
// current framing protocol.
//
// The Reader starts in end-of-message (:base:1.0) framing mode.
// SetFramingMode switches to chunked framing after capability
// exchange; input buffered ahead of the switch (pipelined messages)
// is preserved and reported by Buffered.
//
// Reader is not safe for concurrent use.
type Reader struct {
	src     io.Reader
	split   bufio.SplitFunc
	eom     bool
	pending []byte
	buf     []byte
	atEOF   bool
	err     error
}

// NewReader returns a Reader decoding messages from src.
func NewReader(src io.Reader) *Reader {
	r := &Reader{src: src}
	r.split = framing.SplitEOM(r.onEndOfMessage)
	return r
}

func (r *Reader) onEndOfMessage() { r.eom = true }

// Buffered reports whether undecoded input is already held by the
// Reader. Pollers consult it before waiting on the transport, so a
// pipelined message read ahead of its turn is not mistaken for an
// idle stream.
func (r *Reader) Buffered() bool { return len(r.pending) > 0 }

// ReadMessage drains one whole framed message and returns its body.
// It returns io.EOF at a clean end of stream between messages and
// io.ErrUnexpectedEOF when the stream ends mid-message. Framing
// violations surface as framing.ErrBadChunk and are sticky.
func (r *Reader) ReadMessage() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.eom = false
	var msg []byte
	for !r.eom {
		if len(r.pending) == 0 && !r.atEOF {
			if err := r.fill(); err != nil {
				r.err = err
				return nil, err
			}
			continue
		}
		advance, token, err := r.split(r.pending, r.atEOF)
		if err != nil {
			r.err = err
			return nil, err
		}
		if advance > 0 {
			r.pending = r.pending[advance:]
		}
		if token != nil {
			msg = append(msg, token...)
			continue
		}
		if r.atEOF {
			// no further progress possible
			if len(msg) > 0 || len(r.pending) > 0 {
				r.err = errors.WithStack(io.ErrUnexpectedEOF)
			} else {
				r.err = io.EOF
			}
			return nil, r.err
		}
		if err := r.fill(); err != nil {
			r.err = err
			return nil, err
		}
	}
	return msg, nil
}

// fill reads once from the transport into the pending buffer.
func (r *Reader) fill() error {
	if r.buf == nil {
		r.buf = make([]byte, readerChunk)
	}
	n, err := r.src.Read(r.buf)
	r.pending = append(r.pending, r.buf[:n]...)
	if err == io.EOF {
		r.atEOF = true
		return nil
	}
	return err
}

// SetFramingMode sets the framing to end-of-message mode
// (chunked=false) or chunked mode (chunked=true). Buffered input is
// decoded with the new framing.
func (r *Reader) SetFramingMode(chunked bool) {
	if chunked {
		r.split = framing.SplitChunked(r.onEndOfMessage)
	} else {
		r.split = framing.SplitEOM(r.onEndOfMessage)
	}
}

// Writer encodes whole NETCONF messages onto a Transport using the
// current framing protocol.
//
// Each message is assembled with its framing into a single buffer and
// written with one Write call, so a message occupies a contiguous span
// of the byte stream.
type Writer struct {
	dst     io.Writer
	chunked bool
	buf     bytes.Buffer
}

// NewWriter returns a Writer framing messages onto dst.
func NewWriter(dst io.Writer) *Writer { return &Writer{dst: dst} }

// WriteMessage writes one whole message body with framing.
func (w *Writer) WriteMessage(b []byte) error {
	w.buf.Reset()
	if w.chunked {
		// a single chunk carries the whole message
		w.buf.WriteString("\n#")
		w.buf.WriteString(strconv.Itoa(len(b)))
		w.buf.WriteByte('\n')
		w.buf.Write(b)
		w.buf.WriteString(framing.EndOfChunks)
	} else {
		if bytes.Contains(b, []byte(framing.EOM)) {
			return errors.New("message contains the end-of-message sentinel")
		}
		w.buf.Write(b)
		w.buf.WriteString(framing.EOM)
	}
	n, err := w.dst.Write(w.buf.Bytes())
	if err == nil && n < w.buf.Len() {
		err = errors.WithStack(io.ErrShortWrite)
	}
	return err
}

// SetFramingMode sets the framing to end-of-message mode
// (chunked=false) or chunked mode (chunked=true).
func (w *Writer) SetFramingMode(chunked bool) { w.chunked = chunked }
