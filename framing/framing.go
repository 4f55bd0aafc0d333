package framing

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

const (
	// EOM is the end-of-message token terminating NETCONF 1.0 messages.
	EOM = "]]>]]>"
	// EndOfChunks is the end-of-chunks token terminating NETCONF 1.1 messages.
	EndOfChunks = "\n##\n"

	// MaxChunkSize is the largest chunk-size a decoder will accept.
	MaxChunkSize = 1<<31 - 1

	// maxChunkSizeDigits is the wire length of MaxChunkSize.
	maxChunkSizeDigits = 10
)

var tokenEOM = []byte(EOM)

// ErrBadChunk is returned by chunked framing decoders on any framing
// violation: a bad chunk introduction, an invalid or oversized
// chunk-size token, or a missing terminator.
type ErrBadChunk struct {
	Message string
}

func (e ErrBadChunk) Error() string {
	if e.Message == "" {
		return "netconf bad chunk"
	}
	return "netconf bad chunk: " + e.Message
}

// SplitEOM returns a bufio.SplitFunc suitable for RFC6242
// "end-of-message delimited" NETCONF transport streams.
//
// endOfMessage, if non-nil, is called at the end of each NETCONF message.
func SplitEOM(endOfMessage func()) bufio.SplitFunc {
	var seen, eomOK bool
	return func(b []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(b) == 0 {
			if seen && !eomOK {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		seen = true
		if idx := bytes.Index(b, tokenEOM); idx >= 0 {
			eomOK = true
			if endOfMessage != nil {
				endOfMessage()
			}
			return idx + len(tokenEOM), b[:idx], nil
		}
		eomOK = false
		if atEOF {
			// terminal data without a sentinel; the final empty
			// call reports io.ErrUnexpectedEOF
			return len(b), b, nil
		}
		// hold back any partial sentinel at the tail of the buffer
		keep := len(b)
		for i := len(b) - len(tokenEOM) + 1; i < len(b); i++ {
			if i >= 0 && bytes.HasPrefix(tokenEOM, b[i:]) {
				keep = i
				break
			}
		}
		if keep == 0 {
			return 0, nil, nil
		}
		return keep, b[:keep], nil
	}
}

// SplitChunked returns a bufio.SplitFunc suitable for decoding
// "chunked framing" NETCONF transport streams.
//
// endOfMessage, if non-nil, is called at the end of each NETCONF message.
//
// The decoder rejects zero-length data chunks, chunk-size tokens with
// leading zeros and chunk sizes above 2^31-1 with ErrBadChunk.
func SplitChunked(endOfMessage func()) bufio.SplitFunc {
	type stateT int
	const (
		stHeader stateT = iota // expect "\n#" then a size digit or '#'
		stSize                 // decoding chunk-size digits
		stData                 // consuming chunk data
		stFooter               // saw "\n##", expect the final LF
	)
	var state stateT
	var dataLeft int
	var chunks int

	return func(b []byte, atEOF bool) (advance int, token []byte, err error) {
		for err == nil && advance < len(b) {
			cur := b[advance:]
			switch state {
			case stHeader:
				if len(cur) < 3 {
					if atEOF {
						if bytes.HasPrefix([]byte("\n#"), cur) {
							err = io.ErrUnexpectedEOF
						} else {
							err = ErrBadChunk{Message: "truncated chunk header"}
						}
					}
					return
				}
				if cur[0] != '\n' || cur[1] != '#' {
					err = ErrBadChunk{Message: fmt.Sprintf("invalid chunk introduction %q", cur[:2])}
					break
				}
				switch c := cur[2]; {
				case c == '#':
					advance += 3
					state = stFooter
				case c >= '1' && c <= '9':
					advance += 2
					state = stSize
				default:
					err = ErrBadChunk{Message: "invalid chunk size"}
				}
			case stSize:
				idx := bytes.IndexByte(cur, '\n')
				if idx < 0 {
					if len(cur) > maxChunkSizeDigits {
						err = ErrBadChunk{Message: "chunk size token too long"}
					} else if !atEOF {
						return // need more data
					} else {
						err = io.ErrUnexpectedEOF
					}
					break
				}
				if idx > maxChunkSizeDigits {
					err = ErrBadChunk{Message: "chunk size token too long"}
					break
				}
				size, perr := strconv.ParseUint(string(cur[:idx]), 10, 31)
				if perr != nil {
					err = ErrBadChunk{Message: "invalid chunk size"}
					break
				}
				advance += idx + 1
				dataLeft = int(size)
				state = stData
			case stData:
				n := dataLeft
				if len(cur) < n {
					n = len(cur)
				}
				token = append(token, cur[:n]...)
				advance += n
				if dataLeft -= n; dataLeft == 0 {
					state = stHeader
					chunks++
				}
				if n > 0 {
					return
				}
			case stFooter:
				switch {
				case cur[0] != '\n':
					err = ErrBadChunk{Message: "invalid chunk terminator"}
				case chunks == 0:
					err = ErrBadChunk{Message: "end-of-chunks seen prior to chunk"}
				default:
					advance++
					state = stHeader
					chunks = 0
					if endOfMessage != nil {
						endOfMessage()
					}
					// return a (possibly empty) token so the caller
					// observes the message boundary before any bytes
					// of a pipelined next message are consumed
					if token == nil {
						token = []byte{}
					}
					return advance, token, nil
				}
			}
		}
		if err == nil && atEOF && (state != stHeader || dataLeft > 0) {
			err = io.ErrUnexpectedEOF
		}
		return
	}
}
