package dump

import (
	"encoding/binary"
	"io"

	"github.com/quantem/dectris-go/internal/errors"
)

// maxStreamMsgSize bounds a single record read from a live stream so a
// corrupt length prefix cannot trigger an unbounded allocation.
const maxStreamMsgSize = 1 << 30

// Reader reads length-prefixed records from a byte stream. It is the
// io counterpart of Cursor for live connections.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for record input.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadMsg reads one record. It returns io.EOF unwrapped when the stream
// ends cleanly on a record boundary.
func (dr *Reader) ReadMsg() ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(dr.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, streamErr(err)
	}

	length := int64(binary.LittleEndian.Uint64(prefix[:]))
	if length < 0 || length > maxStreamMsgSize {
		return nil, errors.Newf("unreasonable record length %d", length).
			Component("dump").
			Category(errors.CategoryStreamDecode).
			Context("length", length).
			Build()
	}

	msg := make([]byte, length)
	if _, err := io.ReadFull(dr.r, msg); err != nil {
		return nil, streamErr(err)
	}
	return msg, nil
}

func streamErr(err error) error {
	return errors.New(err).
		Component("dump").
		Category(errors.CategoryStreamDecode).
		Context("operation", "read-record").
		Build()
}
