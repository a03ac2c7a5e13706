package dump

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/quantem/dectris-go/internal/errors"
)

// Writer appends length-prefixed records to an underlying stream.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for record output.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRawMsg writes one record: little-endian int64 length then the bytes.
func (dw *Writer) WriteRawMsg(msg []byte) error {
	var prefix [lengthPrefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(msg)))
	if _, err := dw.w.Write(prefix[:]); err != nil {
		return writeErr(err)
	}
	if _, err := dw.w.Write(msg); err != nil {
		return writeErr(err)
	}
	return nil
}

// WriteJSON marshals v and writes it as one record.
func (dw *Writer) WriteJSON(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return errors.New(err).
			Component("dump").
			Category(errors.CategoryStreamDecode).
			Context("operation", "marshal-record").
			Build()
	}
	return dw.WriteRawMsg(msg)
}

func writeErr(err error) error {
	return errors.New(err).
		Component("dump").
		Category(errors.CategoryFileIO).
		Context("operation", "write-record").
		Build()
}
