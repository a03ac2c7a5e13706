// Package dump reads and writes recorded detector stream files.
//
// A dump file is a flat sequence of records. Each record is a
// little-endian int64 length prefix followed by that many raw message
// bytes. The messages are the detector's data stream captured verbatim:
// JSON control messages carrying an "htype" field, the detector config
// object, and binary frame blobs.
package dump

import (
	"encoding/binary"
	"encoding/json"
	"os"

	"github.com/quantem/dectris-go/internal/errors"
)

// lengthPrefixSize is the int64 record length prefix in bytes.
const lengthPrefixSize = 8

// RecordFile is an in-memory view of a recorded stream file.
type RecordFile struct {
	path string
	data []byte
}

// Open reads the dump file at path into memory.
func Open(path string) (*RecordFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("dump").
			Category(errors.CategoryFileIO).
			Context("operation", "open-dump").
			Build()
	}
	return &RecordFile{path: path, data: data}, nil
}

// FromBytes wraps an in-memory dump, used by tests and the repeat tool.
func FromBytes(data []byte) *RecordFile {
	return &RecordFile{path: "<memory>", data: data}
}

// Path returns the file path the dump was read from.
func (f *RecordFile) Path() string {
	return f.path
}

// Cursor returns a new sequential reader positioned at the first record.
func (f *RecordFile) Cursor() *Cursor {
	return &Cursor{file: f}
}

// Cursor walks the records of a RecordFile in order.
type Cursor struct {
	file   *RecordFile
	offset int
	msgIdx int
}

// AtEnd reports whether the cursor has consumed all records.
func (c *Cursor) AtEnd() bool {
	return c.offset >= len(c.file.data)
}

// MsgIdx returns the zero-based index of the next record to be read.
func (c *Cursor) MsgIdx() int {
	return c.msgIdx
}

// Rewind resets the cursor to the first record.
func (c *Cursor) Rewind() {
	c.offset = 0
	c.msgIdx = 0
}

// ReadRawMsg returns the next record's message bytes. The returned slice
// aliases the file's backing array and must not be modified.
func (c *Cursor) ReadRawMsg() ([]byte, error) {
	if c.AtEnd() {
		return nil, errors.Newf("read past end of dump at message %d", c.msgIdx).
			Component("dump").
			Category(errors.CategoryDumpFile).
			Context("msg_idx", c.msgIdx).
			Build()
	}
	remaining := len(c.file.data) - c.offset
	if remaining < lengthPrefixSize {
		return nil, truncatedErr(c.msgIdx, remaining)
	}

	length := int(binary.LittleEndian.Uint64(c.file.data[c.offset:]))
	if length < 0 || remaining-lengthPrefixSize < length {
		return nil, truncatedErr(c.msgIdx, remaining)
	}

	start := c.offset + lengthPrefixSize
	msg := c.file.data[start : start+length]
	c.offset = start + length
	c.msgIdx++
	return msg, nil
}

// PeekMsg returns the next record without advancing the cursor.
func (c *Cursor) PeekMsg() ([]byte, error) {
	saveOffset, saveIdx := c.offset, c.msgIdx
	msg, err := c.ReadRawMsg()
	c.offset, c.msgIdx = saveOffset, saveIdx
	return msg, err
}

// DecodeNext reads the next record and unmarshals it as JSON into v.
func (c *Cursor) DecodeNext(v any) error {
	msg, err := c.ReadRawMsg()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return errors.New(err).
			Component("dump").
			Category(errors.CategoryStreamDecode).
			Context("msg_idx", c.msgIdx-1).
			Build()
	}
	return nil
}

// SeekToMsgIndex positions the cursor so the next read returns record idx.
func (c *Cursor) SeekToMsgIndex(idx int) error {
	if idx < c.msgIdx {
		c.Rewind()
	}
	for c.msgIdx < idx {
		if _, err := c.ReadRawMsg(); err != nil {
			return err
		}
	}
	return nil
}

// SeekToFirstHeaderOfType scans forward until a JSON message with the
// given htype is next. The matching message itself is not consumed.
func (c *Cursor) SeekToFirstHeaderOfType(htype string) error {
	for !c.AtEnd() {
		msg, err := c.PeekMsg()
		if err != nil {
			return err
		}
		if MsgType(msg) == htype {
			return nil
		}
		if _, err := c.ReadRawMsg(); err != nil {
			return err
		}
	}
	return errors.Newf("no message of htype %q found", htype).
		Component("dump").
		Category(errors.CategoryNotFound).
		Context("htype", htype).
		Build()
}

func truncatedErr(msgIdx, remaining int) error {
	return errors.Newf("truncated record at message %d", msgIdx).
		Component("dump").
		Category(errors.CategoryDumpFile).
		Context("msg_idx", msgIdx).
		Context("remaining_bytes", remaining).
		Build()
}
