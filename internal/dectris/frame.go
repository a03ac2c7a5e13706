package dectris

import (
	"encoding/binary"
	"strings"

	"github.com/quantem/dectris-go/internal/errors"
)

// Frame is one decoded detector image: a row-major float32 plane.
type Frame struct {
	Index  uint64
	Width  int
	Height int
	Pixels []float32
}

// SumPixels returns the sum over all pixels of the frame.
func (f *Frame) SumPixels() float64 {
	var sum float64
	for _, px := range f.Pixels {
		sum += float64(px)
	}
	return sum
}

// DecodeFrame converts a raw frame blob into a Frame according to the
// dimage_d metadata. Only raw little-endian blobs are supported; the
// compressed encodings the detector can emit (bitshuffle-lz4) are
// rejected with a stream-decode error.
func DecodeFrame(meta *DImageData, blob []byte, frameIdx uint64) (*Frame, error) {
	if len(meta.Shape) != 2 {
		return nil, decodeErr(frameIdx, "frame shape must have 2 dimensions").
			Context("shape", meta.Shape).Build()
	}
	width, height := meta.Shape[0], meta.Shape[1]
	if width <= 0 || height <= 0 {
		return nil, decodeErr(frameIdx, "frame dimensions must be positive").
			Context("shape", meta.Shape).Build()
	}

	if meta.Encoding != "<" && meta.Encoding != "" {
		if strings.Contains(meta.Encoding, "lz4") {
			return nil, decodeErr(frameIdx, "compressed frame encodings are not supported").
				Context("encoding", meta.Encoding).Build()
		}
		return nil, decodeErr(frameIdx, "unsupported frame encoding").
			Context("encoding", meta.Encoding).Build()
	}

	npixels := width * height
	pixels := make([]float32, npixels)

	switch meta.Type {
	case "uint8":
		if len(blob) != npixels {
			return nil, sizeErr(frameIdx, meta, len(blob))
		}
		for i := range npixels {
			pixels[i] = float32(blob[i])
		}
	case "uint16":
		if len(blob) != npixels*2 {
			return nil, sizeErr(frameIdx, meta, len(blob))
		}
		for i := range npixels {
			pixels[i] = float32(binary.LittleEndian.Uint16(blob[i*2:]))
		}
	case "uint32":
		if len(blob) != npixels*4 {
			return nil, sizeErr(frameIdx, meta, len(blob))
		}
		for i := range npixels {
			pixels[i] = float32(binary.LittleEndian.Uint32(blob[i*4:]))
		}
	default:
		return nil, decodeErr(frameIdx, "unsupported pixel type").
			Context("type", meta.Type).Build()
	}

	return &Frame{
		Index:  frameIdx,
		Width:  width,
		Height: height,
		Pixels: pixels,
	}, nil
}

// EncodeFrame produces a raw little-endian uint16 blob for the given
// pixel values, the inverse of DecodeFrame. Used by the simulator and tests.
func EncodeFrame(pixels []uint16) []byte {
	blob := make([]byte, len(pixels)*2)
	for i, px := range pixels {
		binary.LittleEndian.PutUint16(blob[i*2:], px)
	}
	return blob
}

func decodeErr(frameIdx uint64, msg string) *errors.ErrorBuilder {
	return errors.Newf("frame %d: %s", frameIdx, msg).
		Component("dectris").
		Category(errors.CategoryStreamDecode).
		Context("frame", frameIdx)
}

func sizeErr(frameIdx uint64, meta *DImageData, got int) error {
	return decodeErr(frameIdx, "frame blob size does not match shape and type").
		Context("type", meta.Type).
		Context("shape", meta.Shape).
		Context("blob_bytes", got).
		Build()
}
