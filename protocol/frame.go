package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	lengthSize = 4
	headerSize = 2 * lengthSize
)

var ErrFrameTooLarge = errors.New("frame section exceeds 32-bit length")

// Frame is a request frame: encoded meta followed by encoded data.
type Frame struct {
	Meta []byte
	Data []byte
}

// MarshalBinary returns the frame as a single buffer, length prefixes included.
func (f Frame) MarshalBinary() ([]byte, error) {
	if uint64(len(f.Meta)) > math.MaxUint32 {
		return nil, fmt.Errorf("meta: %w", ErrFrameTooLarge)
	}
	if uint64(len(f.Data)) > math.MaxUint32 {
		return nil, fmt.Errorf("data: %w", ErrFrameTooLarge)
	}
	b := make([]byte, headerSize, headerSize+len(f.Meta)+len(f.Data))
	binary.BigEndian.PutUint32(b[0:lengthSize], uint32(len(f.Meta)))
	binary.BigEndian.PutUint32(b[lengthSize:headerSize], uint32(len(f.Data)))
	b = append(b, f.Meta...)
	b = append(b, f.Data...)
	return b, nil
}

// WriteTo writes the whole frame with a single call to w.Write.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	b, err := f.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrame reads one request frame from r.
// The meta and data sections may arrive split across any number of reads.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, headerSize)
	_, err := io.ReadFull(r, header)
	if err != nil {
		return Frame{}, fmt.Errorf("reading frame header: %w", err)
	}
	metaLen := binary.BigEndian.Uint32(header[0:lengthSize])
	dataLen := binary.BigEndian.Uint32(header[lengthSize:headerSize])

	body := make([]byte, uint64(metaLen)+uint64(dataLen))
	_, err = io.ReadFull(r, body)
	if err != nil {
		return Frame{}, fmt.Errorf("reading frame body (meta %d bytes, data %d bytes): %w", metaLen, dataLen, err)
	}
	return Frame{Meta: body[:metaLen], Data: body[metaLen:]}, nil
}
