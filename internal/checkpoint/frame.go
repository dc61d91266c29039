// Package checkpoint implements compressed state snapshots and the replay
// machinery that rehydrates a workflow from the last checkpoint plus the
// event tail that followed it.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// magic identifies a checkpoint frame; frameVersion is the current wire version.
var magic = [8]byte{'O', 'Y', 'A', 'C', 'P', 'T', '0', '1'}

const frameVersion uint32 = 1

// ErrBadMagic is returned when a frame's magic bytes don't match.
var ErrBadMagic = errors.New("checkpoint: bad magic")

// ErrUnsupportedVersion is returned when a frame declares a version this
// decoder does not understand.
type ErrUnsupportedVersion struct{ Version uint32 }

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("checkpoint: unsupported version %d", e.Version)
}

// ErrCorrupt is returned when a frame's compressed body fails to decode.
type ErrCorrupt struct{ Cause error }

func (e *ErrCorrupt) Error() string { return "checkpoint: corrupt frame: " + e.Cause.Error() }
func (e *ErrCorrupt) Unwrap() error { return e.Cause }

// encodeFrame compresses raw and wraps it in the magic+version frame.
func encodeFrame(raw []byte, level zstd.EncoderLevel) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("new zstd encoder: %w", err)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(raw, nil)

	buf := bytes.NewBuffer(make([]byte, 0, 8+4+len(compressed)))
	buf.Write(magic[:])
	var versionBytes [4]byte
	binary.LittleEndian.PutUint32(versionBytes[:], frameVersion)
	buf.Write(versionBytes[:])
	buf.Write(compressed)
	return buf.Bytes(), nil
}

// decodeFrame validates the frame header and decompresses its body.
func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < 12 {
		return nil, ErrBadMagic
	}
	if !bytes.Equal(frame[:8], magic[:]) {
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(frame[8:12])
	if version != frameVersion {
		return nil, &ErrUnsupportedVersion{Version: version}
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("new zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(frame[12:], nil)
	if err != nil {
		return nil, &ErrCorrupt{Cause: err}
	}
	return raw, nil
}
