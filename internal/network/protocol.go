package network

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"campledger/internal/query"
	"campledger/internal/record"
)

const (
	// maxFrameSize is the maximum allowed frame size (16 MB).
	maxFrameSize = 16 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4
)

// writeFrame writes a length-prefixed frame to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(data), maxFrameSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// readFrame reads a length-prefixed frame from the reader.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}

// encodeFilter serializes a query filter for the wire.
func encodeFilter(f query.Filter) ([]byte, error) {
	return json.Marshal(f)
}

// decodeFilter deserializes a query filter from the wire.
func decodeFilter(data []byte) (query.Filter, error) {
	var f query.Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return query.Filter{}, fmt.Errorf("decode filter: %w", err)
	}

	return f, nil
}

// encodeRecords serializes a record batch for the wire.
func encodeRecords(records []record.RawRecord) ([]byte, error) {
	return json.Marshal(records)
}

// decodeRecords deserializes a record batch from the wire.
func decodeRecords(data []byte) ([]record.RawRecord, error) {
	var records []record.RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	return records, nil
}
