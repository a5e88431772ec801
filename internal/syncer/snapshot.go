package syncer

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"campledger/internal/ledger"
	"campledger/internal/record"
)

// snapshotMagic guards against loading a file that is not a snapshot.
const snapshotMagic = uint32(0x434C5331) // "CLS1"

// Snapshot layout (before compression), little-endian:
//   u32 magic
//   u32 record count
//   per record: u32 len + binary record bytes

// ExportSnapshot serializes the full ledger and compresses it with zstd.
func ExportSnapshot(l *ledger.Ledger) ([]byte, error) {
	records := l.Export()

	buf := make([]byte, 0, 64*len(records)+8)
	buf = binary.LittleEndian.AppendUint32(buf, snapshotMagic)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(records)))

	for _, rec := range records {
		body := rec.Marshal()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))
		buf = append(buf, body...)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(buf, nil), nil
}

// ImportSnapshot decompresses a snapshot and replays every record through
// Upsert. Replay is idempotent, so importing over live data is safe.
func ImportSnapshot(l *ledger.Ledger, data []byte) (int, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return 0, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	buf, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return 0, fmt.Errorf("decompress snapshot: %w", err)
	}

	if len(buf) < 8 {
		return 0, fmt.Errorf("snapshot too short: %d bytes", len(buf))
	}

	if binary.LittleEndian.Uint32(buf) != snapshotMagic {
		return 0, fmt.Errorf("bad snapshot magic")
	}

	count := binary.LittleEndian.Uint32(buf[4:])
	off := 8

	imported := 0
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return imported, fmt.Errorf("snapshot truncated at record %d", i)
		}

		n := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4

		if off+n > len(buf) {
			return imported, fmt.Errorf("snapshot record %d truncated", i)
		}

		rec, err := record.Unmarshal(buf[off : off+n])
		off += n
		if err != nil {
			continue // skip corrupt entries, keep the rest
		}

		if err := l.Upsert(rec); err != nil {
			return imported, fmt.Errorf("replay record %d: %w", i, err)
		}

		imported++
	}

	return imported, nil
}
