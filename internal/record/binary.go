package record

import (
	"encoding/binary"
	"fmt"
)

// Binary record layout, little-endian, length-prefixed:
//   u32 len + issuer bytes
//   u32 kind
//   i64 createdAt
//   u32 tag count, then per tag: u32 len + key, u32 len + value
//   u32 len + body bytes
// The canonical form (hashed and signed) stops there. The stored form
// appends:
//   u32 len + id bytes
//   u32 len + sig bytes

// canonicalBytes serializes the fields covered by the record ID.
func (r *RawRecord) canonicalBytes() []byte {
	buf := make([]byte, 0, 128+len(r.Body))

	buf = appendBytes(buf, []byte(r.Issuer))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Kind))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.CreatedAt))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Tags)))
	for _, t := range r.Tags {
		buf = appendBytes(buf, []byte(t.Key))
		buf = appendBytes(buf, []byte(t.Value))
	}

	buf = appendBytes(buf, []byte(r.Body))

	return buf
}

// Marshal serializes the full record for storage and snapshots.
func (r *RawRecord) Marshal() []byte {
	buf := r.canonicalBytes()
	buf = appendBytes(buf, []byte(r.ID))
	buf = appendBytes(buf, []byte(r.Sig))

	return buf
}

// Unmarshal deserializes a record produced by Marshal.
func Unmarshal(data []byte) (RawRecord, error) {
	var r RawRecord

	d := decoder{buf: data}

	r.Issuer = d.readString()
	r.Kind = Kind(d.readUint32())
	r.CreatedAt = int64(d.readUint64())

	tagCount := d.readUint32()
	if d.err == nil && uint64(tagCount)*8 > uint64(len(data)) {
		return RawRecord{}, fmt.Errorf("tag count %d exceeds payload", tagCount)
	}

	if d.err == nil && tagCount > 0 {
		r.Tags = make([]Tag, 0, tagCount)
		for i := uint32(0); i < tagCount; i++ {
			key := d.readString()
			value := d.readString()
			r.Tags = append(r.Tags, Tag{Key: key, Value: value})
		}
	}

	r.Body = d.readString()
	r.ID = d.readString()
	r.Sig = d.readString()

	if d.err != nil {
		return RawRecord{}, d.err
	}

	if len(d.buf[d.off:]) != 0 {
		return RawRecord{}, fmt.Errorf("trailing %d bytes after record", len(d.buf)-d.off)
	}

	return r, nil
}

// appendBytes appends a u32 length prefix and the bytes.
func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// decoder reads length-prefixed fields and remembers the first error.
type decoder struct {
	buf []byte
	off int
	err error
}

// readUint32 reads a little-endian u32.
func (d *decoder) readUint32() uint32 {
	if d.err != nil {
		return 0
	}

	if d.off+4 > len(d.buf) {
		d.err = fmt.Errorf("record truncated at offset %d", d.off)
		return 0
	}

	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4

	return v
}

// readUint64 reads a little-endian u64.
func (d *decoder) readUint64() uint64 {
	if d.err != nil {
		return 0
	}

	if d.off+8 > len(d.buf) {
		d.err = fmt.Errorf("record truncated at offset %d", d.off)
		return 0
	}

	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8

	return v
}

// readString reads a u32 length prefix followed by that many bytes.
func (d *decoder) readString() string {
	n := d.readUint32()
	if d.err != nil {
		return ""
	}

	if d.off+int(n) > len(d.buf) {
		d.err = fmt.Errorf("field of %d bytes truncated at offset %d", n, d.off)
		return ""
	}

	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)

	return s
}
