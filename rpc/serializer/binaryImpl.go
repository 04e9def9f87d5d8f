package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/oKV/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: 1 byte MsgType, 2 bytes flags (big endian), then every present field in flag order.
// Strings and byte slices are prefixed with a uint32 length, IDs with a uint32 count.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasCollection uint16 = 1 << iota
	hasKey
	hasIDColumn
	hasIDs
	hasValue
	hasFile
	hasOk
	hasCode
	hasErr
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	w := binaryWriter{buf: make([]byte, headerSize, b.sizeBytes(msg))}
	w.buf[0] = byte(msg.MsgType)

	var flags uint16
	if msg.Collection != "" {
		flags |= hasCollection
		w.string(msg.Collection)
	}
	if msg.Key != "" {
		flags |= hasKey
		w.string(msg.Key)
	}
	if msg.IDColumn != "" {
		flags |= hasIDColumn
		w.string(msg.IDColumn)
	}
	if msg.IDs != nil {
		flags |= hasIDs
		w.uint32(uint32(len(msg.IDs)))
		for _, id := range msg.IDs {
			w.string(id)
		}
	}
	if msg.Value != nil {
		flags |= hasValue
		w.bytes(msg.Value)
	}
	if msg.File != nil {
		flags |= hasFile
		w.bytes(msg.File)
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Code != 0 {
		flags |= hasCode
		w.buf = binary.BigEndian.AppendUint64(w.buf, msg.Code)
	}
	if msg.Err != "" {
		flags |= hasErr
		w.string(msg.Err)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(w.buf[1:3], flags)
	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := binaryReader{data: data, pos: headerSize}

	if flags&hasCollection != 0 {
		msg.Collection = r.string("collection")
	}
	if flags&hasKey != 0 {
		msg.Key = r.string("key")
	}
	if flags&hasIDColumn != 0 {
		msg.IDColumn = r.string("id column")
	}
	if flags&hasIDs != 0 {
		n := r.uint32("id count")
		if r.err == nil && int(n) > len(data)-r.pos {
			r.err = fmt.Errorf("data too short for %d ids", n)
		}
		if r.err == nil {
			msg.IDs = make([]string, 0, n)
			for i := uint32(0); i < n && r.err == nil; i++ {
				msg.IDs = append(msg.IDs, r.string("id"))
			}
		}
	}
	if flags&hasValue != 0 {
		msg.Value = r.bytes("value")
	}
	if flags&hasFile != 0 {
		msg.File = r.bytes("file")
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasCode != 0 {
		if r.need(8, "code") {
			msg.Code = binary.BigEndian.Uint64(data[r.pos : r.pos+8])
			r.pos += 8
		}
	}
	if flags&hasErr != 0 {
		msg.Err = r.string("error")
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize
	if msg.Collection != "" {
		size += 4 + len(msg.Collection)
	}
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.IDColumn != "" {
		size += 4 + len(msg.IDColumn)
	}
	if msg.IDs != nil {
		size += 4
		for _, id := range msg.IDs {
			size += 4 + len(id)
		}
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.File != nil {
		size += 4 + len(msg.File)
	}
	if msg.Code != 0 {
		size += 8
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	return size
}

// binaryWriter appends length prefixed fields
type binaryWriter struct {
	buf []byte
}

func (w *binaryWriter) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *binaryWriter) string(s string) {
	w.uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *binaryWriter) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// binaryReader reads length prefixed fields. The first error sticks, later reads are no-ops.
type binaryReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binaryReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *binaryReader) uint32(field string) uint32 {
	if !r.need(4, field+" length") {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *binaryReader) string(field string) string {
	n := int(r.uint32(field))
	if !r.need(n, field) {
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

// bytes copies the field, an empty field becomes an empty, non nil slice
func (r *binaryReader) bytes(field string) []byte {
	n := int(r.uint32(field))
	if !r.need(n, field) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}
