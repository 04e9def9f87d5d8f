package serializer

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/ValentinKolb/oKV/rpc/common"
)

// NewGOBSerializer creates a serializer using the gob format. Every message is a
// self contained gob stream, so client and server need no shared encoder state.
func NewGOBSerializer() IRPCSerializer {
	return gobSerializer{}
}

type gobSerializer struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (gobSerializer) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("gob: failed to encode %s message: %w", msg.MsgType, err)
	}
	return buf.Bytes(), nil
}

func (gobSerializer) Deserialize(data []byte, msg *common.Message) error {
	// gob skips zero values, a reused message would keep its old fields
	*msg = common.Message{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(msg); err != nil {
		return fmt.Errorf("gob: failed to decode message: %w", err)
	}
	return nil
}
