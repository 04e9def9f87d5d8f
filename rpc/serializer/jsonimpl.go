package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/oKV/rpc/common"
)

// NewJSONSerializer creates a serializer that writes messages as json objects.
// Message types are written by name, the record payload in Message.Value stays base64 encoded json.
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializer{}
}

type jsonSerializer struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (jsonSerializer) Serialize(msg common.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json: failed to encode %s message: %w", msg.MsgType, err)
	}
	return data, nil
}

func (jsonSerializer) Deserialize(data []byte, msg *common.Message) error {
	// fields omitted in data must not keep the values of a previous message
	*msg = common.Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("json: failed to decode message: %w", err)
	}
	return nil
}
