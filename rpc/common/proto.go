package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type" cbor:"1,keyasint"`

	// General fields
	Collection string   `json:"collection,omitempty" cbor:"2,keyasint,omitempty"` // Used for: all record and upload operations
	Key        string   `json:"key,omitempty" cbor:"3,keyasint,omitempty"`        // Used for: Get (id), Upload (file name), Download (url)
	IDColumn   string   `json:"idColumn,omitempty" cbor:"4,keyasint,omitempty"`   // Used for: Create, Update, Patch
	IDs        []string `json:"ids,omitempty" cbor:"5,keyasint,omitempty"`        // Used for: Delete
	Value      []byte   `json:"value,omitempty" cbor:"6,keyasint,omitempty"`      // JSON encoded store.Payload, or the form fields of an Upload request
	File       []byte   `json:"file,omitempty" cbor:"7,keyasint,omitempty"`       // Used for: Upload (request), Download (response)

	// Response only fields
	Ok   bool   `json:"ok,omitempty" cbor:"8,keyasint,omitempty"`   // Used for: Delete (at least one record existed)
	Code uint64 `json:"code,omitempty" cbor:"9,keyasint,omitempty"` // store.RetCode of an error response
	Err  string `json:"err,omitempty" cbor:"10,keyasint,omitempty"` // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPingRequest creates a new Ping request
func NewPingRequest() *Message {
	return &Message{MsgType: MsgTPing}
}

// NewGetRequest creates a new Get request
func NewGetRequest(collection, id string) *Message {
	return &Message{
		MsgType:    MsgTGet,
		Collection: collection,
		Key:        id,
	}
}

// NewListRequest creates a new List request
func NewListRequest(collection string) *Message {
	return &Message{
		MsgType:    MsgTList,
		Collection: collection,
	}
}

// NewCreateRequest creates a new Create request. value is a JSON encoded store.Payload.
func NewCreateRequest(collection, idColumn string, value []byte) *Message {
	return &Message{
		MsgType:    MsgTCreate,
		Collection: collection,
		IDColumn:   idColumn,
		Value:      value,
	}
}

// NewUpdateRequest creates a new Update request. value is a JSON encoded store.Payload.
func NewUpdateRequest(collection, idColumn string, value []byte) *Message {
	return &Message{
		MsgType:    MsgTUpdate,
		Collection: collection,
		IDColumn:   idColumn,
		Value:      value,
	}
}

// NewPatchRequest creates a new Patch request. value is a JSON encoded single store.Payload.
func NewPatchRequest(collection, idColumn string, value []byte) *Message {
	return &Message{
		MsgType:    MsgTPatch,
		Collection: collection,
		IDColumn:   idColumn,
		Value:      value,
	}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(collection string, ids []string) *Message {
	return &Message{
		MsgType:    MsgTDelete,
		Collection: collection,
		IDs:        ids,
	}
}

// NewUploadRequest creates a new Upload request. fields is a JSON encoded map of form fields.
func NewUploadRequest(collection, name string, fields, content []byte) *Message {
	return &Message{
		MsgType:    MsgTUpload,
		Collection: collection,
		Key:        name,
		Value:      fields,
		File:       content,
	}
}

// NewDownloadRequest creates a new Download request
func NewDownloadRequest(url string) *Message {
	return &Message{
		MsgType: MsgTDownload,
		Key:     url,
	}
}

// NewResponse creates a successful response to a request of type t
func NewResponse(t MessageType, value []byte) *Message {
	return &Message{
		MsgType: t,
		Value:   value,
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code uint64, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    code,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:  "success",
	MsgTError:    "error",
	MsgTPing:     "ping",
	MsgTGet:      "get",
	MsgTList:     "list",
	MsgTCreate:   "create",
	MsgTUpdate:   "update",
	MsgTPatch:    "patch",
	MsgTDelete:   "delete",
	MsgTUpload:   "upload",
	MsgTDownload: "download",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, name := range messageTypeNames {
		if name == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred
	MsgTPing                // Reachability check

	// Record operations

	MsgTGet    // Get a record by id
	MsgTList   // Get all records of a collection
	MsgTCreate // Create records (upsert when an id is present)
	MsgTUpdate // Replace records
	MsgTPatch  // Merge fields into a record
	MsgTDelete // Delete records by id

	// File operations

	MsgTUpload   // Store a file
	MsgTDownload // Fetch a stored file
)
