package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILocalStore is the contract for the on-device side of the data layer.
// Records are grouped in collections and addressed by the value of their id column.
// Read operations report a missing record through the loaded flag, not through an error.
type ILocalStore interface {
	// Get returns the record with the given id. The boolean indicates whether it was found.
	Get(collection, id string) (record Record, loaded bool, err error)
	// GetAll returns all records of a collection ordered by id.
	GetAll(collection string) (records []Record, err error)
	// GetByQuery returns all records of a collection matching the query.
	GetByQuery(collection string, query Query) (records []Record, err error)
	// Put inserts or replaces a record keyed by idColumn and returns the stored record.
	// A missing or zero id is replaced by the next free numeric id of the collection.
	Put(collection, idColumn string, record Record) (stored Record, err error)
	// PutAll is Put for many records. The write is applied as a whole or not at all.
	PutAll(collection, idColumn string, records []Record) (stored []Record, err error)
	// Patch merges the fields of record into the stored record with the same id.
	// If no record with that id exists the record is inserted.
	Patch(collection, idColumn string, record Record) (stored Record, err error)
	// ReplaceAll atomically replaces the content of a collection with records.
	ReplaceAll(collection, idColumn string, records []Record) (err error)
	// DeleteByID deletes a single record. The boolean indicates whether it existed.
	DeleteByID(collection, id string) (deleted bool, err error)
	// DeleteByIDs deletes many records. The boolean indicates whether at least one existed,
	// in which case the freshness of the whole collection is evicted.
	DeleteByIDs(collection string, ids []string) (deleted bool, err error)
	// DeleteAll removes every record of a collection.
	DeleteAll(collection string) (deleted bool, err error)
	// IsCacheValid reports whether the record exists and was written within ttl.
	IsCacheValid(collection, id string, ttl time.Duration) (valid bool, err error)
	// Close releases the resources held by the store.
	Close() error
}

// Upload describes a file that is sent to the remote store.
type Upload struct {
	// Path of the file on the local file system
	Path string `json:"path"`
	// Key is the form field name the file is sent under
	Key string `json:"key,omitempty"`
	// Fields are additional form fields sent together with the file
	Fields map[string]string `json:"fields,omitempty"`
}

// IRemoteStore is the contract for the network side of the data layer.
// Every error returned is a *Error classified as RetCConnectivity, RetCTimeout, RetCNotFound,
// RetCClient, RetCServer or RetCDecode so callers can tell transport problems from business failures.
// A timed out request may have been applied by the service, so RetCTimeout is not connectivity-class.
// The context is only consulted before a request is dispatched, in-flight calls run to completion.
type IRemoteStore interface {
	// Get returns the record with the given id.
	Get(ctx context.Context, collection, id string) (Record, error)
	// GetList returns all records of a collection.
	GetList(ctx context.Context, collection string) ([]Record, error)
	// Create stores new records. Records carrying an id are upserted.
	Create(ctx context.Context, collection, idColumn string, payload Payload) (Payload, error)
	// Update replaces existing records keyed by idColumn.
	Update(ctx context.Context, collection, idColumn string, payload Payload) (Payload, error)
	// Patch merges fields into an existing record.
	Patch(ctx context.Context, collection, idColumn string, record Record) (Record, error)
	// Delete removes the records with the given ids.
	Delete(ctx context.Context, collection string, ids []string) error
	// Upload sends a file with its form fields and returns the record describing the stored file.
	Upload(ctx context.Context, collection string, file Upload) (Record, error)
	// Download fetches the file at url and writes it to destFile.
	Download(ctx context.Context, url, destFile string) error
	// Ping checks that the remote service is reachable.
	Ping(ctx context.Context) error
	// Close releases the connection to the remote service.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("oKV error (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the return code of err.
// Errors that are not a *Error are reported as RetCInternalError, nil as RetCSuccess.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// IsConnectivity reports whether err is a connectivity-class failure
// (host unreachable, connection refused or reset). Timeouts are not included.
func IsConnectivity(err error) bool {
	return err != nil && CodeOf(err) == RetCConnectivity
}

// IsBusiness reports whether err is a failure reported by the remote service
// or a response that could not be decoded. These are never retried.
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case RetCNotFound, RetCClient, RetCServer, RetCDecode:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess               RetCode = iota // 0: Command executed successfully.
	RetCInternalError                        // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                 // 2: Operation is not supported by the store.
	RetCInvalidOperation                     // 3: Invalid operation (bad arguments).
	RetCNotFound                             // 4: The addressed record does not exist.
	RetCConnectivity                         // 5: The remote service could not be reached.
	RetCClient                               // 6: The remote service rejected the request.
	RetCServer                               // 7: The remote service failed to process the request.
	RetCDecode                               // 8: The response of the remote service could not be decoded.
	RetCNoNetworkNotPersisted                // 9: Offline and the request was not queueable.
	RetCLocalStoreUnavailable                // 10: A disk route was requested without a local store.
	RetCLocalPersistence                     // 11: Writing to the local store failed.
	RetCTimeout                              // 12: The request was sent but no response arrived in time.
)

// String returns the name of the return code.
func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCConnectivity:
		return "Connectivity"
	case RetCClient:
		return "Client"
	case RetCServer:
		return "Server"
	case RetCDecode:
		return "Decode"
	case RetCNoNetworkNotPersisted:
		return "NoNetworkNotPersisted"
	case RetCLocalStoreUnavailable:
		return "LocalStoreUnavailable"
	case RetCLocalPersistence:
		return "LocalPersistence"
	case RetCTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}
