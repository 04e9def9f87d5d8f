package router

import (
	"fmt"

	"github.com/ValentinKolb/oKV/lib/connectivity"
	"github.com/ValentinKolb/oKV/lib/store"
)

// --------------------------------------------------------------------------
// Request kinds
// --------------------------------------------------------------------------

// Kind is the operation a Request performs.
type Kind int

const (
	KindGetOne Kind = iota
	KindGetList
	KindGetByQuery
	KindCreateOne
	KindCreateList
	KindUpdateOne
	KindUpdateList
	KindPatchOne
	KindDeleteByIds
	KindDeleteAll
	KindUploadFile
	KindDownloadFile
)

var kindNames = [...]string{
	KindGetOne:       "GetOne",
	KindGetList:      "GetList",
	KindGetByQuery:   "GetByQuery",
	KindCreateOne:    "CreateOne",
	KindCreateList:   "CreateList",
	KindUpdateOne:    "UpdateOne",
	KindUpdateList:   "UpdateList",
	KindPatchOne:     "PatchOne",
	KindDeleteByIds:  "DeleteByIds",
	KindDeleteAll:    "DeleteAll",
	KindUploadFile:   "UploadFile",
	KindDownloadFile: "DownloadFile",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown request kind %q", name)
}

// IsRead reports whether the kind only reads records.
func (k Kind) IsRead() bool {
	return k == KindGetOne || k == KindGetList || k == KindGetByQuery
}

// IsWrite reports whether the kind changes state and may be queued.
// Downloads count as writes because they change the local file system.
func (k Kind) IsWrite() bool {
	return !k.IsRead()
}

// IsCreate reports whether the kind creates records.
func (k Kind) IsCreate() bool {
	return k == KindCreateOne || k == KindCreateList
}

// IsFile reports whether the kind transfers a file. File kinds are always sent to the remote store.
func (k Kind) IsFile() bool {
	return k == KindUploadFile || k == KindDownloadFile
}

// --------------------------------------------------------------------------
// Routing
// --------------------------------------------------------------------------

// Routing selects the store a request is directed to.
type Routing int

const (
	// RoutingAuto sends requests with a URL to the remote store and everything else to the local store
	RoutingAuto Routing = iota
	// RoutingCloud sends the request to the remote store
	RoutingCloud
	// RoutingDisk sends the request to the local store
	RoutingDisk
)

func (r Routing) String() string {
	switch r {
	case RoutingCloud:
		return "cloud"
	case RoutingDisk:
		return "disk"
	default:
		return "auto"
	}
}

// ParseRouting parses "auto", "cloud" or "disk".
func ParseRouting(s string) (Routing, error) {
	switch s {
	case "", "auto":
		return RoutingAuto, nil
	case "cloud":
		return RoutingCloud, nil
	case "disk":
		return RoutingDisk, nil
	default:
		return RoutingAuto, fmt.Errorf("unknown routing %q (expected auto, cloud or disk)", s)
	}
}

// Decision is the route the router chose for a request.
type Decision int

const (
	DecisionRemoteOnly Decision = iota
	DecisionLocalOnly
	DecisionRemoteThenCacheLocally
	DecisionQueued
	DecisionDualRead
)

func (d Decision) String() string {
	switch d {
	case DecisionRemoteOnly:
		return "RemoteOnly"
	case DecisionLocalOnly:
		return "LocalOnly"
	case DecisionRemoteThenCacheLocally:
		return "RemoteThenCacheLocally"
	case DecisionQueued:
		return "Queued"
	case DecisionDualRead:
		return "DualRead"
	default:
		return "Unknown"
	}
}

// Source tells where the payload of a Result comes from.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
	SourceQueue
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "queue"
	}
}

// --------------------------------------------------------------------------
// Request and Result
// --------------------------------------------------------------------------

// Options are the routing flags of a request.
type Options struct {
	// Routing selects the target store
	Routing Routing
	// URL is the remote locator. A non empty URL directs the request to the remote store.
	URL string
	// IDColumn is the field holding the record id, Config.DefaultIDColumn if empty
	IDColumn string
	// Persist writes the remote result to the local store
	Persist bool
	// Queueable defers the write instead of failing while offline
	Queueable bool
	// PreferDisk serves remote reads from the local store while offline
	PreferDisk bool
	// DualRead reads both stores and reconciles the local copy with the remote result
	DualRead bool
	// Conditions a file transfer requires before it is sent
	Conditions connectivity.Requirement
}

// FileSpec describes the file of an upload or download.
type FileSpec struct {
	// Path of the file to upload
	Path string `json:"path,omitempty"`
	// Key is the form field name of the uploaded file
	Key string `json:"key,omitempty"`
	// Fields are sent together with an upload
	Fields map[string]string `json:"fields,omitempty"`
	// Dest is the destination of a download
	Dest string `json:"dest,omitempty"`
}

// Request is a logical data operation.
type Request struct {
	Kind       Kind
	Collection string
	// ID addresses a single record (GetOne, UpdateOne)
	ID string
	// IDs addresses many records (DeleteByIds)
	IDs []string
	// Payload carries the records of create, update and patch requests
	Payload store.Payload
	// Query filters GetByQuery requests
	Query store.Query
	// File is used by UploadFile and DownloadFile
	File FileSpec
	Options
}

// Result is the outcome of a request.
type Result struct {
	Payload  store.Payload
	Source   Source
	Decision Decision
	// Queued is set if the write was deferred. The payload then holds the queued records.
	Queued bool
	// OperationID identifies the queued operation
	OperationID string
	// Err is the error of the request, also returned by Execute
	Err error
}
