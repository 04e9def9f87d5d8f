package connectivity

import (
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("connectivity")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IOracle reports the current network state.
type IOracle interface {
	// IsOnline reports whether the remote service is believed to be reachable.
	IsOnline() bool
	// Quality returns the current link quality. Offline oracles report QualityUnknown.
	Quality() Quality
	// OnReconnect registers fn to be called on every offline to online transition.
	// The returned function removes the registration.
	OnReconnect(fn func()) (cancel func())
	// Conditions returns the current device conditions.
	Conditions() Conditions
}

// Quality is a coarse classification of the link to the remote service.
type Quality int32

const (
	QualityUnknown Quality = iota
	QualityPoor
	QualityModerate
	QualityGood
)

func (q Quality) String() string {
	switch q {
	case QualityPoor:
		return "poor"
	case QualityModerate:
		return "moderate"
	case QualityGood:
		return "good"
	default:
		return "unknown"
	}
}

// Conditions describes the device state relevant for transfers.
type Conditions struct {
	Wifi     bool `json:"wifi"`
	Charging bool `json:"charging"`
}

// Requirement lists the conditions an operation needs before it may be sent.
type Requirement struct {
	WifiOnly      bool `json:"wifiOnly,omitempty"`
	WhileCharging bool `json:"whileCharging,omitempty"`
}

// IsZero reports whether the requirement demands nothing.
func (r Requirement) IsZero() bool {
	return !r.WifiOnly && !r.WhileCharging
}

// Met reports whether c satisfies the requirement.
func (r Requirement) Met(c Conditions) bool {
	if r.WifiOnly && !c.Wifi {
		return false
	}
	if r.WhileCharging && !c.Charging {
		return false
	}
	return true
}

// Ready reports whether an operation with requirement r may be sent through o now.
func Ready(o IOracle, r Requirement) bool {
	return o.IsOnline() && (r.IsZero() || r.Met(o.Conditions()))
}

// --------------------------------------------------------------------------
// Reconnect subscribers
// --------------------------------------------------------------------------

// subscribers holds the OnReconnect callbacks of an oracle
type subscribers struct {
	next atomic.Uint64
	fns  *xsync.MapOf[uint64, func()]
}

func newSubscribers() *subscribers {
	return &subscribers{fns: xsync.NewMapOf[uint64, func()]()}
}

func (s *subscribers) add(fn func()) (cancel func()) {
	id := s.next.Add(1)
	s.fns.Store(id, fn)
	return func() { s.fns.Delete(id) }
}

// fire calls every registered callback in the calling goroutine
func (s *subscribers) fire() {
	Logger.Infof("connection restored, notifying %d subscribers", s.fns.Size())
	s.fns.Range(func(_ uint64, fn func()) bool {
		fn()
		return true
	})
}
