// Package contact defines the Contact tuple and its liveness state
// machine.
package contact

import (
	"time"

	"github.com/neromon/dhtcore/nodeid"
)

// State is a point in the liveness state machine:
// Unknown -> Probing -> Active -> Inactive -> Dead.
type State int

const (
	Unknown State = iota
	Probing
	Active
	Inactive
	Dead
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Probing:
		return "probing"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Dead:
		return "dead"
	default:
		return "invalid"
	}
}

// IdleThreshold is how long an Active contact can go without a response
// before moving to Inactive.
const IdleThreshold = 15 * time.Minute

// MaxFailures is the number of consecutive failures after which a contact
// is considered Dead (and evicted by the RoutingTable).
const MaxFailures = 3

// Contact is (node_id, endpoint_string, last_seen_timestamp,
// failure_count). Endpoint is opaque to the core.
type Contact struct {
	ID           nodeid.NodeId
	Endpoint     string
	LastSeen     time.Time
	FailureCount int
	state        State
}

// New creates a Contact in the Unknown state.
func New(id nodeid.NodeId, endpoint string) Contact {
	return Contact{ID: id, Endpoint: endpoint, state: Unknown}
}

// State returns the contact's current liveness state.
func (c Contact) State() State {
	return c.state
}

// Observe records a successful RPC (inbound or outbound) with this
// contact at time now: Unknown/Probing -> Active on first response,
// Inactive -> Active on any response.
func (c Contact) Observe(now time.Time) Contact {
	c.LastSeen = now
	c.FailureCount = 0
	c.state = Active
	return c
}

// BeginProbe marks a contact as having an outstanding liveness check,
// i.e. the Unknown -> Probing transition on first observation before any
// response has been received.
func (c Contact) BeginProbe() Contact {
	if c.state == Unknown {
		c.state = Probing
	}
	return c
}

// Fail records an RPC failure, advancing the contact toward Dead after
// MaxFailures consecutive failures.
func (c Contact) Fail() Contact {
	c.FailureCount++
	if c.FailureCount >= MaxFailures {
		c.state = Dead
	}
	// A single failure does not demote an Active contact to Inactive;
	// Inactive is reached only via idle timeout (see RefreshIdle).
	return c
}

// RefreshIdle demotes an Active contact to Inactive if it has not
// responded within IdleThreshold.
func (c Contact) RefreshIdle(now time.Time) Contact {
	if c.state == Active && now.Sub(c.LastSeen) > IdleThreshold {
		c.state = Inactive
	}
	return c
}

// IsDead reports whether the contact has exceeded MaxFailures.
func (c Contact) IsDead() bool {
	return c.state == Dead
}
