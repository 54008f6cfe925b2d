// Package types holds the shared data model for the HA replication core:
// broker identity, replication levels and the sequence-number sets used to
// track in-flight replicated messages.
package types

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ReplicationLevel is a total order none < configuration < all.
type ReplicationLevel int

const (
	// ReplicateNone means the queue/exchange is not replicated at all.
	ReplicateNone ReplicationLevel = iota
	// ReplicateConfiguration replicates existence of the queue/exchange but not messages.
	ReplicateConfiguration
	// ReplicateAll replicates configuration and messages.
	ReplicateAll
)

func (l ReplicationLevel) String() string {
	switch l {
	case ReplicateNone:
		return "none"
	case ReplicateConfiguration:
		return "configuration"
	case ReplicateAll:
		return "all"
	default:
		return fmt.Sprintf("ReplicationLevel(%d)", int(l))
	}
}

// ParseReplicationLevel parses the wire spelling used in the qpid.replicate
// argument. Unknown spellings return ErrUnknownReplicationLevel.
func ParseReplicationLevel(s string) (ReplicationLevel, error) {
	switch s {
	case "none":
		return ReplicateNone, nil
	case "configuration":
		return ReplicateConfiguration, nil
	case "all":
		return ReplicateAll, nil
	default:
		return ReplicateNone, fmt.Errorf("%w: %q", ErrUnknownReplicationLevel, s)
	}
}

// BrokerStatus is the membership status of a BrokerInfo.
type BrokerStatus int

const (
	StatusJoining BrokerStatus = iota
	StatusCatchup
	StatusReady
	StatusRecovering
	StatusActive
	StatusStandalone
)

func (s BrokerStatus) String() string {
	switch s {
	case StatusJoining:
		return "joining"
	case StatusCatchup:
		return "catchup"
	case StatusReady:
		return "ready"
	case StatusRecovering:
		return "recovering"
	case StatusActive:
		return "active"
	case StatusStandalone:
		return "standalone"
	default:
		return fmt.Sprintf("BrokerStatus(%d)", int(s))
	}
}

// BrokerInfo is the identity of a broker in the cluster. Two BrokerInfos are
// equal iff their SystemID matches; Name, Address and Status are mutable
// metadata riding along with that identity.
type BrokerInfo struct {
	SystemID uuid.UUID
	Name     string
	Address  string
	Status   BrokerStatus
}

// Equal compares BrokerInfo by SystemID only, matching the identity rule in
// the data model: two BrokerInfos are the same broker iff their UUIDs match.
func (b BrokerInfo) Equal(other BrokerInfo) bool {
	return b.SystemID == other.SystemID
}

// ReplicationIdSet is a set of 64-bit sequence numbers ("positions")
// identifying individual messages on a replicated queue. It supports union,
// membership and "does it cover [0,n)" queries cheaply by keeping a sorted
// slice of disjoint ranges.
type ReplicationIdSet struct {
	ranges []idRange
}

type idRange struct {
	lo, hi int64 // [lo, hi)
}

// NewReplicationIdSet builds a set from individual ids.
func NewReplicationIdSet(ids ...int64) *ReplicationIdSet {
	s := &ReplicationIdSet{}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts a single id into the set, merging adjacent ranges.
func (s *ReplicationIdSet) Add(id int64) {
	s.AddRange(id, id+1)
}

// AddRange inserts the half-open range [lo, hi) into the set.
func (s *ReplicationIdSet) AddRange(lo, hi int64) {
	if hi <= lo {
		return
	}
	merged := make([]idRange, 0, len(s.ranges)+1)
	r := idRange{lo, hi}
	inserted := false
	for _, existing := range s.ranges {
		if existing.hi < r.lo {
			merged = append(merged, existing)
			continue
		}
		if existing.lo > r.hi {
			if !inserted {
				merged = append(merged, r)
				inserted = true
			}
			merged = append(merged, existing)
			continue
		}
		// overlapping or touching: merge into r
		if existing.lo < r.lo {
			r.lo = existing.lo
		}
		if existing.hi > r.hi {
			r.hi = existing.hi
		}
	}
	if !inserted {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].lo < merged[j].lo })
	s.ranges = merged
}

// Contains reports whether id is a member of the set.
func (s *ReplicationIdSet) Contains(id int64) bool {
	for _, r := range s.ranges {
		if id >= r.lo && id < r.hi {
			return true
		}
		if r.lo > id {
			break
		}
	}
	return false
}

// ContainsRange reports whether every id in [lo, hi) is a member of the set.
func (s *ReplicationIdSet) ContainsRange(lo, hi int64) bool {
	if hi <= lo {
		return true
	}
	for _, r := range s.ranges {
		if r.lo <= lo && r.hi >= hi {
			return true
		}
	}
	return false
}

// Union merges other into s and returns s.
func (s *ReplicationIdSet) Union(other *ReplicationIdSet) *ReplicationIdSet {
	if other == nil {
		return s
	}
	for _, r := range other.ranges {
		s.AddRange(r.lo, r.hi)
	}
	return s
}

// Ids returns every individual id in the set, ascending. Intended for tests
// and diagnostics, not the hot path.
func (s *ReplicationIdSet) Ids() []int64 {
	var out []int64
	for _, r := range s.ranges {
		for i := r.lo; i < r.hi; i++ {
			out = append(out, i)
		}
	}
	return out
}

// Len returns the number of individual ids represented by the set.
func (s *ReplicationIdSet) Len() int64 {
	var n int64
	for _, r := range s.ranges {
		n += r.hi - r.lo
	}
	return n
}
