package rendezvous

import (
	"fmt"
	"sort"
	"sync"
)

// maxSuffix is the largest suffix CreateIP may hand out. It is a fixed
// property of the address grammar, not a tunable.
const maxSuffix = 255

// member is the per-suffix allocation bucket: the set of ports handed out
// under one (subnet, suffix) pair.
type member struct {
	ports []int // sorted, unique
}

// Allocator holds the subnet table: a mapping subnet -> suffix -> member.
// All mutations happen under a single mutex, so uniqueness and gap-filling
// hold without any operation ever observing another mid-flight.
type Allocator struct {
	mu      sync.Mutex
	subnets map[string]map[int]*member
}

// NewAllocator returns an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{subnets: make(map[string]map[int]*member)}
}

// ErrOverflow is returned by CreateIP when a subnet has no free suffix left
// in 0..255.
var ErrOverflow = fmt.Errorf("rendezvous: subnet overflow")

// ErrSubnetMissing is returned when an operation references a subnet (or the
// subnet of an id/alias) that was never materialized, or was already
// released.
var ErrSubnetMissing = fmt.Errorf("rendezvous: subnet does not exist")

// ErrSuffixMissing is returned when an operation references a suffix that
// was never materialized, or was already released.
var ErrSuffixMissing = fmt.Errorf("rendezvous: suffix does not exist")

// ErrPortAllocated is returned by ClaimPort when the requested port is
// already present under the target (subnet, suffix).
var ErrPortAllocated = fmt.Errorf("rendezvous: port already allocated")

// ErrInvalidSubnet is returned by CreateIP when subnet does not match the
// three-octet grammar.
var ErrInvalidSubnet = fmt.Errorf("rendezvous: malformed subnet")

// ErrInvalidID is returned by CreatePort when id does not match the
// "subnet.suffix" grammar.
var ErrInvalidID = fmt.Errorf("rendezvous: malformed id")

// ErrInvalidAlias is returned by ClaimPort when alias does not match the
// "id:port" grammar.
var ErrInvalidAlias = fmt.Errorf("rendezvous: malformed alias")

// firstGap returns the smallest non-negative integer not present in the
// sorted slice values: walk the sorted list in index order, the first index
// at which value[i] != i is the answer; if none is found the answer is
// len(values).
func firstGap(values []int) int {
	for i, v := range values {
		if v != i {
			return i
		}
	}
	return len(values)
}

// insertSorted inserts v into the sorted, unique slice s and returns the
// result. v must not already be present.
func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	if i >= len(s) || s[i] != v {
		return s
	}
	return append(s[:i], s[i+1:]...)
}

// CreateIP allocates the smallest free suffix in subnet, materializing the
// subnet bucket on first use. It returns ErrOverflow iff the smallest free
// suffix would exceed maxSuffix.
func (a *Allocator) CreateIP(subnet string) (ID, error) {
	if !validSubnet(subnet) {
		return "", ErrInvalidSubnet
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	suffixes, ok := a.subnets[subnet]
	if !ok {
		suffixes = make(map[int]*member)
		a.subnets[subnet] = suffixes
	}

	used := make([]int, 0, len(suffixes))
	for s := range suffixes {
		used = append(used, s)
	}
	sort.Ints(used)

	n := firstGap(used)
	if n > maxSuffix {
		return "", ErrOverflow
	}

	suffixes[n] = &member{}
	return ID(fmt.Sprintf("%s.%d", subnet, n)), nil
}

// CreatePort allocates the smallest free port under the (subnet, suffix) of
// id.
func (a *Allocator) CreatePort(id ID) (Alias, error) {
	if !id.Valid() {
		return "", ErrInvalidID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	subnet := id.Subnet()
	suffix, ok := id.Suffix()
	if !ok {
		return "", ErrSuffixMissing
	}

	suffixes, ok := a.subnets[subnet]
	if !ok {
		return "", ErrSubnetMissing
	}
	m, ok := suffixes[suffix]
	if !ok {
		return "", ErrSuffixMissing
	}

	p := firstGap(m.ports)
	m.ports = insertSorted(m.ports, p)
	return NewAlias(id, p), nil
}

// ClaimPort inserts the port named by alias explicitly. If the (subnet,
// suffix) bucket does not exist, it is created. It fails with
// ErrPortAllocated if the port is already present.
func (a *Allocator) ClaimPort(alias Alias) error {
	if !alias.Valid() {
		return ErrInvalidAlias
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	id := alias.ID()
	subnet := id.Subnet()
	suffix, ok := id.Suffix()
	if !ok {
		return ErrSubnetMissing
	}
	port, ok := alias.Port()
	if !ok {
		return ErrSubnetMissing
	}

	suffixes, ok := a.subnets[subnet]
	if !ok {
		suffixes = make(map[int]*member)
		a.subnets[subnet] = suffixes
	}
	m, ok := suffixes[suffix]
	if !ok {
		m = &member{}
		suffixes[suffix] = m
	}

	i := sort.SearchInts(m.ports, port)
	if i < len(m.ports) && m.ports[i] == port {
		return ErrPortAllocated
	}
	m.ports = insertSorted(m.ports, port)
	return nil
}

// ReleaseIP deletes the suffix entry for id. It silently no-ops if absent.
func (a *Allocator) ReleaseIP(id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	subnet := id.Subnet()
	suffix, ok := id.Suffix()
	if !ok {
		return
	}
	if suffixes, ok := a.subnets[subnet]; ok {
		delete(suffixes, suffix)
	}
}

// ReleasePort removes the port named by alias from its suffix's port list.
// It silently no-ops if absent.
func (a *Allocator) ReleasePort(alias Alias) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := alias.ID()
	subnet := id.Subnet()
	suffix, ok := id.Suffix()
	if !ok {
		return
	}
	port, ok := alias.Port()
	if !ok {
		return
	}
	suffixes, ok := a.subnets[subnet]
	if !ok {
		return
	}
	m, ok := suffixes[suffix]
	if !ok {
		return
	}
	m.ports = removeSorted(m.ports, port)
}
