// Package communicator implements the per-task in-memory mailbox: it
// buffers round messages between devices, derives each device's outgoing
// message for the current round, and tracks decisions and acknowledgements.
// It mutates no persistent state and performs no I/O; Protocol
// implementations are the only callers that advance its round-local
// buffers.
package communicator

import (
	"bytes"
	"sort"
	"sync"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/meesign/meesignd/coreerrors"
	"github.com/meesign/meesignd/log"
)

// bundleCacheBytes bounds the fastcache instance fronting outbound bundle
// re-reads; sized for a handful of in-flight tasks' round messages rather
// than a long-lived dataset.
const bundleCacheBytes = 4 * 1024 * 1024

var logger = log.NewModuleLogger(log.Communicator)

// Communicator holds the participant list (sorted by identifier for a
// deterministic tie-break), per-device decisions/acknowledgements, the
// outgoing message for the current round and the inbound matrix being
// filled in by Update. A single sync.RWMutex guards all mutable state:
// read-only queries take RLock, state-mutating calls take Lock.
type Communicator struct {
	mu sync.RWMutex

	participants [][]byte          // sorted by identifier bytes
	index        map[string]int    // identifier -> participant index
	active       map[string]bool   // participant identifier -> active this round

	decisions map[string]int // identifier -> decision (pending=0, accept=1, reject=2)
	acked     map[string]bool

	outbound map[string][]byte   // identifier -> outbound message for current round
	inbound  map[string][][]byte // sender identifier -> messages it sent this round, indexed by recipient position

	// bundleCache fronts GetMessage with a second-tier byte cache so a
	// device that polls for its round message repeatedly (get_task without
	// an intervening update) doesn't re-walk the outbound map every call
	// once the round has a sizeable participant set. It is reset whenever
	// outbound is rebuilt.
	bundleCache *fastcache.Cache

	finalMessage []byte
}

const (
	decisionPending = 0
	decisionAccept  = 1
	decisionReject  = 2
)

// New builds a Communicator for the given set of participant identifiers.
// Participants are sorted lexicographically by identifier bytes so every
// party has a deterministic index.
func New(participantIDs [][]byte) *Communicator {
	sorted := make([][]byte, len(participantIDs))
	copy(sorted, participantIDs)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	c := &Communicator{
		participants: sorted,
		index:        make(map[string]int, len(sorted)),
		active:       make(map[string]bool, len(sorted)),
		decisions:    make(map[string]int, len(sorted)),
		acked:        make(map[string]bool, len(sorted)),
		outbound:     make(map[string][]byte, len(sorted)),
		inbound:      make(map[string][][]byte, len(sorted)),
		bundleCache:  fastcache.New(bundleCacheBytes),
	}
	for i, id := range sorted {
		c.index[string(id)] = i
		c.active[string(id)] = true
	}
	return c
}

// Participants returns the sorted participant identifier list.
func (c *Communicator) Participants() [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([][]byte, len(c.participants))
	copy(out, c.participants)
	return out
}

// SetActiveDevices restricts participation to the given subset for this
// task's execution (e.g. the signing quorum); a nil subset means all
// original participants remain active.
func (c *Communicator) SetActiveDevices(subset [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subset == nil {
		for _, id := range c.participants {
			c.active[string(id)] = true
		}
		return
	}
	for _, id := range c.participants {
		c.active[string(id)] = false
	}
	for _, id := range subset {
		c.active[string(id)] = true
	}
}

func (c *Communicator) isActiveLocked(id string) bool {
	return c.active[id]
}

// activeIDsLocked returns the currently active participant identifiers in
// sorted order, must be called with the lock held.
func (c *Communicator) activeIDsLocked() [][]byte {
	var out [][]byte
	for _, id := range c.participants {
		if c.active[string(id)] {
			out = append(out, id)
		}
	}
	return out
}

// SendAll computes each active device's outbound message for the current
// round using fn, which receives the device's deterministic participant
// index.
func (c *Communicator) SendAll(fn func(index int) []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbound = make(map[string][]byte, len(c.participants))
	c.acked = make(map[string]bool, len(c.participants))
	c.bundleCache.Reset()
	for _, id := range c.activeIDsLocked() {
		c.outbound[string(id)] = fn(c.index[string(id)])
	}
}

// ReceiveMessages stores the per-recipient bundle a device addressed this
// round. The entry at the sender's own index is always nil.
func (c *Communicator) ReceiveMessages(deviceID []byte, messages [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idKey := string(deviceID)
	if !c.isActiveLocked(idKey) {
		return coreerrors.New(coreerrors.ProtocolError, "device %x is not an active participant", deviceID)
	}
	if len(messages) != len(c.participants) {
		return coreerrors.New(coreerrors.ProtocolError, "expected %d messages, got %d", len(c.participants), len(messages))
	}
	c.inbound[idKey] = messages
	return nil
}

// RoundReceived reports whether every active device's inbound row has been
// populated.
func (c *Communicator) RoundReceived() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.activeIDsLocked() {
		if _, ok := c.inbound[string(id)]; !ok {
			return false
		}
	}
	return true
}

// Relay transposes the inbound matrix into the next round's outbound
// bundles: outbound[i] = [inbound[j][i] for j != i], then clears inbound.
func (c *Communicator) Relay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.activeIDsLocked()
	next := make(map[string][]byte, len(active))
	for _, recipient := range active {
		ri := c.index[string(recipient)]
		var bundle [][]byte
		for _, sender := range active {
			if bytes.Equal(sender, recipient) {
				continue
			}
			row := c.inbound[string(sender)]
			if row == nil || ri >= len(row) {
				continue
			}
			bundle = append(bundle, row[ri])
		}
		next[string(recipient)] = encodeBundle(bundle)
	}
	c.outbound = next
	c.acked = make(map[string]bool, len(active))
	c.inbound = make(map[string][][]byte, len(active))
	c.bundleCache.Reset()
}

// encodeBundle concatenates a recipient's per-sender messages with a simple
// length-prefixed framing; Protocol implementations that need the original
// per-sender messages decode it with DecodeBundle.
func encodeBundle(msgs [][]byte) []byte {
	var buf bytes.Buffer
	for _, m := range msgs {
		var lenBuf [4]byte
		n := len(m)
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		buf.Write(lenBuf[:])
		buf.Write(m)
	}
	return buf.Bytes()
}

// DecodeBundle reverses encodeBundle.
func DecodeBundle(bundle []byte) [][]byte {
	var out [][]byte
	for len(bundle) >= 4 {
		n := int(bundle[0])<<24 | int(bundle[1])<<16 | int(bundle[2])<<8 | int(bundle[3])
		bundle = bundle[4:]
		if n > len(bundle) {
			break
		}
		out = append(out, bundle[:n])
		bundle = bundle[n:]
	}
	return out
}

// GetMessage returns the outbound message for device's current round, or
// nil if the device has already acknowledged it.
func (c *Communicator) GetMessage(deviceID []byte) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := string(deviceID)
	if c.acked[key] {
		return nil
	}
	if cached, ok := c.bundleCache.HasGet(nil, deviceID); ok {
		return cached
	}
	msg := c.outbound[key]
	if msg != nil {
		c.bundleCache.Set(deviceID, msg)
	}
	return msg
}

// Decide records device's accept/reject vote. Applying the same value twice
// is a no-op; a conflicting second call is ignored and the first decision
// wins.
func (c *Communicator) Decide(deviceID []byte, accept bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := string(deviceID)
	if c.decisions[key] != decisionPending {
		return
	}
	if accept {
		c.decisions[key] = decisionAccept
	} else {
		c.decisions[key] = decisionReject
	}
}

// AcceptCount returns the number of participants who have accepted.
func (c *Communicator) AcceptCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, d := range c.decisions {
		if d == decisionAccept {
			n++
		}
	}
	return n
}

// RejectCount returns the number of participants who have rejected.
func (c *Communicator) RejectCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, d := range c.decisions {
		if d == decisionReject {
			n++
		}
	}
	return n
}

// DeviceDecided reports whether device has cast any decision.
func (c *Communicator) DeviceDecided(deviceID []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decisions[string(deviceID)] != decisionPending
}

// DecisionState mirrors domain.Decision without importing the domain
// package, keeping communicator dependency-free of the higher layers.
type DecisionState int

const (
	DecisionPending DecisionState = iota
	DecisionAccepted
	DecisionRejected
)

// DecisionOf returns device's current decision state.
func (c *Communicator) DecisionOf(deviceID []byte) DecisionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.decisions[string(deviceID)] {
	case decisionAccept:
		return DecisionAccepted
	case decisionReject:
		return DecisionRejected
	default:
		return DecisionPending
	}
}

// Acknowledge marks device as having received the final message.
// Idempotent.
func (c *Communicator) Acknowledge(deviceID []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked[string(deviceID)] = true
}

// DeviceAcknowledged reports whether device has acknowledged the current
// round's (or final) output.
func (c *Communicator) DeviceAcknowledged(deviceID []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acked[string(deviceID)]
}

// WaitingFor reports whether the current round's outbound message is still
// unacknowledged/unconsumed for device.
func (c *Communicator) WaitingFor(deviceID []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := string(deviceID)
	if !c.isActiveLocked(key) {
		return false
	}
	return !c.acked[key]
}

// SetFinalMessage stores the protocol's final artifact, made available via
// GetFinalMessage.
func (c *Communicator) SetFinalMessage(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalMessage = msg
}

// GetFinalMessage returns the protocol's final artifact, if any.
func (c *Communicator) GetFinalMessage() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalMessage
}

// ClearInbound drops any buffered inbound rows without relaying them;
// used when a task finalizes and no further round is expected.
func (c *Communicator) ClearInbound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = make(map[string][][]byte)
}

// ResetForRestart clears round-local buffers (outbound, inbound,
// acknowledgements) ahead of a fresh Initialize call, while preserving
// accept/reject decisions so a restarted task keeps the approvals it
// already collected.
func (c *Communicator) ResetForRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbound = make(map[string][]byte)
	c.inbound = make(map[string][][]byte)
	c.acked = make(map[string]bool)
	c.bundleCache.Reset()
	c.finalMessage = nil
}

// Index returns the deterministic participant index for deviceID, and
// whether it is a known participant.
func (c *Communicator) Index(deviceID []byte) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.index[string(deviceID)]
	return idx, ok
}

// IsParticipant reports whether deviceID belongs to this communicator's
// original participant set.
func (c *Communicator) IsParticipant(deviceID []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[string(deviceID)]
	return ok
}
