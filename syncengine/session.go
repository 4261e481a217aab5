package syncengine

import (
	"encoding/json"
	"sync"

	"github.com/luvjson/blockspace/awareness"
	"github.com/luvjson/blockspace/luvjson/common"
	"github.com/luvjson/blockspace/luvjson/crdt"
	"github.com/luvjson/blockspace/workspace/werr"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State is a sync session's position in the handshake state machine.
type State int

const (
	StateInitial State = iota
	StateAwaitingStep2
	StateSynced
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateAwaitingStep2:
		return "awaiting_step2"
	case StateSynced:
		return "synced"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Host is the workspace surface a sync session needs. Satisfied by
// *workspace.Workspace; kept as an interface so syncengine never imports
// workspace directly, mirroring the block package's own Txn pattern.
type Host interface {
	ClientID() uint64
	StateVector() map[string]uint64
	NodesSince(sv map[string]uint64) []crdt.Node
	RootID() (common.LogicalTimestamp, error)
	ApplyRemoteUpdate(nodes []crdt.Node) bool
	AdoptRemoteRoot(id common.LogicalTimestamp)
	Awareness() *awareness.State
}

// CustomHandler answers a Custom frame's application-defined tag and bytes,
// optionally returning a reply payload to send back.
type CustomHandler func(tag byte, payload []byte) ([]byte, error)

// Session is one peer connection's sync state. Not safe for concurrent
// Inbound calls from multiple goroutines on the same session; a transport
// adapter should serialize delivery per session, which every transport.Session
// implementation in this tree does.
type Session struct {
	mu sync.Mutex

	host Host
	log  *zap.Logger

	state         State
	violations    int
	maxViolations int

	customHandler CustomHandler
	broadcast     func(frame []byte)

	buf []byte
}

// NewSession creates a sync session bound to host. maxViolations bounds how
// many malformed frames this session tolerates before it is closed with
// ProtocolViolation; 0 selects a default of 8.
func NewSession(host Host, log *zap.Logger, maxViolations int) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if maxViolations <= 0 {
		maxViolations = 8
	}
	return &Session{
		host:          host,
		log:           log,
		state:         StateInitial,
		maxViolations: maxViolations,
	}
}

// State returns the session's current state machine position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnCustom installs the handler for Custom frames. A session with no handler
// drops every Custom frame it receives, logging a warning.
func (s *Session) OnCustom(h CustomHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customHandler = h
}

// OnBroadcast installs the hook a session calls with the re-encoded frame of
// an accepted Update, so a caller fanning one session's traffic out to other
// peers (a hub, or a shared pubsub topic that already excludes the sender)
// has something to forward. A session with no hook installed drops the
// re-encoded frame silently; the merge into the host document still happens.
func (s *Session) OnBroadcast(fn func(frame []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = fn
}

// LocalUpdate encodes the host's nodes new since sv as an Update frame, for a
// caller that wants to push local changes to a peer outside of the Step1/
// Step2 handshake (e.g. an out-of-band broadcast after a local write).
func (s *Session) LocalUpdate(sv map[string]uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rootID, err := s.host.RootID()
	if err != nil {
		return nil, errors.Wrap(err, "root id")
	}
	nodes := s.host.NodesSince(sv)
	frame, err := EncodeSync(SyncUpdate, rootID, nodes)
	if err != nil {
		return nil, errors.Wrap(err, "encode update")
	}
	return frame, nil
}

// Init returns the frames a session sends on open: a Step1 announcing the
// local state vector, followed by an AwarenessQuery. Transitions the session
// from Initial to AwaitingStep2.
func (s *Session) Init() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := s.host.StateVector()
	if s.state == StateInitial {
		s.state = StateAwaitingStep2
	}
	return [][]byte{EncodeStep1(sv), EncodeAwarenessQuery()}
}

// Inbound feeds newly received bytes into the session, decoding as many
// complete frames as are available, applying each, and returning the reply
// frames to send back in the order the inputs were consumed. A malformed
// frame is dropped and parsing resumes at the next frame boundary; crossing
// maxViolations closes the session with ProtocolViolation.
func (s *Session) Inbound(data []byte) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDenied {
		return nil, werr.ProtocolViolation{Reason: "session is denied"}
	}

	s.buf = append(s.buf, data...)
	frames, consumed := splitFrames(s.buf)
	s.buf = s.buf[consumed:]

	var replies [][]byte
	for _, f := range frames {
		reply, err := s.handleFrame(f)
		if err != nil {
			s.violations++
			s.log.Warn("dropping malformed frame", zap.String("tag", f.tag.String()), zap.Error(err))
			if s.violations >= s.maxViolations {
				s.state = StateDenied
				return replies, werr.ProtocolViolation{Reason: "too many malformed frames"}
			}
			continue
		}
		replies = append(replies, reply...)
	}
	return replies, nil
}

func (s *Session) handleFrame(f rawFrame) ([][]byte, error) {
	switch f.tag {
	case TagSync:
		return s.handleSync(f.payload)
	case TagAwareness:
		return s.handleAwareness(f.payload)
	case TagAwarenessQuery:
		return s.handleAwarenessQuery()
	case TagAuth:
		return s.handleAuth(f.payload)
	case TagCustom:
		return s.handleCustom(f.payload)
	default:
		return nil, errors.Errorf("unknown frame tag 0x%02x", byte(f.tag))
	}
}

func (s *Session) handleSync(payload []byte) ([][]byte, error) {
	if len(payload) < 1 {
		return nil, errors.New("empty sync payload")
	}
	kind := SyncKind(payload[0])
	body := payload[1:]

	switch kind {
	case SyncStep1:
		var step1 step1Body
		if err := json.Unmarshal(body, &step1); err != nil {
			return nil, errors.Wrap(err, "decode step1")
		}
		rootID, err := s.host.RootID()
		if err != nil {
			return nil, errors.Wrap(err, "root id")
		}
		nodes := s.host.NodesSince(step1.StateVector)
		frame, err := EncodeSync(SyncStep2, rootID, nodes)
		if err != nil {
			return nil, errors.Wrap(err, "encode step2")
		}
		return [][]byte{frame}, nil

	case SyncStep2:
		var sb syncBody
		if err := json.Unmarshal(body, &sb); err != nil {
			return nil, errors.Wrap(err, "decode sync body")
		}
		nodes, err := decodeSyncNodes(sb.Nodes)
		if err != nil {
			return nil, err
		}
		s.host.ApplyRemoteUpdate(nodes)
		s.host.AdoptRemoteRoot(sb.RootID)
		if s.state == StateAwaitingStep2 || s.state == StateInitial {
			s.state = StateSynced
		}
		return nil, nil

	case SyncUpdate:
		var sb syncBody
		if err := json.Unmarshal(body, &sb); err != nil {
			return nil, errors.Wrap(err, "decode sync body")
		}
		nodes, err := decodeSyncNodes(sb.Nodes)
		if err != nil {
			return nil, err
		}

		svBefore := s.host.StateVector()
		changed := s.host.ApplyRemoteUpdate(nodes)
		s.host.AdoptRemoteRoot(sb.RootID)

		// A duplicate or no-op update produces no output: nothing to
		// canonicalize, nothing to re-broadcast.
		if !changed {
			return nil, nil
		}

		rootID, err := s.host.RootID()
		if err != nil {
			return nil, errors.Wrap(err, "root id")
		}
		// Re-encode from the post-merge document rather than relay sb.Nodes
		// verbatim: this canonicalizes the update and folds in any
		// concurrent local mutations the sender never saw.
		forward := s.host.NodesSince(svBefore)
		frame, err := EncodeSync(SyncUpdate, rootID, forward)
		if err != nil {
			return nil, errors.Wrap(err, "encode update")
		}
		if s.broadcast != nil {
			s.broadcast(frame)
		}
		// Never returned to the caller: a reply is sent back to the frame's
		// sender, and rule 4 is to reach peers other than the sender.
		return nil, nil

	default:
		return nil, errors.Errorf("unknown sync kind %d", kind)
	}
}

func decodeSyncNodes(raw []json.RawMessage) ([]crdt.Node, error) {
	nodes := make([]crdt.Node, 0, len(raw))
	for _, r := range raw {
		n, err := crdt.DecodeNode(r)
		if err != nil {
			return nil, errors.Wrap(err, "decode node")
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *Session) handleAwareness(payload []byte) ([][]byte, error) {
	var delta awareness.Delta
	if err := json.Unmarshal(payload, &delta); err != nil {
		return nil, errors.Wrap(err, "decode awareness delta")
	}
	for _, c := range delta.Updated {
		s.host.Awareness().Set(c.ID, c.Data)
	}
	for _, id := range delta.Removed {
		s.host.Awareness().Remove(id)
	}
	return nil, nil
}

func (s *Session) handleAwarenessQuery() ([][]byte, error) {
	snapshot := s.host.Awareness().Snapshot()
	delta := awareness.Delta{Updated: snapshot}
	return [][]byte{EncodeAwareness(delta)}, nil
}

func (s *Session) handleAuth(payload []byte) ([][]byte, error) {
	s.state = StateDenied
	s.log.Warn("sync session denied by peer auth frame", zap.String("reason", string(payload)))
	return nil, nil
}

func (s *Session) handleCustom(payload []byte) ([][]byte, error) {
	if len(payload) < 1 {
		return nil, errors.New("empty custom payload")
	}
	if s.customHandler == nil {
		s.log.Warn("dropping custom frame: no handler installed", zap.Uint8("custom_tag", payload[0]))
		return nil, nil
	}
	reply, err := s.customHandler(payload[0], payload[1:])
	if err != nil {
		return nil, errors.Wrap(err, "custom handler")
	}
	if reply == nil {
		return nil, nil
	}
	return [][]byte{EncodeCustom(payload[0], reply)}, nil
}
