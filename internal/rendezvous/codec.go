package rendezvous

import (
	"encoding/json"
	"fmt"
)

// frame is the wire shape every message rides in: {"opcode": int, "data": object}.
type frame struct {
	Op   Opcode          `json:"opcode"`
	Data json.RawMessage `json:"data"`
}

// ErrUnimplementedOperation is returned by Decode for any opcode outside
// the closed inbound set. The caller must close the offending connection.
var ErrUnimplementedOperation = fmt.Errorf("rendezvous: unimplemented operation")

// Decode parses a raw inbound frame into one of the inbound message types
// (Knock, Offer, Answer, Candidate, Bind, Accepting, Shutdown, Connect). The
// returned value's concrete type is one of those structs; callers type-switch
// on it the way Dispatch does.
func Decode(raw []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("rendezvous: decode frame: %w", err)
	}

	var m Message
	switch f.Op {
	case OpKnock:
		var v knockPayload
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("rendezvous: decode %s: %w", f.Op, err)
		}
		m = Knock{Subnet: v.Subnet}
	case OpOffer:
		var v Offer
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("rendezvous: decode %s: %w", f.Op, err)
		}
		m = v
	case OpAnswer:
		var v Answer
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("rendezvous: decode %s: %w", f.Op, err)
		}
		m = v
	case OpCandidate:
		var v Candidate
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("rendezvous: decode %s: %w", f.Op, err)
		}
		m = v
	case OpBind:
		var v Bind
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("rendezvous: decode %s: %w", f.Op, err)
		}
		m = v
	case OpAccepting:
		var v Accepting
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("rendezvous: decode %s: %w", f.Op, err)
		}
		m = v
	case OpShutdown:
		var v Shutdown
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("rendezvous: decode %s: %w", f.Op, err)
		}
		m = v
	case OpConnect:
		var v Connect
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("rendezvous: decode %s: %w", f.Op, err)
		}
		m = v
	default:
		return nil, ErrUnimplementedOperation
	}
	return m, nil
}

// knockPayload exists only because Knock itself has no wire-stable string
// fields beyond subnet (its id is assigned by the allocator, not supplied by
// the client).
type knockPayload struct {
	Subnet string `json:"subnet"`
}

// Knock is the inbound KNOCK request.
type Knock struct {
	Subnet string `json:"subnet"`
}

func (Knock) Opcode() Opcode { return OpKnock }

// Encode serializes m into a wire frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: encode %s: %w", m.Opcode(), err)
	}
	return json.Marshal(frame{Op: m.Opcode(), Data: data})
}
