package rendezvous

// Message is anything that can be sent to a client: it knows its own
// opcode, matching the "{opcode: int, data: object}" wire shape.
type Message interface {
	Opcode() Opcode
}

// Acknowledgement responds to KNOCK.
type Acknowledgement struct {
	ID       string `json:"id"`
	Rejected bool   `json:"rejected"`
}

func (Acknowledgement) Opcode() Opcode { return OpAcknowledgement }

// Greeting tells an existing peer that a new peer has joined.
type Greeting struct {
	OffererID  string `json:"offererId"`
	AnswererID string `json:"answererId"`
}

func (Greeting) Opcode() Opcode { return OpGreeting }

// Offer carries a session-description offer, in either direction.
type Offer struct {
	OffererID  string `json:"offererId"`
	AnswererID string `json:"answererId"`
	Offer      string `json:"offer"`
}

func (Offer) Opcode() Opcode { return OpOffer }

// Answer carries a session-description answer, in either direction.
type Answer struct {
	OffererID  string `json:"offererId"`
	AnswererID string `json:"answererId"`
	Answer     string `json:"answer"`
}

func (Answer) Opcode() Opcode { return OpAnswer }

// Candidate carries an ICE-style candidate, in either direction.
type Candidate struct {
	OffererID  string `json:"offererId"`
	AnswererID string `json:"answererId"`
	Candidate  string `json:"candidate"`
}

func (Candidate) Opcode() Opcode { return OpCandidate }

// Bind requests publication of a well-known alias.
type Bind struct {
	ID    string `json:"id"`
	Alias string `json:"alias"`
}

func (Bind) Opcode() Opcode { return OpBind }

// AliasMsg reports the state of an alias: bound/unbound, or the result of a
// CONNECT attempt. ClientConnectionID and IsConnectionAlias are only set for
// some of the CONNECT-related sends.
type AliasMsg struct {
	ID                 string `json:"id"`
	Alias              string `json:"alias"`
	Set                bool   `json:"set"`
	ClientConnectionID string `json:"clientConnectionId,omitempty"`
	IsConnectionAlias  bool   `json:"isConnectionAlias,omitempty"`
}

func (AliasMsg) Opcode() Opcode { return OpAlias }

// Accepting declares that the sender is ready to receive CONNECTs against a
// bound alias it owns.
type Accepting struct {
	ID    string `json:"id"`
	Alias string `json:"alias"`
}

func (Accepting) Opcode() Opcode { return OpAccepting }

// Shutdown requests teardown of a bound alias.
type Shutdown struct {
	ID    string `json:"id"`
	Alias string `json:"alias"`
}

func (Shutdown) Opcode() Opcode { return OpShutdown }

// Connect requests a connection-alias handshake against a remote bound
// alias.
type Connect struct {
	ID                 string `json:"id"`
	RemoteAlias        string `json:"remoteAlias"`
	ClientConnectionID string `json:"clientConnectionId"`
}

func (Connect) Opcode() Opcode { return OpConnect }

// Accept tells a bound alias's owner that a CONNECT against it succeeded.
type Accept struct {
	BoundAlias  string `json:"boundAlias"`
	ClientAlias string `json:"clientAlias"`
}

func (Accept) Opcode() Opcode { return OpAccept }

// Goodbye tells remaining peers that a client has left.
type Goodbye struct {
	ID string `json:"id"`
}

func (Goodbye) Opcode() Opcode { return OpGoodbye }
