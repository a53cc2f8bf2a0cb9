package entity

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"

	"github.com/getmockd/vbackend/pkg/store"
)

// Protocol identifies the protocol adapter an operation came through.
type Protocol string

const (
	ProtocolREST      Protocol = "REST"
	ProtocolGraphQL   Protocol = "GraphQL"
	ProtocolGRPC      Protocol = "gRPC"
	ProtocolMQTT      Protocol = "MQTT"
	ProtocolAMQP      Protocol = "AMQP"
	ProtocolWebSocket Protocol = "WebSocket"
	ProtocolSMTP      Protocol = "SMTP"
)

// Protocols lists every protocol in canonical order. ProtocolSet renders in
// this order.
var Protocols = []Protocol{
	ProtocolREST, ProtocolGraphQL, ProtocolGRPC, ProtocolMQTT,
	ProtocolAMQP, ProtocolWebSocket, ProtocolSMTP,
}

var protocolAliases = map[string]Protocol{
	"rest":      ProtocolREST,
	"http":      ProtocolREST,
	"graphql":   ProtocolGraphQL,
	"grpc":      ProtocolGRPC,
	"mqtt":      ProtocolMQTT,
	"amqp":      ProtocolAMQP,
	"websocket": ProtocolWebSocket,
	"ws":        ProtocolWebSocket,
	"smtp":      ProtocolSMTP,
}

// ParseProtocol parses a protocol name case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	if p, ok := protocolAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return "", &store.ValidationError{Field: "protocol", Message: fmt.Sprintf("unknown protocol %q", s)}
}

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	return p.index() >= 0
}

func (p Protocol) index() int {
	for i, q := range Protocols {
		if p == q {
			return i
		}
	}
	return -1
}

// ProtocolSet is an append-only set of protocols.
type ProtocolSet uint8

// NewProtocolSet returns a set holding ps. Unknown protocols are ignored.
func NewProtocolSet(ps ...Protocol) ProtocolSet {
	var s ProtocolSet
	for _, p := range ps {
		s = s.With(p)
	}
	return s
}

// With returns s plus p.
func (s ProtocolSet) With(p Protocol) ProtocolSet {
	if i := p.index(); i >= 0 {
		return s | 1<<i
	}
	return s
}

// Union returns the protocols in s or o.
func (s ProtocolSet) Union(o ProtocolSet) ProtocolSet { return s | o }

// Has reports whether p is in s.
func (s ProtocolSet) Has(p Protocol) bool {
	i := p.index()
	return i >= 0 && s&(1<<i) != 0
}

// Contains reports whether every protocol of o is in s.
func (s ProtocolSet) Contains(o ProtocolSet) bool { return s&o == o }

// Len returns the number of protocols in s.
func (s ProtocolSet) Len() int { return bits.OnesCount8(uint8(s)) }

// Protocols returns the members of s in canonical order.
func (s ProtocolSet) Protocols() []Protocol {
	out := make([]Protocol, 0, s.Len())
	for i, p := range Protocols {
		if s&(1<<i) != 0 {
			out = append(out, p)
		}
	}
	return out
}

func (s ProtocolSet) String() string {
	names := make([]string, 0, s.Len())
	for _, p := range s.Protocols() {
		names = append(names, string(p))
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// MarshalJSON encodes s as an array of protocol names.
func (s ProtocolSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Protocols())
}

// UnmarshalJSON decodes an array of protocol names.
func (s *ProtocolSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out ProtocolSet
	for _, n := range names {
		p, err := ParseProtocol(n)
		if err != nil {
			return err
		}
		out = out.With(p)
	}
	*s = out
	return nil
}
