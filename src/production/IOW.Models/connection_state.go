package iowmodels

import (
	"encoding/json"
	"fmt"
)

// ConnectionState is the transport client's view of the broker connection
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
	StateError
)

var stateNames = map[ConnectionState]string{
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateError:        "error",
}

func (s ConnectionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// ParseConnectionState is the inverse of String
func ParseConnectionState(name string) (ConnectionState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return StateDisconnected, fmt.Errorf("unknown connection state %q", name)
}

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ConnectionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseConnectionState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StateChange is delivered to subscribers whenever the state moves
type StateChange struct {
	From ConnectionState `json:"from"`
	To   ConnectionState `json:"to"`
	Err  error           `json:"-"`
}
