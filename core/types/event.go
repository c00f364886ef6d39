package types

// Event is the generic wire form of a ledger event: a type tag plus string
// attributes, suitable for JSON transport and stream subscribers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
