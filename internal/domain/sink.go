package domain

// Sink is the write half of a downstream streaming connection.
type Sink interface {
	ID() string
	WriteText(payload []byte) error
	Close() error
}
