package domain

type LinkState string

const (
	LinkNew            LinkState = "new"
	LinkOfferSent      LinkState = "offer_sent"
	LinkOfferReceived  LinkState = "offer_received"
	LinkAnswerSent     LinkState = "answer_sent"
	LinkAnswerReceived LinkState = "answer_received"
	LinkConnected      LinkState = "connected"
	LinkDisconnected   LinkState = "disconnected"
	LinkFailed         LinkState = "failed"
	LinkClosed         LinkState = "closed"
)

// Negotiated reports whether both descriptions have been exchanged.
func (s LinkState) Negotiated() bool {
	switch s {
	case LinkAnswerSent, LinkAnswerReceived, LinkConnected, LinkDisconnected:
		return true
	}
	return false
}
