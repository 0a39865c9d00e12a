package room

// UpdateKind labels an observable state change.
type UpdateKind string

const (
	UpdateMessage   UpdateKind = "message"
	UpdateOffer     UpdateKind = "offer"
	UpdateBestOffer UpdateKind = "best_offer"
	UpdateRound     UpdateKind = "round"
	UpdateDecision  UpdateKind = "decision"
	UpdateStatus    UpdateKind = "status"
)

// Update is one observable change in a room, published to subscribers.
// Only the fields relevant to Kind are populated.
type Update struct {
	RoomID    string
	Kind      UpdateKind
	Message   *Message
	Offer     *Offer
	Best      *BestOffer
	Round     int
	MaxRounds int
	Decision  *Decision
	Status    ConnectionStatus
}
