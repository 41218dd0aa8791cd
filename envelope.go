package wtlink

const (
	MessageTypeInit    = "init"
	MessageTypeSuccess = "success"
)

// InitMessage is the first message sent on every channel stream.
type InitMessage struct {
	MessageType   string   `json:"messageType"`
	EventCategory Category `json:"eventCategory"`
	ContextID     string   `json:"contextId"`
}

func NewInitMessage(category Category, contextID string) InitMessage {
	return InitMessage{
		MessageType:   MessageTypeInit,
		EventCategory: category,
		ContextID:     contextID,
	}
}

// ServerMessage is the acknowledgment the server answers an
// [InitMessage] with.
type ServerMessage struct {
	MessageType string `json:"messageType"`
	Body        string `json:"body"`
}

func (msg ServerMessage) Accepted() bool {
	return msg.MessageType == MessageTypeSuccess
}
