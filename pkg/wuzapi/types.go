package wuzapi

// EventPayload is the webhook body posted by a WuzAPI instance
type EventPayload struct {
	Type       string          `json:"type"`
	Event      string          `json:"event"`
	InstanceID string          `json:"instanceId"`
	Message    *MessagePayload `json:"message"`
}

// Kind returns the event name regardless of which field the instance filled
func (p EventPayload) Kind() string {
	if p.Event != "" {
		return p.Event
	}
	return p.Type
}

// MessagePayload is the message object of a message event
type MessagePayload struct {
	ID string `json:"id"`
	// MessageID is the identifier older instances send instead of id
	MessageID  string `json:"messageId"`
	From       string `json:"from"`
	FromMe     bool   `json:"fromMe"`
	IsGroup    bool   `json:"isGroup"`
	SenderName string `json:"senderName"`
	PushName   string `json:"pushName"`
	Type       string `json:"type"`
	Body       string `json:"body"`
	Text       string `json:"text"`
	Caption    string `json:"caption"`
	MediaURL   string `json:"mediaUrl"`
	MimeType   string `json:"mimetype"`
	Timestamp  int64  `json:"timestamp"`
}

type sendTextRequest struct {
	Phone string `json:"Phone"`
	Body  string `json:"Body"`
}

type sendResponse struct {
	Code    int  `json:"code"`
	Success bool `json:"success"`
	Data    struct {
		Details string `json:"Details"`
		ID      string `json:"Id"`
	} `json:"data"`
	Error string `json:"error"`
}
