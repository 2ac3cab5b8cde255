package notifications

// MessageType defines the type of notification.
type MessageType string

// Message types.
const (
	MessageTypeIncidentOpened    MessageType = "incident_opened"
	MessageTypeApprovalRequested MessageType = "approval_requested"
)

// Message is a rendered chat notification. Senders map it to their own format.
type Message struct {
	Type    MessageType
	Subject string
	Body    string
	Fields  []Field
	Context string
	// Approval is set on approval requests; senders attach approve/reject controls.
	Approval *ApprovalRequest
}

// Field is a labelled value shown next to the message body.
type Field struct {
	Label string
	Value string
}

// ApprovalRequest identifies the action a decision applies to.
type ApprovalRequest struct {
	IncidentID string
	ActionID   string
}

// ApproveValue is the decision token carried by the approve control.
func (a ApprovalRequest) ApproveValue() string {
	return "approve|" + a.IncidentID + "|" + a.ActionID
}

// RejectValue is the decision token carried by the reject control.
func (a ApprovalRequest) RejectValue() string {
	return "reject|" + a.IncidentID + "|" + a.ActionID
}

// Ticket is a rendered ticketing-system issue.
type Ticket struct {
	IncidentID  string
	Summary     string
	Description string
	Severity    string
}
