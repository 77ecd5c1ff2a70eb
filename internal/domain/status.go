package domain

// ShouldTransitionMessageStatus reports whether a stored status may move to next.
// Nothing ever returns to PENDING and ACKNOWLEDGED is terminal.
func ShouldTransitionMessageStatus(current, next MessageStatus) bool {
	if !next.Valid() || current == next {
		return false
	}

	switch current {
	case "":
		return true
	case MessageStatusPending:
		return next == MessageStatusDelivered || next == MessageStatusAcknowledged
	case MessageStatusDelivered, MessageStatusRelayed:
		return next == MessageStatusAcknowledged
	default:
		return false
	}
}
