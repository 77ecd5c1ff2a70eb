package connectors

const (
	TopicConnectivity     = "connectivity"
	TopicHardware         = "hardware"
	TopicGatewayState     = "gateway.state"
	TopicMessageStatus    = "message.status"
	TopicMessageReceived  = "message.received"
	TopicMessageSubmitted = "message.submitted"
	TopicRawFrameIn       = "raw.frame.in"
	TopicRawFrameOut      = "raw.frame.out"
)
