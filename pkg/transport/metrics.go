package transport

var (
	// MetricFrameOutBytes counts payload bytes handed to the peer.
	MetricFrameOutBytes       = []string{"cosimio", "transport", "frame", "out", "bytes"}
	MetricFrameOutErrorCount  = []string{"cosimio", "transport", "frame", "out", "error", "count"}
	MetricFrameInBytes        = []string{"cosimio", "transport", "frame", "in", "bytes"}
	MetricFrameInErrorCount   = []string{"cosimio", "transport", "frame", "in", "error", "count"}
	MetricHandshakeCount      = []string{"cosimio", "transport", "handshake", "count"}
	MetricHandshakeErrorCount = []string{"cosimio", "transport", "handshake", "error", "count"}
)
