package cosimio

var (
	// MetricConnEstCount counts successful Connect calls.
	MetricConnEstCount     = []string{"cosimio", "connection", "established", "count"}
	MetricConnErrorCount   = []string{"cosimio", "connection", "error", "count"}
	MetricConnClosedCount  = []string{"cosimio", "connection", "closed", "count"}
	MetricExchangeDuration = []string{"cosimio", "exchange", "duration", "ms"}
	MetricExchangeErrCount = []string{"cosimio", "exchange", "error", "count"}
	MetricRunSignalCount   = []string{"cosimio", "run", "signal", "count"}
)
