package frames

// Meta keys attached to frames as they cross package boundaries.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaFromNumber    = "from_number"
	MetaSource        = "source"
	MetaEncoding      = "encoding"
	MetaIsFinal       = "is_final"
	MetaDTMFDigit     = "dtmf_digit"
	MetaCallEndReason = "call_end_reason"
)

// System frame names emitted by transports at session boundaries.
const (
	SystemConnected    = "connected"
	SystemStreamStart  = "stream_start"
	SystemStreamStop   = "stream_stop"
	SystemDisconnected = "disconnected"
)
