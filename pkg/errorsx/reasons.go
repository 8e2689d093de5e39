package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCodecDecode   ReasonCode = "codec_decode"
	ReasonCodecResample ReasonCode = "codec_resample"

	ReasonSTTConnect    ReasonCode = "stt_connect"
	ReasonSTTSend       ReasonCode = "stt_send"
	ReasonSTTTranscribe ReasonCode = "stt_transcribe"

	ReasonTTSSynthesize ReasonCode = "tts_synthesize"

	ReasonStorageHead   ReasonCode = "storage_head"
	ReasonStorageUpload ReasonCode = "storage_upload"

	ReasonSinkWrite ReasonCode = "sink_write"

	ReasonConfigMissing ReasonCode = "config_missing"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
)
