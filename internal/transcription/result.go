package transcription

import "time"

// Kind classifies the outcome of a transcription call.
type Kind int

const (
	// KindTranscript means the service returned non-empty text.
	KindTranscript Kind = iota
	// KindServerError means the reply carried an error code.
	KindServerError
	// KindNoSpeech means a reply arrived without a transcript.
	KindNoSpeech
	// KindConnectFailure means the service could not be reached; nothing was uploaded.
	KindConnectFailure
	// KindTimeout means no usable reply arrived: nothing before the response
	// deadline, a stream closed without a byte, or a reply without a JSON body.
	KindTimeout
	// KindUploadFailure means the request or body could not be sent completely.
	KindUploadFailure
)

func (k Kind) String() string {
	switch k {
	case KindTranscript:
		return "transcript"
	case KindServerError:
		return "server_error"
	case KindNoSpeech:
		return "no_speech"
	case KindConnectFailure:
		return "connect_failure"
	case KindTimeout:
		return "timeout"
	case KindUploadFailure:
		return "upload_failure"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON and logs.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ServerErrorKind distinguishes recognised server error codes.
type ServerErrorKind int

const (
	// ServerErrorGeneric is any error code without a dedicated message.
	ServerErrorGeneric ServerErrorKind = iota
	// ServerErrorSlowUpload is reported when the body arrived too slowly.
	ServerErrorSlowUpload
)

// Messages returned by Result.Message. Displays and scripts match on these
// exact strings.
const (
	MessageSlowUpload  = "Upload too slow - try shorter recording"
	MessageServerError = "Deepgram error occurred"
	MessageNoSpeech    = "No speech detected"
)

// slowUploadCode is the error code substring that selects MessageSlowUpload.
const slowUploadCode = "SLOW_UPLOAD"

// Timing records offsets from the start of the call at which each protocol
// phase completed. Zero means the phase was not reached.
type Timing struct {
	Connected  time.Duration `json:"connected"`
	HeaderSent time.Duration `json:"header_sent"`
	BodySent   time.Duration `json:"body_sent"`
	Response   time.Duration `json:"response"`
}

// Result is the outcome of one transcription call.
type Result struct {
	Kind        Kind            `json:"kind"`
	Text        string          `json:"text,omitempty"`
	ServerError ServerErrorKind `json:"-"`
	// ErrorCode is the raw error code from the reply, if any.
	ErrorCode string `json:"error_code,omitempty"`
	// StatusCode is the HTTP status of the reply, 0 if none was seen.
	StatusCode int `json:"status_code,omitempty"`
	// Err holds the transport error behind connect, upload and timeout failures.
	Err error `json:"-"`

	BytesSent int64         `json:"bytes_sent"`
	Latency   time.Duration `json:"latency"`
	Timing    Timing        `json:"timing"`
}

// OK reports whether the result carries a transcript.
func (r Result) OK() bool {
	return r.Kind == KindTranscript
}

// Message renders the result the way the device displayed it: the transcript
// itself, one of the fixed messages, or "" for transport failures.
func (r Result) Message() string {
	switch r.Kind {
	case KindTranscript:
		return r.Text
	case KindServerError:
		if r.ServerError == ServerErrorSlowUpload {
			return MessageSlowUpload
		}
		return MessageServerError
	case KindNoSpeech:
		return MessageNoSpeech
	default:
		return ""
	}
}
