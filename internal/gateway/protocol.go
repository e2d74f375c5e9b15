package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client → server message types.
const (
	TypeHello             = "hello"
	TypeRecognitionStart  = "recognition_start"
	TypeRecognitionResult = "recognition_result"
	TypeRecognitionError  = "recognition_error"
	TypeRecognitionEnd    = "recognition_end"
	TypePlaybackEnded     = "playback_ended"
	TypeText              = "text"
	TypeListen            = "listen"
	TypeClose             = "close"
)

// Server → client message types.
const (
	TypeReady    = "ready"
	TypeMicStart = "mic_start"
	TypeMicStop  = "mic_stop"
	TypeBubble   = "bubble"
	TypeMessage  = "message"
	TypeState    = "state"
	TypeAudio    = "audio"
	TypeError    = "error"
)

// DecodeError reports a malformed client frame.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e.Param == "" {
		return "gateway: " + e.Message
	}
	return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// ── Client messages ──────────────────────────────────────────────────────────

// Hello is the first frame of every connection.
type Hello struct {
	Type            string `json:"type"`
	Language        string `json:"language"`
	SpeechSupported bool   `json:"speech_supported"`
}

// RecognitionStart reports that the page recognizer began capturing.
type RecognitionStart struct {
	Type string `json:"type"`
	Run  string `json:"run,omitempty"`
}

// RecognitionResult carries the cumulative result list of the page recognizer.
type RecognitionResult struct {
	Type        string              `json:"type"`
	Run         string              `json:"run,omitempty"`
	ResultIndex int                 `json:"result_index"`
	Results     []RecognitionOutput `json:"results"`
}

// RecognitionOutput is one entry of a RecognitionResult.
type RecognitionOutput struct {
	Transcript string  `json:"transcript"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RecognitionError reports a page recognizer failure.
type RecognitionError struct {
	Type  string `json:"type"`
	Run   string `json:"run,omitempty"`
	Error string `json:"error"`
}

// RecognitionEnd reports that the page recognizer stopped.
type RecognitionEnd struct {
	Type string `json:"type"`
	Run  string `json:"run,omitempty"`
}

// PlaybackEnded acknowledges the end of a clip.
type PlaybackEnded struct {
	Type   string `json:"type"`
	ClipID string `json:"clip_id"`
	Error  string `json:"error,omitempty"`
}

// Text is typed user input.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Listen asks the server to restart capture.
type Listen struct {
	Type string `json:"type"`
}

// Close ends the session.
type Close struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses a client text frame into one of the client
// message types.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeHello:
		var msg Hello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello", "")
		}
		return msg, nil
	case TypeRecognitionStart:
		var msg RecognitionStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid recognition_start", "")
		}
		return msg, nil
	case TypeRecognitionResult:
		var msg RecognitionResult
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid recognition_result", "")
		}
		if msg.ResultIndex < 0 || msg.ResultIndex > len(msg.Results) {
			return nil, badRequest("recognition_result.result_index out of range", "result_index")
		}
		return msg, nil
	case TypeRecognitionError:
		var msg RecognitionError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid recognition_error", "")
		}
		return msg, nil
	case TypeRecognitionEnd:
		var msg RecognitionEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid recognition_end", "")
		}
		return msg, nil
	case TypePlaybackEnded:
		var msg PlaybackEnded
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid playback_ended", "")
		}
		if strings.TrimSpace(msg.ClipID) == "" {
			return nil, badRequest("playback_ended.clip_id is required", "clip_id")
		}
		return msg, nil
	case TypeText:
		var msg Text
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text", "")
		}
		return msg, nil
	case TypeListen:
		return Listen{Type: typ}, nil
	case TypeClose:
		return Close{Type: typ}, nil
	default:
		return nil, badRequest("unknown message type", typ)
	}
}

// ── Server messages ──────────────────────────────────────────────────────────

// Ready confirms the session was opened.
type Ready struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// MicStart asks the page to start its recognizer. The page echoes Run in
// every recognition_* frame of that run.
type MicStart struct {
	Type           string `json:"type"`
	Run            string `json:"run"`
	Language       string `json:"language"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
}

// MicStop asks the page to stop its recognizer.
type MicStop struct {
	Type string `json:"type"`
}

// BubbleMessage renders the in-progress user bubble.
type BubbleMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	Retracted bool   `json:"retracted,omitempty"`
}

// HistoryMessage renders one conversation entry.
type HistoryMessage struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StateMessage reports the conversation state.
type StateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// AudioHeader announces the binary frame that follows it.
type AudioHeader struct {
	Type        string `json:"type"`
	ClipID      string `json:"clip_id"`
	ContentType string `json:"content_type"`
}

// ErrorMessage reports a protocol error to the page.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}
