// Package protocol defines the JSON messages exchanged with the assistant
// over the signaling channel.
//
// Outbound messages are built with the constructor functions ([Control],
// [Text], [Audio], [Media], [Ready]) and marshalled as-is. Inbound frames are
// parsed exactly once by [Parser.Parse] into one of the [Inbound] variant
// types so that consumers dispatch through a single type switch.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// Message type and event names used on the wire.
const (
	TypeAudio              = "audio"
	TypeText               = "text"
	TypeReady              = "ready"
	TypePipelineReady      = "pipeline_ready"
	TypeCallEnded          = "call_ended"
	TypeError              = "error"
	TypeGreeting           = "greeting"
	TypeUser               = "user"
	TypeAssistant          = "assistant"
	TypeSystem             = "system"
	TypeUserStreaming      = "user_streaming"
	TypeAssistantStreaming = "assistant_streaming"

	EventStart = "start"
	EventStop  = "stop"
	EventAudio = "audio"
	EventMedia = "media"
)

// ─── Outbound ─────────────────────────────────────────────────────────────────

// MediaPayload is the body of a legacy media message.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// Outbound is a message sent to the assistant. Only the fields relevant to
// the message kind are set; the rest are omitted from the JSON.
type Outbound struct {
	Type    string        `json:"type,omitempty"`
	Event   string        `json:"event,omitempty"`
	Content string        `json:"content,omitempty"`
	Data    string        `json:"data,omitempty"`
	Media   *MediaPayload `json:"media,omitempty"`
}

// Control returns a {"event": ...} control message.
func Control(event string) Outbound { return Outbound{Event: event} }

// Text returns a {"type":"text","content":...} message.
func Text(content string) Outbound { return Outbound{Type: TypeText, Content: content} }

// Audio returns a {"type":"audio","data":...} message carrying base64 PCM16.
func Audio(data string) Outbound { return Outbound{Type: TypeAudio, Data: data} }

// Media returns the legacy {"event":"media","media":{"payload":...}} shape.
func Media(payload string) Outbound {
	return Outbound{Event: EventMedia, Media: &MediaPayload{Payload: payload}}
}

// Ready returns the {"type":"ready"} handshake sent when the channel opens.
func Ready() Outbound { return Outbound{Type: TypeReady} }

// Kind returns a short label for logs and metrics.
func (o Outbound) Kind() string {
	if o.Type != "" {
		return o.Type
	}
	return o.Event
}

// ─── Inbound ──────────────────────────────────────────────────────────────────

// Inbound is one parsed message from the assistant. The concrete type is one
// of [AudioMsg], [PipelineReady], [CallEnded], [ServerError], [TextMsg],
// [Greeting], [StreamMarker], [TransportFailure], [Closed] or [Unknown].
type Inbound interface {
	inbound()
}

// AudioMsg carries one chunk of assistant speech.
type AudioMsg struct {
	Chunk audio.Chunk

	// Explicit is true when the message carried a format tag.
	Explicit bool
}

// PipelineReady signals that the remote pipeline is ready for audio.
type PipelineReady struct{}

// CallEnded signals that the remote side finished the call.
type CallEnded struct {
	Reason  string
	Message string
}

// ServerError is an error reported by the assistant.
type ServerError struct {
	Message string
}

// TextKind distinguishes the text message roles.
type TextKind string

const (
	KindText               TextKind = TypeText
	KindUser               TextKind = TypeUser
	KindAssistant          TextKind = TypeAssistant
	KindSystem             TextKind = TypeSystem
	KindUserStreaming      TextKind = TypeUserStreaming
	KindAssistantStreaming TextKind = TypeAssistantStreaming
)

// Streaming reports whether k is a streaming variant.
func (k TextKind) Streaming() bool {
	return k == KindUserStreaming || k == KindAssistantStreaming
}

// TextMsg is a transcript or chat line.
type TextMsg struct {
	Kind    TextKind
	Content string
	IsFinal bool
}

// Greeting is the assistant's welcome line.
type Greeting struct {
	Message string
}

// StreamMarker is the legacy start/stop event around a media stream.
type StreamMarker struct {
	Started bool
}

// TransportFailure is synthesised by a transport when the channel fails.
type TransportFailure struct {
	Err error
}

// Closed is synthesised by a transport when the channel closes cleanly.
type Closed struct {
	Reason string
}

// Unknown is any message the parser does not recognise.
type Unknown struct {
	Type    string
	Content string
}

func (AudioMsg) inbound()         {}
func (PipelineReady) inbound()    {}
func (CallEnded) inbound()        {}
func (ServerError) inbound()      {}
func (TextMsg) inbound()          {}
func (Greeting) inbound()         {}
func (StreamMarker) inbound()     {}
func (TransportFailure) inbound() {}
func (Closed) inbound()           {}
func (Unknown) inbound()          {}

// DecodeError reports an inbound frame that could not be parsed.
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Msg, e.Err)
	}
	return "protocol: " + e.Msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// rawInbound is the union of every inbound field.
type rawInbound struct {
	Type        string `json:"type"`
	Event       string `json:"event"`
	MessageType string `json:"messageType"`
	Data        string `json:"data"`
	Format      string `json:"format"`
	Media       *struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Content string `json:"content"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
	IsFinal bool   `json:"isFinal"`
}

// Parser turns raw frames into [Inbound] values.
type Parser struct {
	// DefaultFormat applies to "audio" messages without a format tag.
	DefaultFormat audio.Format

	// LegacyFormat applies to legacy "media" events, which never carry one.
	LegacyFormat audio.Format
}

// DefaultParser uses PCM16 16 kHz for untagged audio and μ-law 8 kHz for the
// legacy media event.
var DefaultParser = Parser{
	DefaultFormat: audio.FormatPCM16_16K,
	LegacyFormat:  audio.FormatULaw8K,
}

// Parse parses data with [DefaultParser].
func Parse(data []byte) (Inbound, error) {
	return DefaultParser.Parse(data)
}

// Parse decodes one JSON frame. Malformed JSON and unsupported audio formats
// return a [*DecodeError].
func (p Parser) Parse(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Msg: "malformed message", Err: err}
	}

	if raw.Type == "" {
		return p.parseEvent(raw)
	}

	switch raw.Type {
	case TypeAudio:
		return p.audio(raw.Data, raw.Format, p.DefaultFormat)
	case TypePipelineReady:
		return PipelineReady{}, nil
	case TypeCallEnded:
		return CallEnded{Reason: raw.Reason, Message: raw.Message}, nil
	case TypeError:
		return ServerError{Message: firstNonEmpty(raw.Message, raw.Content, "server error")}, nil
	case TypeGreeting:
		return Greeting{Message: raw.Message}, nil
	case TypeText:
		kind := KindText
		if raw.MessageType != "" {
			kind = TextKind(raw.MessageType)
		}
		return TextMsg{Kind: kind, Content: raw.Content, IsFinal: raw.IsFinal}, nil
	case TypeUser, TypeAssistant, TypeSystem, TypeUserStreaming, TypeAssistantStreaming:
		return TextMsg{Kind: TextKind(raw.Type), Content: raw.Content, IsFinal: raw.IsFinal}, nil
	default:
		return Unknown{Type: raw.Type, Content: firstNonEmpty(raw.Content, raw.Message)}, nil
	}
}

// parseEvent handles the event-keyed message family.
func (p Parser) parseEvent(raw rawInbound) (Inbound, error) {
	switch raw.Event {
	case EventAudio:
		return p.audio(raw.Data, raw.Format, p.DefaultFormat)
	case EventMedia:
		if raw.Media == nil {
			return nil, &DecodeError{Msg: "media event without media body"}
		}
		return p.audio(raw.Media.Payload, "", p.LegacyFormat)
	case EventStart:
		return StreamMarker{Started: true}, nil
	case EventStop:
		return StreamMarker{Started: false}, nil
	default:
		return Unknown{Type: raw.Event, Content: firstNonEmpty(raw.Content, raw.Message)}, nil
	}
}

func (p Parser) audio(data, format string, def audio.Format) (Inbound, error) {
	if data == "" {
		return nil, &DecodeError{Msg: "audio message without data"}
	}
	if format == "" {
		return AudioMsg{Chunk: audio.Chunk{Payload: data, Format: def}}, nil
	}
	f, err := audio.ParseFormat(format)
	if err != nil {
		return nil, &DecodeError{Msg: "audio message", Err: err}
	}
	return AudioMsg{Chunk: audio.Chunk{Payload: data, Format: f}, Explicit: true}, nil
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
