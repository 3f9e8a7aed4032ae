package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeStartListening MessageType = "start_listening"
	TypeStopListening  MessageType = "stop_listening"
	TypeAudioChunk     MessageType = "audio_chunk"

	TypePartialTranscript         MessageType = "partial_transcript"
	TypeFinalTranscript           MessageType = "final_transcript"
	TypeAssistantMessage          MessageType = "assistant_message"
	TypeAssistantSpeakingStarted  MessageType = "assistant_speaking_started"
	TypeAssistantAudio            MessageType = "assistant_audio"
	TypeAssistantSpeakingFinished MessageType = "assistant_speaking_finished"
	TypeError                     MessageType = "error"
)

// Close codes sent when the connection cannot continue.
const (
	CloseUnauthorized          = 1008
	CloseDependencyUnavailable = 1011
)

var (
	ErrMissingType  = errors.New("message type missing")
	ErrInvalidAudio = errors.New("audio is not valid base64")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is the closed set of frames a client may send.
type ClientMessage interface {
	ClientType() MessageType
}

type StartListening struct{}

type StopListening struct{}

type AudioChunk struct {
	Audio    []byte
	Sequence int64
	IsFinal  bool
}

// Unknown carries a well-formed frame whose type is not recognised.
type Unknown struct {
	Type MessageType
}

func (StartListening) ClientType() MessageType { return TypeStartListening }
func (StopListening) ClientType() MessageType  { return TypeStopListening }
func (AudioChunk) ClientType() MessageType     { return TypeAudioChunk }
func (u Unknown) ClientType() MessageType      { return u.Type }

// Malformed stands in for a frame that could not be decoded, so it is answered
// in order with the frames around it.
type Malformed struct {
	Err error
}

func (Malformed) ClientType() MessageType { return "malformed" }

type audioChunkWire struct {
	Audio    string `json:"audio"`
	Sequence int64  `json:"sequence"`
	IsFinal  bool   `json:"isFinal"`
}

// ParseClientMessage decodes one inbound frame. Unrecognised types parse to
// Unknown so the caller decides how to answer them.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case "":
		return nil, ErrMissingType
	case TypeStartListening:
		return StartListening{}, nil
	case TypeStopListening:
		return StopListening{}, nil
	case TypeAudioChunk:
		var w audioChunkWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode audio_chunk: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(w.Audio)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
		}
		return AudioChunk{Audio: audio, Sequence: w.Sequence, IsFinal: w.IsFinal}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// ServerMessage is any frame written to the client.
type ServerMessage interface {
	ServerType() MessageType
}

type PartialTranscript struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type FinalTranscript struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type AssistantMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type AssistantSpeakingStarted struct {
	Type MessageType `json:"type"`
}

type AssistantAudio struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url"`
}

type AssistantSpeakingFinished struct {
	Type MessageType `json:"type"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func (m PartialTranscript) ServerType() MessageType         { return m.Type }
func (m FinalTranscript) ServerType() MessageType           { return m.Type }
func (m AssistantMessage) ServerType() MessageType          { return m.Type }
func (m AssistantSpeakingStarted) ServerType() MessageType  { return m.Type }
func (m AssistantAudio) ServerType() MessageType            { return m.Type }
func (m AssistantSpeakingFinished) ServerType() MessageType { return m.Type }
func (m ErrorEvent) ServerType() MessageType                { return m.Type }

func NewPartialTranscript(text string) PartialTranscript {
	return PartialTranscript{Type: TypePartialTranscript, Text: text}
}

func NewFinalTranscript(text string) FinalTranscript {
	return FinalTranscript{Type: TypeFinalTranscript, Text: text}
}

func NewAssistantMessage(text string) AssistantMessage {
	return AssistantMessage{Type: TypeAssistantMessage, Text: text}
}

func NewAssistantSpeakingStarted() AssistantSpeakingStarted {
	return AssistantSpeakingStarted{Type: TypeAssistantSpeakingStarted}
}

func NewAssistantAudio(url string) AssistantAudio {
	return AssistantAudio{Type: TypeAssistantAudio, URL: url}
}

func NewAssistantSpeakingFinished() AssistantSpeakingFinished {
	return AssistantSpeakingFinished{Type: TypeAssistantSpeakingFinished}
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}
