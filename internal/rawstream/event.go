// Package rawstream defines the newline-delimited JSON event shape shared
// between the raw streaming endpoint and the remote replay client.
package rawstream

import "encoding/json"

// EventKind tags the variant of an Event per spec §3/§6.
type EventKind string

const (
	EventStart  EventKind = "start"
	EventStdout EventKind = "stdout"
	EventStderr EventKind = "stderr"
	EventExit   EventKind = "exit"
	EventError  EventKind = "error"
)

// Event is the canonical raw-stream wire shape. Fields are omitted when not
// applicable to Event's Kind, matching the JSON schema in spec §6 -- except
// ExitCode on an exit event, which must always be present on the wire, as
// either a number or explicit null for a signaled child. That asymmetry is
// why MarshalJSON is hand-written below rather than left to struct tags:
// omitempty on a pointer field drops it whenever it's nil, which would
// silently turn a signaled child's exit event into one indistinguishable
// from a malformed payload missing the field entirely.
type Event struct {
	Event    EventKind `json:"event"`
	DataB64  string    `json:"data_b64,omitempty"`
	ExitCode *int      `json:"exitCode,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// exitEventWire is the exit variant's wire shape: ExitCode always present,
// explicit JSON null for a signaled child rather than an omitted key.
type exitEventWire struct {
	Event    EventKind `json:"event"`
	ExitCode *int      `json:"exitCode"`
}

// plainEventWire is every other variant's wire shape: no exitCode field at
// all, matching spec §6's per-kind schema.
type plainEventWire struct {
	Event   EventKind `json:"event"`
	DataB64 string    `json:"data_b64,omitempty"`
	Message string    `json:"message,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Event == EventExit {
		return json.Marshal(exitEventWire{Event: e.Event, ExitCode: e.ExitCode})
	}
	return json.Marshal(plainEventWire{Event: e.Event, DataB64: e.DataB64, Message: e.Message})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		Event    EventKind `json:"event"`
		DataB64  string    `json:"data_b64,omitempty"`
		ExitCode *int      `json:"exitCode,omitempty"`
		Message  string    `json:"message,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event{Event: wire.Event, DataB64: wire.DataB64, ExitCode: wire.ExitCode, Message: wire.Message}
	return nil
}

func Start() Event {
	return Event{Event: EventStart}
}

func Stdout(dataB64 string) Event {
	return Event{Event: EventStdout, DataB64: dataB64}
}

func Stderr(dataB64 string) Event {
	return Event{Event: EventStderr, DataB64: dataB64}
}

func Exit(exitCode *int) Event {
	return Event{Event: EventExit, ExitCode: exitCode}
}

func Err(message string) Event {
	return Event{Event: EventError, Message: message}
}
