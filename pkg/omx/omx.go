// Package omx holds the OpenMAX IL vocabulary shared by the encoder packages:
// error codes, component states, commands, events and port indexes.
package omx

import "fmt"

// Error is an OMX_ERRORTYPE value. It implements error so that it can be
// wrapped and matched with errors.Is.
type Error uint32

// Error codes.
const (
	ErrInsufficientResources    Error = 0x80001000
	ErrUndefined                Error = 0x80001001
	ErrInvalidComponentName     Error = 0x80001002
	ErrComponentNotFound        Error = 0x80001003
	ErrBadParameter             Error = 0x80001005
	ErrNotImplemented           Error = 0x80001006
	ErrUnderflow                Error = 0x80001007
	ErrOverflow                 Error = 0x80001008
	ErrHardware                 Error = 0x80001009
	ErrInvalidState             Error = 0x8000100A
	ErrStreamCorrupt            Error = 0x8000100B
	ErrPortsNotCompatible       Error = 0x8000100C
	ErrNotReady                 Error = 0x80001010
	ErrTimeout                  Error = 0x80001011
	ErrSameState                Error = 0x80001012
	ErrIncorrectStateTransition Error = 0x80001017
	ErrIncorrectStateOperation  Error = 0x80001018
	ErrUnsupportedSetting       Error = 0x80001019
	ErrUnsupportedIndex         Error = 0x8000101A
	ErrBadPortIndex             Error = 0x8000101B
	ErrPortUnpopulated          Error = 0x8000101C
	// Vendor extensions.
	ErrCodecInit   Error = 0x90000001
	ErrCodecEncode Error = 0x90000003
)

var errorNames = map[Error]string{
	ErrInsufficientResources:    "insufficient resources",
	ErrUndefined:                "undefined",
	ErrInvalidComponentName:     "invalid component name",
	ErrComponentNotFound:        "component not found",
	ErrBadParameter:             "bad parameter",
	ErrNotImplemented:           "not implemented",
	ErrUnderflow:                "underflow",
	ErrOverflow:                 "overflow",
	ErrHardware:                 "hardware",
	ErrInvalidState:             "invalid state",
	ErrStreamCorrupt:            "stream corrupt",
	ErrPortsNotCompatible:       "ports not compatible",
	ErrNotReady:                 "not ready",
	ErrTimeout:                  "timeout",
	ErrSameState:                "same state",
	ErrIncorrectStateTransition: "incorrect state transition",
	ErrIncorrectStateOperation:  "incorrect state operation",
	ErrUnsupportedSetting:       "unsupported setting",
	ErrUnsupportedIndex:         "unsupported index",
	ErrBadPortIndex:             "bad port index",
	ErrPortUnpopulated:          "port unpopulated",
	ErrCodecInit:                "codec init",
	ErrCodecEncode:              "codec encode",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return "omx: " + name
	}
	return fmt.Sprintf("omx: error 0x%08x", uint32(e))
}

// Errorf wraps a formatted message around code.
func Errorf(code Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", code, fmt.Sprintf(format, args...))
}

// State is an OMX_STATETYPE value.
type State int

// Component states.
const (
	StateInvalid State = iota
	StateLoaded
	StateIdle
	StateExecuting
	StatePause
	StateWaitForResources
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateLoaded:
		return "Loaded"
	case StateIdle:
		return "Idle"
	case StateExecuting:
		return "Executing"
	case StatePause:
		return "Pause"
	case StateWaitForResources:
		return "WaitForResources"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Command is an OMX_COMMANDTYPE value.
type Command int

// Commands accepted by SendCommand.
const (
	CommandStateSet Command = iota
	CommandFlush
	CommandPortDisable
	CommandPortEnable
	CommandMarkBuffer
)

func (c Command) String() string {
	switch c {
	case CommandStateSet:
		return "StateSet"
	case CommandFlush:
		return "Flush"
	case CommandPortDisable:
		return "PortDisable"
	case CommandPortEnable:
		return "PortEnable"
	case CommandMarkBuffer:
		return "MarkBuffer"
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Event is an OMX_EVENTTYPE value.
type Event int

// Events delivered to the client.
const (
	EventCmdComplete Event = iota
	EventError
	EventMark
	EventPortSettingsChanged
	EventBufferFlag
)

func (e Event) String() string {
	switch e {
	case EventCmdComplete:
		return "CmdComplete"
	case EventError:
		return "Error"
	case EventMark:
		return "Mark"
	case EventPortSettingsChanged:
		return "PortSettingsChanged"
	case EventBufferFlag:
		return "BufferFlag"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Port indexes of an encoder component.
const (
	InputPortIndex  = 0
	OutputPortIndex = 1
	// AllPorts addresses both ports in Flush and port commands.
	AllPorts = -1
)
