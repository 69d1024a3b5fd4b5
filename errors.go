package hwvenc

import "github.com/pion/hwvenc/pkg/omx"

// Error is an OMX error code. Errors returned by the component wrap one, so
// that errors.Is can match them against the constants below.
type Error = omx.Error

// Error codes returned by the API and carried by EventError.
const (
	ErrInsufficientResources    = omx.ErrInsufficientResources
	ErrUndefined                = omx.ErrUndefined
	ErrComponentNotFound        = omx.ErrComponentNotFound
	ErrBadParameter             = omx.ErrBadParameter
	ErrNotImplemented           = omx.ErrNotImplemented
	ErrHardware                 = omx.ErrHardware
	ErrInvalidState             = omx.ErrInvalidState
	ErrSameState                = omx.ErrSameState
	ErrIncorrectStateTransition = omx.ErrIncorrectStateTransition
	ErrIncorrectStateOperation  = omx.ErrIncorrectStateOperation
	ErrUnsupportedSetting       = omx.ErrUnsupportedSetting
	ErrUnsupportedIndex         = omx.ErrUnsupportedIndex
	ErrBadPortIndex             = omx.ErrBadPortIndex
	ErrPortUnpopulated          = omx.ErrPortUnpopulated
	ErrCodecInit                = omx.ErrCodecInit
	ErrCodecEncode              = omx.ErrCodecEncode
)

type (
	// State is the state of a component.
	State = omx.State
	// Command is a command accepted by SendCommand.
	Command = omx.Command
	// Event is an event delivered through Callbacks.OnEvent.
	Event = omx.Event
)

// Component states.
const (
	StateInvalid   = omx.StateInvalid
	StateLoaded    = omx.StateLoaded
	StateIdle      = omx.StateIdle
	StateExecuting = omx.StateExecuting
	StatePause     = omx.StatePause
)

// Commands.
const (
	CommandStateSet    = omx.CommandStateSet
	CommandFlush       = omx.CommandFlush
	CommandPortDisable = omx.CommandPortDisable
	CommandPortEnable  = omx.CommandPortEnable
	CommandMarkBuffer  = omx.CommandMarkBuffer
)

// Events.
const (
	EventCmdComplete         = omx.EventCmdComplete
	EventError               = omx.EventError
	EventPortSettingsChanged = omx.EventPortSettingsChanged
	EventBufferFlag          = omx.EventBufferFlag
)

// Port indexes.
const (
	InputPort  = omx.InputPortIndex
	OutputPort = omx.OutputPortIndex
	AllPorts   = omx.AllPorts
)
