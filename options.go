package hwvenc

import (
	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/codec/h264"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/logging"
)

// DefaultDriver is the driver opened when neither WithDriver nor WithEncoder
// is given. The driver package must be linked in by the application.
const DefaultDriver = "mfcsim"

// Callbacks are the hooks a component calls back into its client. They are
// called from the component goroutines and must not block for long.
type Callbacks struct {
	// OnEvent receives command completions, errors and stream events.
	//
	// EventCmdComplete: data1 is the Command, data2 the new State or the port.
	// EventError: data1 is the Error code, data2 the port it relates to.
	// EventPortSettingsChanged: data1 is the port.
	// EventBufferFlag: data1 is the port, data2 the buffer flags.
	OnEvent func(e Event, data1, data2 uint32)
	// OnEmptyBufferDone gives an input buffer back, with FilledLen reset.
	OnEmptyBufferDone func(h *buffer.Header)
	// OnFillBufferDone gives an output buffer back, filled with bitstream.
	OnFillBufferDone func(h *buffer.Header)
}

type options struct {
	driverName    string
	encoder       driver.Encoder
	alloc         buffer.Allocator
	callbacks     Callbacks
	inputSlots    int
	outputSlots   int
	loggerFactory logging.LoggerFactory
}

// Option is a type of Component functional option.
type Option func(*options)

// WithDriver opens the encoder from the named driver of driver.Manager.
func WithDriver(name string) Option {
	return func(o *options) {
		o.driverName = name
	}
}

// WithEncoder uses an already opened encoder session. The component takes
// ownership of it.
func WithEncoder(enc driver.Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// WithAllocator sets the allocator backing AllocateBuffer and the copy mode
// pools.
func WithAllocator(a buffer.Allocator) Option {
	return func(o *options) {
		o.alloc = a
	}
}

// WithCallbacks sets the client callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(o *options) {
		o.callbacks = cb
	}
}

// WithBufferCount sets the number of hardware buffers of the copy mode
// pools. Zero keeps the default.
func WithBufferCount(input, output int) Option {
	return func(o *options) {
		if input > 0 {
			o.inputSlots = input
		}
		if output > 0 {
			o.outputSlots = output
		}
	}
}

// WithLoggerFactory sets the factory of the component logger.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(o *options) {
		o.loggerFactory = f
	}
}

func defaultOptions() options {
	return options{
		driverName:  DefaultDriver,
		inputSlots:  h264.DefaultInputCount,
		outputSlots: h264.DefaultOutputCount,
	}
}
