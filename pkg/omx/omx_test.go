package omx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorf(t *testing.T) {
	err := Errorf(ErrBadParameter, "qp min %d > max %d", 40, 20)
	assert.True(t, errors.Is(err, ErrBadParameter))
	assert.False(t, errors.Is(err, ErrHardware))
	assert.Equal(t, "omx: bad parameter: qp min 40 > max 20", err.Error())

	var code Error
	assert.True(t, errors.As(err, &code))
	assert.Equal(t, ErrBadParameter, code)
	assert.Equal(t, "omx: error 0x00000001", Error(1).Error())
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "Executing", StateExecuting.String())
	assert.Equal(t, "Flush", CommandFlush.String())
	assert.Equal(t, "CmdComplete", EventCmdComplete.String())
}
