package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listener struct {
	received []EventContext
	handled  bool
}

func (l *listener) onEvent(code SystemEventCode, sender interface{}, self interface{}, data EventContext) bool {
	l.received = append(l.received, data)
	return l.handled
}

func TestEventRegisterAndFire(t *testing.T) {
	require.True(t, EventSystemInitialize())
	defer EventSystemShutdown()

	l := &listener{}
	require.True(t, EventRegister(EVENT_CODE_RESIZED, l, l.onEvent))

	var data EventContext
	data.Data.U32[0] = 800
	data.Data.U32[1] = 600
	EventFire(EVENT_CODE_RESIZED, nil, data)

	require.Len(t, l.received, 1)
	assert.EqualValues(t, 800, l.received[0].Data.U32[0])
	assert.EqualValues(t, 600, l.received[0].Data.U32[1])

	// Other codes do not reach this listener.
	EventFire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{})
	assert.Len(t, l.received, 1)
}

func TestEventDuplicateRegistrationRejected(t *testing.T) {
	require.True(t, EventSystemInitialize())
	defer EventSystemShutdown()

	l := &listener{}
	require.True(t, EventRegister(EVENT_CODE_SETTINGS_CHANGED, l, l.onEvent))
	assert.False(t, EventRegister(EVENT_CODE_SETTINGS_CHANGED, l, l.onEvent))
}

func TestEventUnregisterStopsDelivery(t *testing.T) {
	require.True(t, EventSystemInitialize())
	defer EventSystemShutdown()

	l := &listener{}
	require.True(t, EventRegister(EVENT_CODE_SETTINGS_CHANGED, l, l.onEvent))
	require.True(t, EventUnregister(EVENT_CODE_SETTINGS_CHANGED, l))
	assert.False(t, EventUnregister(EVENT_CODE_SETTINGS_CHANGED, l))

	EventFire(EVENT_CODE_SETTINGS_CHANGED, nil, EventContext{})
	assert.Empty(t, l.received)
}

func TestEventHandledStopsPropagation(t *testing.T) {
	require.True(t, EventSystemInitialize())
	defer EventSystemShutdown()

	first := &listener{handled: true}
	second := &listener{}
	require.True(t, EventRegister(EVENT_CODE_APPLICATION_QUIT, first, first.onEvent))
	require.True(t, EventRegister(EVENT_CODE_APPLICATION_QUIT, second, second.onEvent))

	assert.True(t, EventFire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
	assert.Len(t, first.received, 1)
	assert.Empty(t, second.received)
}
