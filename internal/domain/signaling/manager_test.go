package signaling

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_Create_ReturnsTokenAndICEServers(t *testing.T) {
	m := NewManager(discardLogger())

	s, err := m.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Len(t, s.Token, 64) // 256-bit token, hex-encoded
	assert.NotEmpty(t, s.ICEServers)
}

func TestManager_Subscribe_UnknownSessionReturnsNotFound(t *testing.T) {
	m := NewManager(discardLogger())
	_, _, err := m.Subscribe("does-not-exist", "whatever")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Subscribe_WrongTokenReturnsUnauthorized(t *testing.T) {
	m := NewManager(discardLogger())
	s, err := m.Create()
	require.NoError(t, err)

	_, _, err = m.Subscribe(s.ID, "wrong-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestManager_Subscribe_SecondAttemptConflicts(t *testing.T) {
	m := NewManager(discardLogger())
	s, err := m.Create()
	require.NoError(t, err)

	_, unsubscribe, err := m.Subscribe(s.ID, s.Token)
	require.NoError(t, err)
	defer unsubscribe()

	_, _, err = m.Subscribe(s.ID, s.Token)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestManager_Subscribe_CanReattachAfterUnsubscribe(t *testing.T) {
	m := NewManager(discardLogger())
	s, err := m.Create()
	require.NoError(t, err)

	_, unsubscribe, err := m.Subscribe(s.ID, s.Token)
	require.NoError(t, err)
	unsubscribe()

	_, unsubscribe2, err := m.Subscribe(s.ID, s.Token)
	require.NoError(t, err)
	unsubscribe2()
}

func TestManager_Signal_FansOutToLiveSubscriber(t *testing.T) {
	m := NewManager(discardLogger())
	s, err := m.Create()
	require.NoError(t, err)

	ch, unsubscribe, err := m.Subscribe(s.ID, s.Token)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, m.Signal(s.ID, s.Token, []byte(`{"type":"offer"}`)))

	select {
	case payload := <-ch:
		assert.Equal(t, `{"type":"offer"}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("expected payload on subscriber channel")
	}
}

func TestManager_Signal_DropsWhenNoSubscriber(t *testing.T) {
	m := NewManager(discardLogger())
	s, err := m.Create()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.NoError(t, m.Signal(s.ID, s.Token, []byte("no-one-listening")))
	})
}

func TestManager_Signal_UnauthorizedAndUnknown(t *testing.T) {
	m := NewManager(discardLogger())
	s, err := m.Create()
	require.NoError(t, err)

	assert.ErrorIs(t, m.Signal(s.ID, "wrong", []byte("x")), ErrUnauthorized)
	assert.ErrorIs(t, m.Signal("unknown-id", s.Token, []byte("x")), ErrNotFound)
}

func TestManager_Close_ClosesEverySubscriberChannel(t *testing.T) {
	m := NewManager(discardLogger())
	s, err := m.Create()
	require.NoError(t, err)

	ch, _, err := m.Subscribe(s.ID, s.Token)
	require.NoError(t, err)

	m.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed on manager shutdown")
	case <-time.After(time.Second):
		t.Fatal("expected channel to be closed")
	}

	_, _, err = m.Subscribe(s.ID, s.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSession_Authorize_RejectsWrongLengthAndWrongValue(t *testing.T) {
	m := NewManager(discardLogger())
	s, err := m.Create()
	require.NoError(t, err)

	assert.True(t, s.Authorize(s.Token))
	assert.False(t, s.Authorize(s.Token+"x"))
	assert.False(t, s.Authorize("totally-different-but-same-length-000000000000000000000000000000"))
}
