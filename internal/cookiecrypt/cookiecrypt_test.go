package cookiecrypt

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnisbouncer/bouncer/internal/qid"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.Error(t, err)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	s, err := New(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("hello world")
	sealed, err := s.Seal(plaintext)
	require.NoError(t, err)

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpen_TamperedValueFails(t *testing.T) {
	s, err := New(testKey(t))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-2] + "xy"
	_, err = s.Open(tampered)
	assert.ErrorIs(t, err, ErrInvalidCookie)
}

func TestOpen_GarbageFails(t *testing.T) {
	s, err := New(testKey(t))
	require.NoError(t, err)

	_, err = s.Open("not-valid-base64!!")
	assert.ErrorIs(t, err, ErrInvalidCookie)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	s1, err := New(testKey(t))
	require.NoError(t, err)
	s2, err := New(bytes.Repeat([]byte{0x99}, KeySize))
	require.NoError(t, err)

	sealed, err := s1.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.ErrorIs(t, err, ErrInvalidCookie)
}

func TestSealOpenQID_RoundTrip(t *testing.T) {
	s, err := New(testKey(t))
	require.NoError(t, err)

	id := qid.New()
	sealed, err := s.SealQID(id)
	require.NoError(t, err)

	opened, err := s.OpenQID(sealed)
	require.NoError(t, err)
	assert.Equal(t, id, opened)
}

func TestOpenQID_InvalidPlaintextLength(t *testing.T) {
	s, err := New(testKey(t))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("not-16-bytes"))
	require.NoError(t, err)

	_, err = s.OpenQID(sealed)
	assert.ErrorIs(t, err, ErrInvalidCookie)
}

func TestServerCookie_Flags(t *testing.T) {
	c := ServerCookie("omnis-bouncer-id", "value", time.Minute)
	assert.True(t, c.Secure)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/", c.Path)
	assert.False(t, c.Expires.IsZero())
}

func TestServerCookie_SessionCookieWhenNoExpiry(t *testing.T) {
	c := ServerCookie("omnis-bouncer-id", "value", 0)
	assert.True(t, c.Expires.IsZero())
}

func TestBrowserCookie_NotHttpOnly(t *testing.T) {
	c := BrowserCookie("omnis-bouncer-queue-position", "3")
	assert.False(t, c.HttpOnly)
	assert.True(t, c.Secure)
}
