package otp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreVerify(t *testing.T) {
	payload := json.RawMessage(`{"autoViewStatus":true}`)

	t.Run("round trip", func(t *testing.T) {
		s := NewStore(5 * time.Minute)
		req, err := s.Create("263786831091", payload)
		require.NoError(t, err)
		require.Len(t, req.Code, 6)

		got, err := s.Verify("263786831091", req.Code)
		require.NoError(t, err)
		assert.JSONEq(t, string(payload), string(got))
	})

	t.Run("single use", func(t *testing.T) {
		s := NewStore(5 * time.Minute)
		req, err := s.Create("263786831091", payload)
		require.NoError(t, err)

		_, err = s.Verify("263786831091", req.Code)
		require.NoError(t, err)

		_, err = s.Verify("263786831091", req.Code)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired code fails and is removed", func(t *testing.T) {
		s := NewStore(5 * time.Minute)
		req, err := s.Create("263786831091", payload)
		require.NoError(t, err)

		s.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

		_, err = s.Verify("263786831091", req.Code)
		assert.ErrorIs(t, err, ErrExpired)

		_, err = s.Verify("263786831091", req.Code)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("wrong code keeps the request", func(t *testing.T) {
		s := NewStore(5 * time.Minute)
		req, err := s.Create("263786831091", payload)
		require.NoError(t, err)

		_, err = s.Verify("263786831091", "000000")
		if req.Code == "000000" {
			t.Skip("generated the guessed code")
		}
		assert.ErrorIs(t, err, ErrMismatch)

		_, err = s.Verify("263786831091", req.Code)
		assert.NoError(t, err)
	})

	t.Run("new request replaces outstanding one", func(t *testing.T) {
		s := NewStore(5 * time.Minute)
		first, err := s.Create("263786831091", payload)
		require.NoError(t, err)

		second, err := s.Create("263786831091", json.RawMessage(`{"prefix":"#"}`))
		require.NoError(t, err)

		if first.Code != second.Code {
			_, err = s.Verify("263786831091", first.Code)
			assert.ErrorIs(t, err, ErrMismatch)
		}

		got, err := s.Verify("263786831091", second.Code)
		require.NoError(t, err)
		assert.JSONEq(t, `{"prefix":"#"}`, string(got))
	})

	t.Run("unknown number", func(t *testing.T) {
		s := NewStore(5 * time.Minute)
		_, err := s.Verify("10000000000", "123456")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
