package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/ppsr/models"
)

func successResult() *models.AutomationResult {
	plate := "ABC123"
	return &models.AutomationResult{
		Status:      models.StatusSuccess,
		Message:     "Registration plate extracted",
		PlateNumber: &plate,
		RequestID:   "a1b2c3d4",
	}
}

func TestNew_EmptyURLDisables(t *testing.T) {
	n := New("", "secret")
	assert.Nil(t, n)

	// nil notifier is a no-op
	n.Notify(successResult())
	n.Wait()
}

func TestNewEvent_Type(t *testing.T) {
	assert.Equal(t, EventLookupCompleted, NewEvent(successResult()).Type)

	failed := &models.AutomationResult{Status: models.StatusFailure, RequestID: "x"}
	ev := NewEvent(failed)
	assert.Equal(t, EventLookupFailed, ev.Type)
	assert.Equal(t, "x", ev.RequestID)
}

func TestNotify_SignsAndDelivers(t *testing.T) {
	const secret = "whsec"
	received := make(chan *Event, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, Sign(secret, body), r.Header.Get(SignatureHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var ev Event
		assert.NoError(t, json.Unmarshal(body, &ev))
		received <- &ev
	}))
	defer srv.Close()

	n := New(srv.URL, secret)
	n.Notify(successResult())
	n.Wait()

	select {
	case ev := <-received:
		assert.Equal(t, EventLookupCompleted, ev.Type)
		assert.Equal(t, "a1b2c3d4", ev.RequestID)
		require.NotNil(t, ev.Data.PlateNumber)
		assert.Equal(t, "ABC123", *ev.Data.PlateNumber)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestNotify_Retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(srv.URL, "")
	n.delays = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}
	n.Notify(successResult())
	n.Wait()

	assert.Equal(t, int32(3), calls.Load())
}

func TestSign(t *testing.T) {
	sig := Sign("key", []byte("{}"))
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.Equal(t, sig, Sign("key", []byte("{}")))
	assert.NotEqual(t, sig, Sign("other", []byte("{}")))
	assert.NotEqual(t, sig, Sign("key", []byte("[]")))
}
