package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor returns an executor whose sleeps are recorded instead of waited.
func recordingExecutor(sleeps *[]time.Duration) *Executor {
	e := Default()
	e.Sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return e
}

// post sends one request and converts non-2xx responses into *HTTPError.
func post(ctx context.Context, url string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	statuses := []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(statuses[n-1])
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	var sleeps []time.Duration
	e := recordingExecutor(&sleeps)

	got, err := Do(context.Background(), e, Target{Channel: "whatsapp", Recipient: "849"}, func(ctx context.Context) (string, error) {
		return post(ctx, srv.URL)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}, sleeps)
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such user", http.StatusNotFound)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	e := recordingExecutor(&sleeps)

	_, err := Do(context.Background(), e, Target{Channel: "messenger", Recipient: "1"}, func(ctx context.Context) (string, error) {
		return post(ctx, srv.URL)
	})

	var upstream *UpstreamSendError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 1, upstream.Attempts)
	assert.Equal(t, http.StatusNotFound, upstream.Status())
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeps)
}

func TestExhaustedRetriesReturnUpstreamError(t *testing.T) {
	var sleeps []time.Duration
	e := recordingExecutor(&sleeps)
	netErr := errors.New("connection refused")

	calls := 0
	_, err := Do(context.Background(), e, Target{Channel: "telegram", Recipient: "555"}, func(context.Context) (int, error) {
		calls++
		return 0, netErr
	})

	var upstream *UpstreamSendError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, upstream.Attempts)
	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeps)
}

func TestCancelledContextStopsBackoff(t *testing.T) {
	e := Default()
	e.InitialDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, e, Target{Channel: "instagram"}, func(context.Context) (int, error) {
			calls++
			return 0, &HTTPError{Status: http.StatusBadGateway}
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		var upstream *UpstreamSendError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not observe cancellation")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", errors.New("dial tcp: timeout"), true},
		{"500", &HTTPError{Status: 500}, true},
		{"503 wrapped", fmt.Errorf("graph: %w", &HTTPError{Status: 503}), true},
		{"400", &HTTPError{Status: 400}, false},
		{"429", &HTTPError{Status: 429}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
