package classify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackend(url string) *HTTPBackend {
	return NewHTTPBackend(BackendConfig{
		Endpoint:   url,
		Token:      "hf_test",
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHTTPBackendInfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/nickmuchi/vit-finetuned-chest-xray-pneumonia", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		assert.Equal(t, "cpu", r.Header.Get(deviceHeader))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("png-bytes"), body)
		w.Write([]byte(`[{"label":"PNEUMONIA","score":0.9},{"label":"NORMAL","score":0.1}]`))
	}))
	defer srv.Close()

	scores, err := testBackend(srv.URL).Infer(context.Background(), InferRequest{
		ModelID: "nickmuchi/vit-finetuned-chest-xray-pneumonia",
		Device:  "cpu",
		Image:   []byte("png-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, []Score{{"PNEUMONIA", 0.9}, {"NORMAL", 0.1}}, scores)
}

func TestHTTPBackendBatchedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[{"label":"LABEL_1","score":0.6},{"label":"LABEL_0","score":0.4}]]`))
	}))
	defer srv.Close()

	scores, err := testBackend(srv.URL).Infer(context.Background(), InferRequest{ModelID: "m", Image: []byte("x")})
	require.NoError(t, err)
	assert.Len(t, scores, 2)
	assert.Equal(t, "LABEL_1", scores[0].Label)
}

func TestHTTPBackendRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"Model m is currently loading","estimated_time":20}`))
			return
		}
		w.Write([]byte(`[{"label":"a","score":1}]`))
	}))
	defer srv.Close()

	scores, err := testBackend(srv.URL).Infer(context.Background(), InferRequest{ModelID: "m", Image: []byte("x")})
	require.NoError(t, err)
	assert.Len(t, scores, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPBackendErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
		calls  int32
	}{
		{"not found", http.StatusNotFound, `{"error":"Model not found"}`, ErrModelLoad, 1},
		{"unauthorized", http.StatusUnauthorized, `{"error":"Invalid token"}`, ErrModelLoad, 1},
		{"still loading", http.StatusServiceUnavailable, `{"error":"Model m is currently loading"}`, ErrModelLoad, 3},
		{"bad image", http.StatusBadRequest, `{"error":"cannot identify image file"}`, ErrInference, 1},
		{"server error", http.StatusInternalServerError, `oops`, ErrInference, 3},
		{"garbage", http.StatusOK, `{"not":"scores"}`, ErrInference, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := testBackend(srv.URL).Infer(context.Background(), InferRequest{ModelID: "m", Image: []byte("x")})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.calls, calls.Load())
		})
	}
}

func TestErrorMessageTruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxErrorMessage-1) + strings.Repeat("é", 10)
	msg := errorMessage([]byte(body))
	assert.True(t, utf8.ValidString(msg), "%q", msg)
	assert.Equal(t, strings.Repeat("a", maxErrorMessage-1), msg)

	assert.Equal(t, "Model not found", errorMessage([]byte(`{"error":"Model not found"}`)))
	assert.Equal(t, "oops", errorMessage([]byte("  oops\n")))
}

func TestHTTPBackendLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if r.URL.Path == "/models/org/present" {
			w.Write([]byte(`{"loaded":true}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := testBackend(srv.URL)
	require.NoError(t, b.Load(context.Background(), "org/present"))

	err := b.Load(context.Background(), "org/absent")
	var mle *ModelLoadError
	require.ErrorAs(t, err, &mle)
	assert.Equal(t, "org/absent", mle.ModelID)
}
