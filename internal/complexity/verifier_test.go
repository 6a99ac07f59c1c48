package complexity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashcode/arena/internal/breaker"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newVerifier(baseURL string) *Verifier {
	return New(Config{BaseURL: baseURL, Model: "test-model"},
		breaker.New("llm", breaker.Config{}, zerolog.Nop()), zerolog.Nop())
}

func TestVerifyPass(t *testing.T) {
	srv := chatServer(t, `{"derived_complexity": "O(n)", "verdict": "PASS"}`)
	v := newVerifier(srv.URL)

	verdict, err := v.Verify(context.Background(), "def f(): pass", "O(n)")
	require.NoError(t, err)
	assert.True(t, verdict.Passed())
	assert.Equal(t, "O(n)", verdict.DerivedComplexity)
}

func TestVerifyFail(t *testing.T) {
	srv := chatServer(t, `{"derived_complexity": "O(n^2)", "verdict": "FAIL"}`)
	v := newVerifier(srv.URL)

	verdict, err := v.Verify(context.Background(), "src", "O(n)")
	require.NoError(t, err)
	assert.False(t, verdict.Passed())
	assert.Equal(t, "O(n^2)", verdict.DerivedComplexity)
}

func TestVerifyFencedJSONAccepted(t *testing.T) {
	srv := chatServer(t, "```json\n{\"derived_complexity\": \"O(1)\", \"verdict\": \"PASS\"}\n```")
	v := newVerifier(srv.URL)

	verdict, err := v.Verify(context.Background(), "src", "O(1)")
	require.NoError(t, err)
	assert.True(t, verdict.Passed())
}

func TestVerifyMalformedIsHardError(t *testing.T) {
	for _, content := range []string{
		"the code looks fine to me",
		`{"verdict": "MAYBE"}`,
		`{"derived_complexity": "O(n)"}`,
	} {
		srv := chatServer(t, content)
		v := newVerifier(srv.URL)

		verdict, err := v.Verify(context.Background(), "src", "O(n)")
		assert.ErrorIs(t, err, ErrMalformedResponse, content)
		assert.Nil(t, verdict)
	}
}

func TestVerifyShortCircuitsWhileBreakerOpen(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := New(Config{BaseURL: srv.URL, Model: "test-model"},
		breaker.New("llm", breaker.Config{FailureThreshold: 2}, zerolog.Nop()), zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := v.Verify(context.Background(), "src", "O(n)")
		require.Error(t, err)
	}
	_, err := v.Verify(context.Background(), "src", "O(n)")
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, 2, hits)
}
