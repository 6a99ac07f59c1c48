package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashcode/arena/internal/breaker"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Config{
		BaseURL:        srv.URL,
		PollInterval:   5 * time.Millisecond,
		MaxPollRetries: 5,
	}, breaker.New("sandbox", breaker.Config{}, zerolog.Nop()), zerolog.Nop())
	return client, srv
}

func TestSubmitEncodesSource(t *testing.T) {
	var got submitRequest
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("base64_encoded"))
		assert.Equal(t, "false", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(submitResponse{Token: "tok-1"})
	}))

	token, err := client.Submit(context.Background(), LangPython, "print(1)", "stdin-data")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, LangPython, got.LanguageID)

	source, err := base64.StdEncoding.DecodeString(got.SourceCode)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(source))

	stdin, err := base64.StdEncoding.DecodeString(got.Stdin)
	require.NoError(t, err)
	assert.Equal(t, "stdin-data", string(stdin))
	assert.Zero(t, got.MemoryLimit)
}

func TestSubmitSetsMemoryLimitForCompiled(t *testing.T) {
	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(submitResponse{Token: "tok-2"})
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL:          srv.URL,
		CompiledMemoryKB: 262144,
	}, breaker.New("sandbox", breaker.Config{}, zerolog.Nop()), zerolog.Nop())

	_, err := client.Submit(context.Background(), LangJava, "class Main {}", "")
	require.NoError(t, err)
	assert.Equal(t, 262144, got.MemoryLimit)
}

func TestRunPollsUntilSettled(t *testing.T) {
	var polls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(submitResponse{Token: "tok-3"})
			return
		}
		assert.Equal(t, "*", r.URL.Query().Get("fields"))
		var out pollResponse
		if polls.Add(1) < 3 {
			out.Status.ID = StatusProcessing
		} else {
			out.Status.ID = StatusAccepted
			out.Status.Description = "Accepted"
			out.Stdout = base64.StdEncoding.EncodeToString([]byte("Test 0: 42\n"))
			out.Time = "0.031"
			out.Memory = "10240"
		}
		json.NewEncoder(w).Encode(out)
	}))

	result, err := client.Run(context.Background(), LangPython, "src", "")
	require.NoError(t, err)
	assert.True(t, result.Accepted())
	assert.Equal(t, "Test 0: 42\n", result.Stdout)
	assert.InDelta(t, 0.031, result.TimeSec, 1e-9)
	assert.InDelta(t, 10240, result.MemoryKB, 1e-9)
	assert.EqualValues(t, 3, polls.Load())
}

func TestRunSettlesInstantJobWithinTightDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(submitResponse{Token: "tok-6"})
			return
		}
		var out pollResponse
		out.Status.ID = StatusAccepted
		out.Stdout = base64.StdEncoding.EncodeToString([]byte("true\n"))
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL:      srv.URL,
		PollInterval: 2 * time.Second,
	}, breaker.New("sandbox", breaker.Config{}, zerolog.Nop()), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := client.Run(ctx, LangPython, "src", "")
	require.NoError(t, err)
	assert.True(t, result.Accepted())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRunTimesOutWhenNeverSettled(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(submitResponse{Token: "tok-4"})
			return
		}
		var out pollResponse
		out.Status.ID = StatusInQueue
		json.NewEncoder(w).Encode(out)
	}))

	_, err := client.Run(context.Background(), LangPython, "src", "")
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestPollDecodesErrorFields(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out pollResponse
		out.Status.ID = 6
		out.Status.Description = "Compilation Error"
		out.CompileOutput = base64.StdEncoding.EncodeToString([]byte("main.cpp:3: error"))
		json.NewEncoder(w).Encode(out)
	}))

	result, err := client.Poll(context.Background(), "tok-5")
	require.NoError(t, err)
	assert.False(t, result.Accepted())
	assert.Equal(t, "main.cpp:3: error", result.CompileOutput)
}

func TestCanonicalAliases(t *testing.T) {
	for alias, want := range map[string]string{
		"py": Python, "python3": Python, "js": JavaScript,
		"node": JavaScript, "c++": Cpp, "java": Java,
	} {
		got, ok := Canonical(alias)
		require.True(t, ok, alias)
		assert.Equal(t, want, got)
	}
	_, ok := Canonical("rust")
	assert.False(t, ok)
}
