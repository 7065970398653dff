package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, answer string) string {
	t.Helper()
	t.Setenv("HPN_OPENAI_KEYS", "")
	t.Setenv("HPN_AUTH_TOKENS", "")
	t.Setenv("HPN_MODERATION_KEYS", "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": answer}}},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := fmt.Sprintf(`
history:
  backend: memory
logging:
  level: error
providers:
  - name: local
    type: openai
    base_url: %s
    enabled: true
`, srv.URL)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAskCmd(t *testing.T) {
	path := writeConfig(t, "42")

	out, err := execute(t, "", "--config", path, "ask", "what", "is", "the", "answer")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestAskCmd_Clean(t *testing.T) {
	path := writeConfig(t, "a calm answer")

	out, err := execute(t, "", "--config", path, "ask", "--clean", "--user", "3", "hi")
	require.NoError(t, err)
	assert.Equal(t, "a calm answer\n", out)
}

func TestAskCmd_BadMode(t *testing.T) {
	path := writeConfig(t, "42")

	_, err := execute(t, "", "--config", path, "ask", "--mode", "slow", "q")
	assert.Error(t, err)
}

func TestAskCmd_RequiresPrompt(t *testing.T) {
	_, err := execute(t, "", "ask")
	assert.Error(t, err)
}

func TestSummarizeCmd_Stdin(t *testing.T) {
	path := writeConfig(t, "summary")

	out, err := execute(t, "some long text", "--config", path, "summarize", "--prompt", "Sum: ")
	require.NoError(t, err)
	assert.Equal(t, "summary\n", out)
}

func TestModerateCmd_NoKeys(t *testing.T) {
	path := writeConfig(t, "x")

	out, err := execute(t, "", "--config", path, "moderate", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "clean\n", out)
}

func TestClearHistoryCmd(t *testing.T) {
	path := writeConfig(t, "x")

	out, err := execute(t, "", "--config", path, "clear-history", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "12")
}
