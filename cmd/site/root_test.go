package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finetuning-llms/companion/internal/config"
)

func TestRenderCommandPrintsPage(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"render", "Chapter 1"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Courses Related to LLMs")
}

func TestRenderCommandUnknownPage(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"render", "appendix"})

	assert.Error(t, cmd.Execute())
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "info")

	cfg, err := loadConfig(&rootOptions{addr: "7000", logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestBuildAppWithMemorySessions(t *testing.T) {
	t.Setenv("SESSION_STORE", "memory")
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodGet, "/pages/chapter-2", nil)
	resp := httptest.NewRecorder()
	a.Handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "OpenAI API Key")
}
