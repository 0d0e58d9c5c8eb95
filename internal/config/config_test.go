package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VOS_STORE", "")
	t.Setenv("VOS_SYNTHESIS_SIMILARITY_THRESHOLD", "")
	cfg := Load()
	require.Equal(t, "sqlite", cfg.StoreDriver)
	require.Equal(t, "mock", cfg.LLMProviders)
	require.Equal(t, 2, cfg.SynthesisProximity)
	require.InDelta(t, 0.5, cfg.SynthesisThreshold, 1e-9)
	require.False(t, cfg.CancelOnDisconnect)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VOS_STORE", "Postgres")
	t.Setenv("VOS_PERSONA_TIMEOUT", "45")
	t.Setenv("VOS_SSE_HEARTBEAT", "2s")
	t.Setenv("VOS_CANCEL_ON_DISCONNECT", "true")
	t.Setenv("VOS_SYNTHESIS_SIMILARITY_THRESHOLD", "0.75")
	t.Setenv("VOS_CORS_ORIGINS", "http://a.test, http://b.test,")
	cfg := Load()
	require.Equal(t, "postgres", cfg.StoreDriver)
	require.Equal(t, 45*time.Second, cfg.PersonaTimeout)
	require.Equal(t, 2*time.Second, cfg.SSEHeartbeat)
	require.True(t, cfg.CancelOnDisconnect)
	require.InDelta(t, 0.75, cfg.SynthesisThreshold, 1e-9)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("VOS_MAX_CONCURRENT_PERSONAS", "many")
	t.Setenv("VOS_PERSONA_TIMEOUT", "soon")
	t.Setenv("VOS_SYNTHESIS_FALLBACK", "maybe")
	cfg := Load()
	require.Equal(t, 0, cfg.MaxConcurrentPersonas)
	require.Equal(t, 2*time.Minute, cfg.PersonaTimeout)
	require.False(t, cfg.SynthesisFallback)
}
