package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/contentsync/internal/ingest"
)

const sample = `
document   = "site/form.json"
events_key = "afisha"
strict     = true

spreadsheet {
  id          = "sheet-123"
  credentials = "sa.json"
}

sheet "Расписание" {
  kind = "events"
}

log {
  level    = "debug"
  encoding = "json"
}

lock {
  redis_url = "redis://localhost:6379/0"
  ttl       = "30s"
}

mirror {
  endpoint = "localhost:9000"
  bucket   = "backups"
}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "contentsync.hcl")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "site/form.json", cfg.Document)
	assert.Equal(t, "afisha", cfg.EventsKey)
	assert.True(t, cfg.Build.Strict)
	assert.Equal(t, 64, cfg.Build.MaxDepth)
	assert.Equal(t, "sheet-123", cfg.SpreadsheetID)
	assert.Equal(t, "sa.json", cfg.Credentials)
	assert.Equal(t, ingest.KindEvents, cfg.SheetKinds["Расписание"])
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, "contentsync:lock", cfg.LockKey)
	require.NotNil(t, cfg.Mirror)
	assert.Equal(t, "backups", cfg.Mirror.Bucket)

	assert.Equal(t, ingest.KindEvents, cfg.Classifier().Classify("Расписание"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONTENTSYNC_DOCUMENT", "/srv/form.json")
	t.Setenv("CONTENTSYNC_LOG_LEVEL", "warn")
	t.Setenv("CONTENTSYNC_STRICT", "false")
	t.Setenv("CONTENTSYNC_MIRROR_SECRET_KEY", "s3cret")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "/srv/form.json", cfg.Document)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Build.Strict)
	assert.Equal(t, "s3cret", cfg.Mirror.SecretKey)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "form.json", cfg.Document)
	assert.Nil(t, cfg.Mirror)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", `document = `},
		{"unknown kind", `sheet "X" { kind = "banner" }`},
		{"bad ttl", `lock { ttl = "soon" }`},
		{"unknown attribute", `colour = "red"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	assert.Error(t, err)
}
