package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
database: /tmp/harvest.db
notify:
  sender: ops@example.org
sources:
  - name: apambiente
    display_name: Harvester Portal do Ambiente
    backend: csw
    url: https://sniambgeoportal.apambiente.pt/geoportal/csw
    organization: org-apa
    tag: apambiente.pt
    page_delay: 2s
  - name: dgt
    backend: flat
    url: https://snig.dgterritorio.gov.pt/rndg/srv/por/q?_content_type=json
    verify_ssl: false
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2)

	apa := cfg.Sources[0]
	assert.True(t, apa.VerifySSL, "verify_ssl defaults to true")
	assert.Equal(t, "sniambgeoportal.apambiente.pt", apa.Domain())
	assert.Equal(t, 100, apa.PageSize)
	assert.Equal(t, 2*time.Second, apa.PageDelay)
	assert.Equal(t, "cc-by", apa.License)
	assert.Equal(t, "Harvester Portal do Ambiente", apa.Title())

	dgt := cfg.Sources[1]
	assert.False(t, dgt.VerifySSL)
	assert.Equal(t, "snig.dgterritorio.gov.pt", dgt.Tag, "tag falls back to the domain")
	assert.Equal(t, "dgt", dgt.Title())

	assert.Equal(t, "ops@example.org", cfg.Notify.Sender)
	assert.Equal(t, "dados.gov.pt", cfg.Notify.ServerName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParse_Validation(t *testing.T) {
	cases := map[string]string{
		"missing name":    "sources:\n  - url: https://a.example/csw\n",
		"duplicate name":  "sources:\n  - {name: a, url: 'https://a.example'}\n  - {name: a, url: 'https://b.example'}\n",
		"unknown backend": "sources:\n  - {name: a, backend: oai, url: 'https://a.example'}\n",
		"bad url":         "sources:\n  - {name: a, url: 'ftp://a.example'}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	t.Setenv("HARVEST_DB", "/var/lib/harvest.db")
	t.Setenv("HARVEST_LOG_LEVEL", "DEBUG")
	t.Setenv("HARVEST_SMTP_PASSWORD", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/harvest.db", cfg.Database)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "s3cret", cfg.Notify.SMTP.Password)

	src, ok := cfg.Source("dgt")
	assert.True(t, ok)
	assert.Equal(t, BackendFlat, src.Backend)

	_, ok = cfg.Source("missing")
	assert.False(t, ok)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
