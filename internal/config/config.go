// Package config loads contentsync.hcl, then applies .env and CONTENTSYNC_*
// environment overrides. The result is read-only after Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/joho/godotenv"

	"github.com/agentic-research/contentsync/internal/ingest"
	"github.com/agentic-research/contentsync/internal/logging"
	"github.com/agentic-research/contentsync/internal/store"
	"github.com/agentic-research/contentsync/internal/tree"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "contentsync.hcl"

const envPrefix = "CONTENTSYNC_"

// File mirrors the HCL layout.
type File struct {
	Document  string `hcl:"document,optional"`
	EventsKey string `hcl:"events_key,optional"`
	CSVDir    string `hcl:"csv_dir,optional"`
	Strict    bool   `hcl:"strict,optional"`
	MaxDepth  int    `hcl:"max_depth,optional"`

	Spreadsheet *SpreadsheetBlock `hcl:"spreadsheet,block"`
	Sheets      []SheetBlock      `hcl:"sheet,block"`
	Log         *LogBlock         `hcl:"log,block"`
	HTTP        *HTTPBlock        `hcl:"http,block"`
	Lock        *LockBlock        `hcl:"lock,block"`
	Journal     *JournalBlock     `hcl:"journal,block"`
	Mirror      *MirrorBlock      `hcl:"mirror,block"`
	Extras      *ExtrasBlock      `hcl:"extras,block"`
}

type SpreadsheetBlock struct {
	ID          string `hcl:"id"`
	Credentials string `hcl:"credentials,optional"`
	Concurrency int    `hcl:"concurrency,optional"`
}

// SheetBlock overrides the kind inferred from a tab title.
type SheetBlock struct {
	Title string `hcl:"title,label"`
	Kind  string `hcl:"kind"`
}

type LogBlock struct {
	Level    string `hcl:"level,optional"`
	Encoding string `hcl:"encoding,optional"`
}

type HTTPBlock struct {
	Addr       string `hcl:"addr,optional"`
	Token      string `hcl:"token,optional"`
	CORSOrigin string `hcl:"cors_origin,optional"`
}

type LockBlock struct {
	RedisURL string `hcl:"redis_url,optional"`
	Key      string `hcl:"key,optional"`
	TTL      string `hcl:"ttl,optional"`
}

type JournalBlock struct {
	Path string `hcl:"path"`
}

type MirrorBlock struct {
	Endpoint  string `hcl:"endpoint"`
	Bucket    string `hcl:"bucket"`
	Prefix    string `hcl:"prefix,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	Secure    bool   `hcl:"secure,optional"`
}

type ExtrasBlock struct {
	SettingsOut string   `hcl:"settings_out,optional"`
	SlidesOut   string   `hcl:"slides_out,optional"`
	Assets      []string `hcl:"assets,optional"`
}

// Config is the resolved configuration.
type Config struct {
	Document  string
	EventsKey string
	CSVDir    string
	Build     tree.BuildOptions

	SpreadsheetID string
	Credentials   string
	Concurrency   int
	SheetKinds    map[string]ingest.Kind

	Log logging.Config

	HTTPAddr   string
	HTTPToken  string
	CORSOrigin string

	RedisURL string
	LockKey  string
	LockTTL  time.Duration

	JournalPath string

	// Mirror is nil when no bucket is configured.
	Mirror *store.BucketConfig

	SettingsOut string
	SlidesOut   string
	Assets      []string
}

func defaults() Config {
	return Config{
		Document:    "form.json",
		EventsKey:   "events",
		CSVDir:      "csv",
		Build:       tree.DefaultBuildOptions(),
		Credentials: "credentials.json",
		Concurrency: 4,
		SheetKinds:  map[string]ingest.Kind{},
		Log:         logging.DefaultConfig(),
		HTTPAddr:    ":5000",
		CORSOrigin:  "*",
		LockKey:     "contentsync:lock",
		LockTTL:     2 * time.Minute,
		SettingsOut: "settings.json",
		SlidesOut:   "slides.json",
		Assets:      []string{"app.js", "style.css"},
	}
}

// Load reads path (DefaultFile when empty; a missing default file is not an
// error), then .env, then the environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	var f File
	switch err := hclsimple.DecodeFile(path, nil, &f); {
	case err == nil:
		if err := cfg.apply(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case !explicit && isNotExist(path):
	default:
		return nil, fmt.Errorf("load config: %w", err)
	}

	_ = godotenv.Load() // .env is optional
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotExist(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}

func (c *Config) apply(f File) error {
	setString(&c.Document, f.Document)
	setString(&c.EventsKey, f.EventsKey)
	setString(&c.CSVDir, f.CSVDir)
	c.Build.Strict = f.Strict
	if f.MaxDepth > 0 {
		c.Build.MaxDepth = f.MaxDepth
	}

	if s := f.Spreadsheet; s != nil {
		c.SpreadsheetID = s.ID
		setString(&c.Credentials, s.Credentials)
		if s.Concurrency > 0 {
			c.Concurrency = s.Concurrency
		}
	}
	for _, s := range f.Sheets {
		k := ingest.ParseKind(s.Kind)
		if k == ingest.KindUnknown {
			return fmt.Errorf("sheet %q: unknown kind %q", s.Title, s.Kind)
		}
		c.SheetKinds[s.Title] = k
	}
	if l := f.Log; l != nil {
		setString(&c.Log.Level, l.Level)
		setString(&c.Log.Encoding, l.Encoding)
	}
	if h := f.HTTP; h != nil {
		setString(&c.HTTPAddr, h.Addr)
		setString(&c.HTTPToken, h.Token)
		setString(&c.CORSOrigin, h.CORSOrigin)
	}
	if l := f.Lock; l != nil {
		setString(&c.RedisURL, l.RedisURL)
		setString(&c.LockKey, l.Key)
		if l.TTL != "" {
			d, err := time.ParseDuration(l.TTL)
			if err != nil {
				return fmt.Errorf("lock ttl: %w", err)
			}
			c.LockTTL = d
		}
	}
	if j := f.Journal; j != nil {
		c.JournalPath = j.Path
	}
	if m := f.Mirror; m != nil {
		c.Mirror = &store.BucketConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
			Secure:    m.Secure,
		}
	}
	if e := f.Extras; e != nil {
		setString(&c.SettingsOut, e.SettingsOut)
		setString(&c.SlidesOut, e.SlidesOut)
		if len(e.Assets) > 0 {
			c.Assets = e.Assets
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	env(&c.Document, "DOCUMENT")
	env(&c.EventsKey, "EVENTS_KEY")
	env(&c.CSVDir, "CSV_DIR")
	env(&c.SpreadsheetID, "SPREADSHEET_ID")
	env(&c.Credentials, "CREDENTIALS")
	env(&c.Log.Level, "LOG_LEVEL")
	env(&c.Log.Encoding, "LOG_ENCODING")
	env(&c.HTTPAddr, "HTTP_ADDR")
	env(&c.HTTPToken, "HTTP_TOKEN")
	env(&c.CORSOrigin, "CORS_ORIGIN")
	env(&c.RedisURL, "REDIS_URL")
	env(&c.JournalPath, "JOURNAL")

	if v, ok := lookup("STRICT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSTRICT: %w", envPrefix, err)
		}
		c.Build.Strict = b
	}
	if v, ok := lookup("LOCK_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sLOCK_TTL: %w", envPrefix, err)
		}
		c.LockTTL = d
	}
	if c.Mirror != nil {
		env(&c.Mirror.AccessKey, "MIRROR_ACCESS_KEY")
		env(&c.Mirror.SecretKey, "MIRROR_SECRET_KEY")
	}
	return nil
}

// Classifier returns a tab classifier honoring the sheet blocks.
func (c *Config) Classifier() ingest.Classifier {
	return ingest.Classifier{Overrides: c.SheetKinds}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func env(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}
