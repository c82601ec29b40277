package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/history"
)

const minimal = `
[content]
owner = "byuweb"
repo = "web-cdn"

[libraries.demo]
source = "github:byuweb/demo"
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(minimal)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Content.Branch != DefaultBranch {
		t.Errorf("Branch = %q, want %q", cfg.Content.Branch, DefaultBranch)
	}
	if cfg.Cache.Backend != BackendFile || cfg.Cache.TTL.Duration != DefaultCacheTTL {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Run.Concurrency != DefaultConcurrency || cfg.Run.WorkDir != DefaultWorkDir {
		t.Errorf("Run = %+v", cfg.Run)
	}
	if cfg.History.Path != filepath.Join(DefaultWorkDir, "runs.jsonl") {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse(`
[content]
owner = "byuweb"
repo = "web-cdn"
branch = "published"

[storage]
dir = "/srv/cdn"

[invalidation]
url = "https://purge.example/api"
token_env = "CDN_PURGE_TOKEN"

[cache]
backend = "redis"
redis_url = "redis://localhost:6379/0"
ttl = "1h"

[history]
backend = "mongo"
mongo_uri = "mongodb://localhost:27017"

[run]
concurrency = 4
rate_limit = 10.0
workdir = "/var/lib/libcdn"

[libraries.demo]
source = "github:byuweb/demo"
branch = "master"

[libraries.fonts]
source = "github:byuweb/fonts"
`)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.TTL.Duration != time.Hour {
		t.Errorf("TTL = %v, want 1h", cfg.Cache.TTL)
	}
	if cfg.History.Database != history.DefaultDatabase {
		t.Errorf("Database = %q", cfg.History.Database)
	}

	specs := cfg.Specs()
	if len(specs) != 2 || specs[0].ID != "demo" || specs[1].ID != "fonts" {
		t.Fatalf("Specs() = %+v", specs)
	}
	if specs[0].Branch != "master" || specs[0].Source != "github:byuweb/demo" {
		t.Errorf("demo spec = %+v", specs[0])
	}
	if opts := cfg.HistoryOptions(); opts.Backend != BackendMongo || opts.MongoURI == "" {
		t.Errorf("HistoryOptions() = %+v", opts)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"syntax", `[content`},
		{"unknown key", minimal + "\n[run]\nparallelism = 3\n"},
		{"missing content", `[libraries.demo]` + "\n" + `source = "github:o/r"`},
		{"no libraries", "[content]\nowner = \"o\"\nrepo = \"r\"\n"},
		{"missing source", "[content]\nowner = \"o\"\nrepo = \"r\"\n[libraries.demo]\nbranch = \"main\"\n"},
		{"bad library id", "[content]\nowner = \"o\"\nrepo = \"r\"\n[libraries.\"../x\"]\nsource = \"github:o/r\"\n"},
		{"bad cache backend", minimal + "\n[cache]\nbackend = \"memcached\"\n"},
		{"redis without url", minimal + "\n[cache]\nbackend = \"redis\"\n"},
		{"mongo without uri", minimal + "\n[history]\nbackend = \"mongo\"\n"},
		{"bad ttl", minimal + "\n[cache]\nttl = \"soon\"\n"},
		{"negative concurrency", minimal + "\n[run]\nconcurrency = -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc)
			if err == nil {
				t.Fatal("expected error")
			}
			want := liberrors.ErrCodeInvalidConfig
			if tt.name == "bad library id" {
				want = liberrors.ErrCodeInvalidLibrary
			}
			if !liberrors.Is(err, want) {
				t.Errorf("code = %q, want %q", liberrors.GetCode(err), want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libcdn.toml")
	if err := os.WriteFile(path, []byte(minimal), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(TokenEnv, "ghp_test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GitHubToken != "ghp_test" {
		t.Errorf("GitHubToken = %q", cfg.GitHubToken)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !liberrors.Is(err, liberrors.ErrCodeInvalidConfig) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestWebhookSecret(t *testing.T) {
	cfg, err := Parse(minimal + "\n[server]\nsecret_env = \"TEST_WEBHOOK_SECRET\"\n")
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_WEBHOOK_SECRET", "s3cret")
	if got := cfg.WebhookSecret(); got != "s3cret" {
		t.Errorf("WebhookSecret() = %q", got)
	}
}
