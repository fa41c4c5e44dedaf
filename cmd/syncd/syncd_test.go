package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-atlassian-sync/core"
	"github.com/goliatone/go-atlassian-sync/inbound"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syncd.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_ParsesDurationsAndDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"scheduler": {"tick_interval": "2s", "lease_timeout": "10m", "batch_size": 25},
		"ingest": {"dedupe_ttl": "15m"},
		"configurations": [{"id": "cfg_jira", "tenant_id": "tenant_a", "source": "jira", "retry_limit": 5, "retry_delay": "30s"}]
	}`)
	cfg, err := loadConfig(path, nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Scheduler.TickInterval != 2*time.Second || cfg.Scheduler.LeaseTimeout != 10*time.Minute {
		t.Fatalf("unexpected scheduler durations: %+v", cfg.Scheduler)
	}
	if cfg.Database.Driver != driverSQLite || cfg.Database.DSN != defaultSQLiteDSN {
		t.Fatalf("expected sqlite defaults, got %+v", cfg.Database)
	}
	if cfg.HTTP.Address != defaultHTTPAddress || cfg.Database.PingTimeout != 5*time.Second {
		t.Fatalf("expected http and ping defaults, got %q %s", cfg.HTTP.Address, cfg.Database.PingTimeout)
	}
	seed := cfg.Configurations[0].toDomain()
	if !seed.Enabled || seed.RetryDelay != 30*time.Second || seed.RetryLimit != 5 {
		t.Fatalf("unexpected configuration seed: %+v", seed)
	}

	serviceCfg, err := core.NewCfgxConfigProvider(core.NewStaticConfigLoader(cfg.rawServiceConfig())).
		Load(context.Background(), core.DefaultConfig())
	if err != nil {
		t.Fatalf("load service config: %v", err)
	}
	if serviceCfg.Scheduler.BatchSize != 25 || serviceCfg.Scheduler.TickInterval != 2*time.Second {
		t.Fatalf("expected file values to reach the service config, got %+v", serviceCfg.Scheduler)
	}
	if serviceCfg.Scheduler.Concurrency != core.DefaultConfig().Scheduler.Concurrency {
		t.Fatalf("expected unset values to keep defaults, got %d", serviceCfg.Scheduler.Concurrency)
	}
	if serviceCfg.Ingest.DedupeTTL != 15*time.Minute {
		t.Fatalf("expected dedupe ttl from file, got %s", serviceCfg.Ingest.DedupeTTL)
	}
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {"driver": "postgres", "dsn": "postgres://file/db"},
		"publisher": {"api_key": "from-file"},
		"configurations": [{"id": "cfg_jira", "tenant_id": "tenant_a", "source": "jira", "retry_limit": 2,
			"mapping_rules": {"entity_type": "ticket", "id_field": "issue.id", "event_types": ["jira:issue_created"]}}]
	}`)
	t.Setenv("SYNC_DATABASE__DSN", "postgres://env/db")
	t.Setenv("SYNC_PUBLISHER__API_KEY", "from-env")

	cfg, err := loadConfig(path, nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database.DSN != "postgres://env/db" || cfg.Publisher.APIKey != "from-env" {
		t.Fatalf("expected env values to win, got dsn=%q key=%q", cfg.Database.DSN, cfg.Publisher.APIKey)
	}
	rules := cfg.Configurations[0].toDomain().MappingRules
	if rules.EntityType != "ticket" || rules.IDField != "issue.id" || len(rules.EventTypes) != 1 || !rules.AcceptsEventType("jira:issue_created") {
		t.Fatalf("expected mapping rules from file, got %+v", rules)
	}
}

func TestLoadConfig_WithoutFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database.Driver != driverSQLite || cfg.Database.DSN != defaultSQLiteDSN || cfg.HTTP.Address != defaultHTTPAddress {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfig_RejectsInvalidInput(t *testing.T) {
	cases := map[string]string{
		"postgres without dsn": `{"database": {"driver": "postgres"}}`,
		"unknown driver":       `{"database": {"driver": "mysql"}}`,
		"bad duration":         `{"scheduler": {"tick_interval": "soon"}}`,
		"seed without tenant":  `{"configurations": [{"id": "cfg_1"}]}`,
	}
	for name, body := range cases {
		if _, err := loadConfig(writeConfigFile(t, body), nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestConsoleProvider_FiltersByLevelAndNamesComponents(t *testing.T) {
	var buf bytes.Buffer
	provider := newConsoleProvider(&buf, "warn")
	logger := provider.GetLogger("runtime")
	logger.Info("hidden message")
	logger.Warn("visible message", "config_id", "cfg_jira")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Fatalf("expected info to be filtered at warn level, got %q", out)
	}
	if !strings.Contains(out, "visible message") || !strings.Contains(out, "logger=runtime") || !strings.Contains(out, "config_id=cfg_jira") {
		t.Fatalf("expected named warn line with fields, got %q", out)
	}
}

type fakeGraph struct {
	created atomic.Int64
}

func (g *fakeGraph) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		n := g.created.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"data":{"id":"kg_%d"}}`, n)
	})
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_MigrateTickAndRequeue(t *testing.T) {
	graph := &fakeGraph{}
	server := httptest.NewServer(graph.handler())
	t.Cleanup(server.Close)

	dsn := "file:" + filepath.Join(t.TempDir(), "sync.db") + "?_foreign_keys=on&_busy_timeout=5000"
	path := writeConfigFile(t, fmt.Sprintf(`{
		"database": {"driver": "sqlite", "dsn": %q},
		"publisher": {"base_url": %q, "api_key": "k", "timeout": "2s"},
		"scheduler": {"owner": "cli-test"},
		"configurations": [{"id": "cfg_jira", "tenant_id": "tenant_a", "source": "jira", "retry_limit": 3}]
	}`, dsn, server.URL))

	out, err := runCLI(t, "migrate", "--config", path)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "migrations applied") {
		t.Fatalf("unexpected migrate output %q", out)
	}

	cfg, err := loadConfig(path, nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	rt, err := openRuntime(context.Background(), cfg, newConsoleProvider(&bytes.Buffer{}, "error"), runtimeOptions{})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	enqueued, err := rt.service.Enqueue(context.Background(), core.EnqueueRequest{
		ConfigID: "cfg_jira",
		Payload:  json.RawMessage(`{"webhookEvent":"jira:issue_created","issue":{"id":"10001","key":"OPS-1","fields":{"summary":"Broken deploy"}}}`),
	})
	if err != nil {
		rt.Close()
		t.Fatalf("enqueue: %v", err)
	}
	rt.Close()

	out, err = runCLI(t, "tick", "--config", path, "--log-level", "error")
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	stats := map[string]int{}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode tick output %q: %v", out, err)
	}
	if stats["completed"] != 1 {
		t.Fatalf("expected one completed event, got %#v", stats)
	}
	if graph.created.Load() == 0 {
		t.Fatalf("expected the knowledge graph to receive an entity")
	}

	_, err = runCLI(t, "requeue", enqueued.TenantID, enqueued.EventID, "--config", path, "--log-level", "error")
	if err == nil {
		t.Fatalf("expected completed event requeue to be rejected")
	}
}

func TestRuntime_BuildServerWiresVerifierAndSources(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "sync.db") + "?_foreign_keys=on"
	path := writeConfigFile(t, fmt.Sprintf(`{
		"database": {"driver": "sqlite", "dsn": %q, "auto_migrate": true},
		"webhooks": {"secret": "s3cret", "sources": ["jira"]},
		"configurations": [{"id": "cfg_jira", "tenant_id": "tenant_a", "source": "jira", "retry_limit": 3}]
	}`, dsn))
	cfg, err := loadConfig(path, nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	rt, err := openRuntime(context.Background(), cfg, newConsoleProvider(&bytes.Buffer{}, "error"), runtimeOptions{})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(rt.Close)

	server, err := rt.buildServer()
	if err != nil {
		t.Fatalf("build server: %v", err)
	}

	body := `{"webhookEvent":"jira:issue_created","issue":{"id":"10002"}}`
	unsigned := httptest.NewRequest(http.MethodPost, "/webhooks/jira/cfg_jira", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, unsigned)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unsigned webhook to be rejected, got %d", rec.Code)
	}

	signed := httptest.NewRequest(http.MethodPost, "/webhooks/jira/cfg_jira", strings.NewReader(body))
	signed.Header.Set(inbound.DefaultSignatureHeader, "sha256="+fmt.Sprintf("%x", inbound.SignBody("s3cret", []byte(body))))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, signed)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected signed webhook to be accepted, got %d: %s", rec.Code, rec.Body.String())
	}

	other := httptest.NewRequest(http.MethodPost, "/webhooks/github/cfg_jira", strings.NewReader(body))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, other)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected source outside the allow list to be 404, got %d", rec.Code)
	}
}
