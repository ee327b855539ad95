package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Definitions.SeedOnStart {
		t.Error("Definitions.SeedOnStart = true, want false")
	}
	if cfg.Workflow.ArchiveRole != "RECORDS" {
		t.Errorf("Workflow.ArchiveRole = %q, want RECORDS", cfg.Workflow.ArchiveRole)
	}
	if !cfg.Workflow.StatusMirror {
		t.Error("Workflow.StatusMirror should keep its default true")
	}
	if got := cfg.Workflow.Modules["PERMIT"].StatusByStep["hse_review"]; got != "SAFETY_REVIEW" {
		t.Errorf("PERMIT status_by_step = %q", got)
	}
	if !cfg.Events.Enabled || len(cfg.Events.Brokers) != 2 {
		t.Errorf("Events = %+v", cfg.Events)
	}
	if cfg.Jobs.PendingGaugeSchedule != "*/5 * * * *" {
		t.Errorf("Jobs.PendingGaugeSchedule = %q", cfg.Jobs.PendingGaugeSchedule)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_empty_path_uses_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestLoad_invalid_collects_errors(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("Load() with bad driver should return error")
	}
	for _, want := range []string{"store.driver", "events.brokers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Capability.Cache.TTL != 5*time.Minute {
		t.Errorf("default Capability.Cache.TTL = %v, want 5m", cfg.Capability.Cache.TTL)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if cfg.Workflow.ArchiveRole != "ARCHIVE" {
		t.Errorf("default ArchiveRole = %q, want ARCHIVE", cfg.Workflow.ArchiveRole)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CARTABLE_SERVER_PORT", "3000")
	t.Setenv("CARTABLE_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("CARTABLE_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("CARTABLE_WORKFLOW_ARCHIVE_ROLE", "CLOSED")
	t.Setenv("CARTABLE_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override beats file)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Workflow.ArchiveRole != "CLOSED" {
		t.Errorf("ArchiveRole = %q, want CLOSED", cfg.Workflow.ArchiveRole)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestEnvBrokers_enable_events(t *testing.T) {
	t.Setenv("CARTABLE_EVENTS_BROKERS", "a:9092,b:9092")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Events.Enabled || len(cfg.Events.Brokers) != 2 {
		t.Errorf("Events = %+v, want enabled with 2 brokers", cfg.Events)
	}
}

func TestLoad_env_file(t *testing.T) {
	// godotenv.Load never overrides a variable that is already set, so the
	// keys are unset after t.Setenv registers their cleanup.
	for _, k := range []string{"CARTABLE_SERVER_PORT", "CARTABLE_STORE_DRIVER"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	cfg, err := Load("", "testdata/missing.env", "testdata/test.env")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 from env file", cfg.Server.Port)
	}
	if cfg.Store.Driver != DriverRedis {
		t.Errorf("Store.Driver = %q, want redis from env file", cfg.Store.Driver)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestBroadcastModules(t *testing.T) {
	w := WorkflowConfig{Modules: map[string]ModuleConfig{
		"WORK_ORDER": {Broadcast: true},
		"PERMIT":     {},
		"ALARM":      {Broadcast: true},
	}}
	got := w.BroadcastModules()
	if len(got) != 2 || got[0] != "ALARM" || got[1] != "WORK_ORDER" {
		t.Errorf("BroadcastModules() = %v, want [ALARM WORK_ORDER]", got)
	}
}
