package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/R3E-Network/apphost/internal/config"
	"github.com/R3E-Network/apphost/internal/hosting"
	"github.com/R3E-Network/apphost/pkg/logger"
)

func TestBuildRuntime(t *testing.T) {
	log := logger.NewDefault("test")
	tests := []struct {
		name string
		mode string
		want string
		ok   bool
	}{
		{"local", config.RuntimeLocal, "*hosting.LocalRuntime", true},
		{"default", "", "*hosting.LocalRuntime", true},
		{"http", config.RuntimeHTTP, "*hosting.HTTPRuntime", true},
		{"script", config.RuntimeScript, "*hosting.ScriptRuntime", true},
		{"unknown", "docker", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := buildRuntime(config.RuntimeConfig{Mode: tt.mode, BaseURL: "http://runtime.local"}, log)
			if !tt.ok {
				if err == nil {
					t.Fatalf("expected error, got runtime %T", rt)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildRuntime: %v", err)
			}
			var got string
			switch rt.(type) {
			case *hosting.LocalRuntime:
				got = "*hosting.LocalRuntime"
			case *hosting.HTTPRuntime:
				got = "*hosting.HTTPRuntime"
			case *hosting.ScriptRuntime:
				got = "*hosting.ScriptRuntime"
			}
			if got != tt.want {
				t.Fatalf("runtime = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewApplicationInMemory(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Anonymous: true}}
	cfg.Logging.Output = "stderr"
	cfg.ApplyDefaults()
	cfg.RateLimit.RequestsPerSecond = 100
	cfg.RateLimit.Burst = 100
	cfg.Server.AllowedOrigins = []string{"*"}

	a, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	if err := a.App().Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.App().Stop(context.Background())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/modules", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("modules status = %d, want 200", rec.Code)
	}
}

func TestOpenDatabaseRequiresSettings(t *testing.T) {
	if _, err := openDatabase(config.DatabaseConfig{}); err == nil {
		t.Fatal("expected error for empty driver")
	}
	if _, err := openDatabase(config.DatabaseConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
