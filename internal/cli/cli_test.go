package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	app "github.com/R3E-Network/apphost/internal/app"
	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/httpapi"
	"github.com/R3E-Network/apphost/internal/hosting"
	"github.com/R3E-Network/apphost/internal/middleware"
)

var cliSecret = []byte("cli-test-secret")

func newTestServer(t *testing.T) string {
	t.Helper()

	application, err := app.New(app.Stores{}, app.Options{
		Runtime: hosting.NewLocalRuntime("apps.test", 0),
	}, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	auth := middleware.NewAuthMiddleware(middleware.AuthConfig{
		Secret:    cliSecret,
		Anonymous: true,
	}, nil)
	srv := httptest.NewServer(httpapi.NewRouter(application, httpapi.RouterOptions{Auth: auth}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestModuleCommands(t *testing.T) {
	server := newTestServer(t)
	dir := t.TempDir()
	welcome := writeManifest(t, dir, "welcome.yaml", "name: welcome\ntype: Web\n")
	bank := writeManifest(t, dir, "bank.json", `{"name":"bank","dependencies":["oodb"]}`)

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr string
	}{
		{name: "upload", args: []string{"modules", "upload", welcome, bank}, want: []string{"welcome", "bank", "oodb(missing)"}},
		{name: "list", args: []string{"modules", "list"}, want: []string{"NAME", "welcome", "bank"}},
		{name: "get", args: []string{"modules", "get", "bank"}, want: []string{"Name:         bank", "Resolved:     false"}},
		{name: "resolve", args: []string{"mod", "resolve", "welcome"}, want: []string{"Resolved:     true"}},
		{name: "get missing", args: []string{"modules", "get", "nope"}, wantErr: "NOT_FOUND"},
		{name: "delete", args: []string{"modules", "delete", "bank"}, want: []string{"module bank deleted"}},
		{name: "upload needs files", args: []string{"modules", "upload"}, wantErr: "requires at least 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, server, tt.args...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v\n%s", err, out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestDeploymentCommands(t *testing.T) {
	server := newTestServer(t)
	dir := t.TempDir()
	welcome := writeManifest(t, dir, "welcome.yaml", "name: welcome\n")
	bank := writeManifest(t, dir, "bank.yaml", "name: bank\ndependencies: [oodb]\n")
	if _, err := run(t, server, "modules", "upload", welcome, bank); err != nil {
		t.Fatalf("upload: %v", err)
	}

	out, err := run(t, server, "deployments", "register", "welcome", "--domain", "shop.alice.user", "--inject", "color=blue")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(out, "State:      registered") || !strings.Contains(out, "color=blue") {
		t.Errorf("register output:\n%s", out)
	}

	if _, err := run(t, server, "deploy", "load", "shop.alice.user", "--interval", "10ms"); err != nil {
		t.Fatalf("load: %v", err)
	}

	out, err = run(t, server, "-o", "json", "deployments", "get", "shop.alice.user")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var dep deployment.Deployment
	if err := json.Unmarshal([]byte(out), &dep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if dep.State != deployment.StateActive || !dep.Active {
		t.Errorf("state = %s active = %v, want active", dep.State, dep.Active)
	}
	if dep.Injections["color"] != "blue" {
		t.Errorf("injections = %v", dep.Injections)
	}

	if _, err := run(t, server, "deployments", "register", "bank", "--domain", "bank.bob.user"); err != nil {
		t.Fatalf("register bank: %v", err)
	}
	_, err = run(t, server, "deployments", "load", "bank.bob.user", "--interval", "10ms")
	if err == nil || !strings.Contains(err.Error(), "oodb") {
		t.Fatalf("load bank error = %v, want mention of oodb", err)
	}

	out, err = run(t, server, "deployments", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, w := range []string{"DOMAIN", "shop.alice.user", "bank.bob.user", "error"} {
		if !strings.Contains(out, w) {
			t.Errorf("list output missing %q:\n%s", w, out)
		}
	}

	out, err = run(t, server, "deployments", "report", "shop.alice.user")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, "EVENT") {
		t.Errorf("report output:\n%s", out)
	}

	out, err = run(t, server, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, w := range []string{"Modules:     2 (1 resolved, 1 unresolved)", "MODULE", "shop.alice.user"} {
		if !strings.Contains(out, w) {
			t.Errorf("status output missing %q:\n%s", w, out)
		}
	}

	if _, err := run(t, server, "deployments", "toggle", "shop.alice.user"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := run(t, server, "deployments", "unregister", "shop.alice.user"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := run(t, server, "deployments", "get", "shop.alice.user"); err == nil {
		t.Fatal("expected not found after unregister")
	}
}

func TestTokenAndWhoami(t *testing.T) {
	server := newTestServer(t)

	out, err := run(t, server, "token", "alice", "--secret", string(cliSecret), "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	tok := strings.TrimSpace(out)

	claims := &middleware.Claims{}
	if _, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) { return cliSecret, nil }); err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Principal() != "alice" {
		t.Errorf("principal = %q, want alice", claims.Principal())
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Hour {
		t.Errorf("unexpected expiry %v", claims.ExpiresAt)
	}

	out, err = run(t, server, "--token", tok, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if strings.TrimSpace(out) != "alice" {
		t.Errorf("whoami = %q, want alice", out)
	}

	if _, err := run(t, server, "whoami"); err == nil {
		t.Error("whoami without a token should fail")
	}
	if _, err := run(t, server, "token", "alice", "--secret", ""); err == nil {
		t.Error("token without a secret should fail")
	}
}

func TestOutputFlag(t *testing.T) {
	server := newTestServer(t)
	if _, err := run(t, server, "-o", "yaml", "modules", "list"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
	out, err := run(t, server, "-o", "json", "modules", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("json list = %q, want []", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Millisecond, "< 1s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 30*time.Minute, "2h30m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
