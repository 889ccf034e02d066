package hosting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/apphost/pkg/logger"
)

func TestLocalRuntime(t *testing.T) {
	ctx := context.Background()
	rt := NewLocalRuntime("", 0)

	inst, err := rt.Instantiate(ctx, Spec{Module: "welcome", Domain: "shop.alice.user"})
	require.NoError(t, err)
	assert.Equal(t, "http://shop.alice.user."+DefaultHostSuffix+"/", inst.URL)
	assert.Equal(t, "shop.alice.user."+DefaultHostSuffix, inst.HostName)
	assert.True(t, rt.Running("shop.alice.user"))

	require.NoError(t, rt.Teardown(ctx, "shop.alice.user"))
	assert.False(t, rt.Running("shop.alice.user"))
	assert.Error(t, rt.Teardown(ctx, "shop.alice.user"))
}

func TestLocalRuntimeHonoursDeadline(t *testing.T) {
	rt := NewLocalRuntime("apps.test", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := rt.Instantiate(ctx, Spec{Module: "slow", Domain: "slow.alice.user"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, rt.Running("slow.alice.user"))
}

func TestHTTPRuntime(t *testing.T) {
	var deleted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/instances":
			var req instantiateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Module == "broken" {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"image pull failed"}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"instance": map[string]string{"endpoint": "https://" + req.Domain + ".example.net/"},
			})
		case r.Method == http.MethodDelete:
			deleted = strings.TrimPrefix(r.URL.Path, "/instances/")
			if deleted == "gone.alice.user" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	rt := NewHTTPRuntime(HTTPConfig{BaseURL: server.URL, URLPath: "$.instance.endpoint", Timeout: time.Second})
	ctx := context.Background()

	inst, err := rt.Instantiate(ctx, Spec{Module: "welcome", Domain: "shop.alice.user"})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.alice.user.example.net/", inst.URL)
	assert.Equal(t, "shop.alice.user.example.net", inst.HostName)

	_, err = rt.Instantiate(ctx, Spec{Module: "broken", Domain: "x.alice.user"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image pull failed")

	require.NoError(t, rt.Teardown(ctx, "shop.alice.user"))
	assert.Equal(t, "shop.alice.user", deleted)
	require.NoError(t, rt.Teardown(ctx, "gone.alice.user"))
}

func TestHTTPRuntimeMissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	rt := NewHTTPRuntime(HTTPConfig{BaseURL: server.URL})
	_, err := rt.Instantiate(context.Background(), Spec{Module: "welcome", Domain: "shop.alice.user"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access url")
}

func TestScriptRuntime(t *testing.T) {
	ctx := context.Background()
	fallback := NewLocalRuntime("apps.test", 0)
	rt := NewScriptRuntime(fallback, "apps.test", logger.NewDefault("script"))

	script := `
		var torn = false;
		function instantiate(ctx) {
			log("starting " + ctx.module);
			return {url: "https://" + ctx.domain + "." + ctx.hostSuffix + "/" + ctx.injections.path, hostName: ctx.domain};
		}
		function teardown(ctx) { torn = true; }
	`
	inst, err := rt.Instantiate(ctx, Spec{
		Module:     "welcome",
		Domain:     "shop.alice.user",
		Script:     script,
		Injections: map[string]string{"path": "home"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.alice.user.apps.test/home", inst.URL)
	assert.Equal(t, "shop.alice.user", inst.HostName)
	require.NoError(t, rt.Teardown(ctx, "shop.alice.user"))

	// no script goes to the fallback
	inst, err = rt.Instantiate(ctx, Spec{Module: "plain", Domain: "plain.alice.user"})
	require.NoError(t, err)
	assert.True(t, fallback.Running("plain.alice.user"))
	assert.Equal(t, "http://plain.alice.user.apps.test/", inst.URL)
	require.NoError(t, rt.Teardown(ctx, "plain.alice.user"))
	assert.False(t, fallback.Running("plain.alice.user"))
}

func TestScriptRuntimeFailures(t *testing.T) {
	ctx := context.Background()
	rt := NewScriptRuntime(nil, "", nil)

	_, err := rt.Instantiate(ctx, Spec{Module: "thrower", Domain: "a.b", Script: `function instantiate() { throw new Error("db unreachable"); }`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db unreachable")

	_, err = rt.Instantiate(ctx, Spec{Module: "noentry", Domain: "a.b", Script: `var x = 1;`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not define instantiate()")

	_, err = rt.Instantiate(ctx, Spec{Module: "nourl", Domain: "a.b", Script: `function instantiate() { return 42; }`})
	require.Error(t, err)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = rt.Instantiate(timeout, Spec{Module: "spin", Domain: "a.b", Script: `function instantiate() { for (;;) {} }`})
	require.Error(t, err)

	_, err = rt.Instantiate(ctx, Spec{Module: "plain", Domain: "a.b"})
	require.Error(t, err)
}
