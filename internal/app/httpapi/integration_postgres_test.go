//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/apphost/internal/app"
	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/storage/postgres"
	"github.com/R3E-Network/apphost/internal/hosting"
	"github.com/R3E-Network/apphost/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations and the lifecycle
// round trip work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Up(db.DB))

	_, err = db.Exec(`TRUNCATE app_deployment_events, app_deployments, app_modules`)
	require.NoError(t, err)

	store := postgres.New(db)
	application, err := app.New(app.Stores{Modules: store, Deployments: store, Events: store}, app.Options{
		Runtime: hosting.NewLocalRuntime("apps.test", 0),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	api := &testAPI{t: t, app: application, handler: NewRouter(application, RouterOptions{})}
	api.upload("name: welcome\n")

	rec := api.do(http.MethodPut, "/deployments/shop.alice.user", map[string]any{"moduleName": "welcome"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/deployments/shop.alice.user/load?wait=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, deployment.StateActive, decode[deployment.Deployment](t, rec).State)

	rec = api.do(http.MethodGet, "/deployments/shop.alice.user/report", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decode[[]deployment.Event](t, rec))

	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/deployments/shop.alice.user", nil, "").Code)
	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/modules/welcome", nil, "").Code)
}
