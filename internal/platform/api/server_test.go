package api_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverly-dev/riverly/internal/platform/api"
	v0 "github.com/riverly-dev/riverly/internal/platform/api/handlers/v0"
	"github.com/riverly-dev/riverly/internal/platform/api/router"
	"github.com/riverly-dev/riverly/internal/platform/cloudbuild"
	"github.com/riverly-dev/riverly/internal/platform/database"
	"github.com/riverly-dev/riverly/internal/platform/github"
	"github.com/riverly-dev/riverly/internal/platform/reconcile"
	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/internal/platform/telemetry"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
)

const testSeed = "2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a"

type stack struct {
	handler http.Handler
	jwt     *auth.JWTManager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	db := database.NewMemoryDB()
	require.NoError(t, db.PutServerInstall(ctx, nil, &models.ServerInstall{
		ID: "inst_1", OrganizationID: "org_1", ServerID: "srv_1", ServerTitle: "Widget",
	}))
	require.NoError(t, db.PutGitHubInstallation(ctx, nil, &models.GitHubInstallation{
		OrganizationID: "org_1", AppID: 42, AccountLogin: "acme", InstallationID: 777,
	}))

	shutdown, metrics, err := telemetry.InitMetrics("test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	svc := service.NewDeploymentService(service.Options{
		DB:       db,
		Resolver: github.NewResolver(db),
		Submitter: cloudbuild.NewClient(cloudbuild.Options{
			ProjectID: "riverly-test", Region: "us-central1", DryRun: true,
		}, nil, nil, nil, nil),
		Metrics:      metrics,
		DefaultAppID: 42,
	})

	jwtManager, err := auth.NewJWTManager(testSeed, time.Hour)
	require.NoError(t, err)

	server := api.NewServer(":0", router.Dependencies{
		Deployments: svc,
		Events:      reconcile.New(db, metrics, nil),
		Database:    db,
		Webhook:     auth.BasicCredentials{Username: "riverlybot", Password: "riverly-webhook-secret"},
		Metrics:     metrics,
		VersionInfo: &v0.VersionBody{Version: "test", GitCommit: "test", BuildTime: "test"},
	}, jwtManager, nil)
	return &stack{handler: server.Handler(), jwt: jwtManager}
}

func (s *stack) do(t *testing.T, method, path, authz, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *stack) bearer(t *testing.T) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(context.Background(), "org_1", "mem_1")
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func webhookAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("riverlybot:riverly-webhook-secret"))
}

func TestDeploymentLifecycle(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodPost, "/v0/deployments", s.bearer(t),
		`{"serverId":"srv_1","target":"preview","source":{"repo":{"owner":"acme","repo":"widget","ref":"main","commitHash":"abc1234"}}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res service.TriggerResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, cloudbuild.PlacementDryRun, res.Job.Status)

	event := fmt.Sprintf(`{
		"context": {"eventId": "evt-1"},
		"attributes": {"buildId": "cb-1", "status": "SUCCESS"},
		"build": {
			"id": "cb-1",
			"status": "SUCCESS",
			"tags": ["deployment-id-%s", "build-id-%s", "org-id-org_1", "deployment-target-preview", "ty-build-deploy"],
			"results": {"images": [{"name": "us-central1-docker.pkg.dev/riverly-test/org_1/srv_1:x", "digest": "sha256:1"}]}
		}
	}`, res.DeploymentID, res.BuildID)
	w = s.do(t, http.MethodPost, "/internal/v0/webhooks/build-events", webhookAuth(), event)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/v0/deployments/"+res.DeploymentID, s.bearer(t), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var detail models.DeploymentDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, models.StatusReady, detail.Deployment.Status)
	assert.Equal(t, models.StatusReady, detail.Build.Status)
	require.NotNil(t, detail.Build.ImageDigest)
	assert.Equal(t, "sha256:1", *detail.Build.ImageDigest)

	w = s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "riverly_deployments_triggered_total")
	assert.Contains(t, w.Body.String(), "riverly_webhook_events_total")
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodPost, "/internal/v0/webhooks/build-events", webhookAuth(), `not json`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":false}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/internal/v0/webhooks/build-events", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSHeaders(t *testing.T) {
	s := newStack(t)

	req := httptest.NewRequest(http.MethodOptions, "/v0/deployments", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestTrailingSlashRedirect(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodGet, "/v0/ping/", "", "")
	assert.Equal(t, http.StatusPermanentRedirect, w.Code)
	assert.Equal(t, "/v0/ping", w.Header().Get("Location"))
}

func TestNotFound(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodGet, "/deployments", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "/v0/deployments")
}

func TestRequestID(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodGet, "/v0/ping", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(api.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/v0/ping", nil)
	req.Header.Set(api.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(api.RequestIDHeader))
}
