package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/contact"
	"github.com/JonMunkholm/contacthub/internal/fingerprint"
	"github.com/JonMunkholm/contacthub/internal/importer"
	"github.com/JonMunkholm/contacthub/internal/mapping"
	"github.com/JonMunkholm/contacthub/internal/metrics"
)

const jwtSecret = "web-test-secret"

var (
	tenantA = uuid.MustParse("6f1c0a52-0000-4000-8000-00000000000a")
	tenantB = uuid.MustParse("6f1c0a52-0000-4000-8000-00000000000b")
	userA   = uuid.MustParse("6f1c0a52-0000-4000-8000-0000000000a1")
)

type fixture struct {
	t        *testing.T
	srv      *Server
	contacts *contact.MemoryStore
	token    string
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Workers:       1,
			MaxRows:       100,
			Timeout:       time.Minute,
			ContactMatch:  config.MatchNone,
		},
		Rate:     config.RateLimitConfig{Enabled: false},
		Security: config.SecurityConfig{RequireAuth: true, JWTSecret: jwtSecret},
	}
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(cfg)
	}

	m := metrics.New()
	mappings, err := mapping.NewService(mapping.NewMemoryStore(), mapping.NewMemoryCache(time.Minute), nil)
	require.NoError(t, err)

	store := contact.NewMemoryStore()
	engine := contact.NewEngine(store, nil, contact.WithObserver(m))
	orch := importer.NewOrchestrator(engine, nil, m, importer.Config{
		Workers: cfg.Import.Workers,
		Match:   cfg.Import.ContactMatch,
	})
	files := importer.NewFileImporter(orch, mappings,
		importer.NewLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		importer.FileConfig{MaxRows: cfg.Import.MaxRows, Timeout: cfg.Import.Timeout})

	srv := NewServer(cfg, Services{
		Mappings: mappings,
		Contacts: engine,
		Imports:  orch,
		Files:    files,
		Metrics:  m,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &fixture{t: t, srv: srv, contacts: store, token: token(t, tenantA, userA)}
}

func token(t *testing.T, tenant, user uuid.UUID) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": tenant.String(),
		"sub":       user.String(),
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

func (f *fixture) send(req *http.Request, tok string) *httptest.ResponseRecorder {
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	return f.doAs(f.token, method, path, body)
}

func (f *fixture) doAs(tok, method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return f.send(req, tok)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, rec).Code
}

func findOrCreateBody(headers ...string) map[string]any {
	normalized := fingerprint.NormalizeHeaders(headers)
	return map[string]any{
		"sourceType":          "CONTACT",
		"headers":             headers,
		"headerNormalized":    normalized,
		"headerHash":          fingerprint.Headers(normalized),
		"headerHashAlgorithm": fingerprint.Algorithm,
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.doAs("", http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", body.Status)
	require.NotNil(t, body.Imports)
	assert.Equal(t, 2, body.Imports.MaxConcurrent)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)

	rec := f.doAs("", http.MethodGet, "/v1/contacts", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH001", errorCode(t, rec))
}

func TestMappings_FindOrCreate(t *testing.T) {
	f := newFixture(t)
	body := findOrCreateBody("First Name", "Email")

	first := f.do(http.MethodPost, "/v1/mappings/find-or-create", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	pair := decode[[]json.RawMessage](t, first)
	require.Len(t, pair, 2)
	assert.JSONEq(t, "true", string(pair[1]))

	var created mapping.Mapping
	require.NoError(t, json.Unmarshal(pair[0], &created))
	assert.Equal(t, mapping.EntityContact, created.EntityType)
	assert.Equal(t, mapping.Rules{"first name": mapping.FieldFirstName, "email": mapping.FieldEmail}, created.Rules)

	second := f.do(http.MethodPost, "/v1/mappings/find-or-create", body)
	require.Equal(t, http.StatusOK, second.Code)
	pair = decode[[]json.RawMessage](t, second)
	assert.JSONEq(t, "false", string(pair[1]))

	var again mapping.Mapping
	require.NoError(t, json.Unmarshal(pair[0], &again))
	assert.Equal(t, created.ID, again.ID)
}

func TestMappings_HashMismatchRejected(t *testing.T) {
	f := newFixture(t)
	body := findOrCreateBody("Name", "Email")
	body["headerHash"] = fingerprint.Headers([]string{"email", "name"})

	rec := f.do(http.MethodPost, "/v1/mappings/find-or-create", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MAP001", errorCode(t, rec))

	lookup := f.do(http.MethodGet, "/v1/mappings/"+body["headerHash"].(string), nil)
	assert.Equal(t, http.StatusNotFound, lookup.Code)
	assert.Equal(t, "MAP002", errorCode(t, lookup))
}

func TestMappings_HeaderNormalizedMustBeNormalized(t *testing.T) {
	f := newFixture(t)
	headers := []string{"First Name", "Email"}
	body := findOrCreateBody(headers...)
	body["headerNormalized"] = headers
	body["headerHash"] = fingerprint.Headers(headers)

	rec := f.do(http.MethodPost, "/v1/mappings/find-or-create", body)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "MAP001", errorCode(t, rec))

	lookup := f.do(http.MethodGet, "/v1/mappings/"+body["headerHash"].(string), nil)
	assert.Equal(t, http.StatusNotFound, lookup.Code)
}

func TestMappings_UpdateClearsRulesOnNull(t *testing.T) {
	f := newFixture(t)
	body := findOrCreateBody("First Name", "Email")
	hash := body["headerHash"].(string)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/v1/mappings/find-or-create", body).Code)

	untouched := f.do(http.MethodPut, "/v1/mappings/"+hash, map[string]any{"entityType": "CONTACT"})
	require.Equal(t, http.StatusOK, untouched.Code, untouched.Body.String())
	assert.Len(t, decode[mapping.Mapping](t, untouched).Rules, 2)

	rec := f.do(http.MethodPut, "/v1/mappings/"+hash, "{\"rules\": null}")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[mapping.Mapping](t, rec).Rules)

	rules := f.do(http.MethodGet, "/v1/mappings/"+hash+"/rules", nil)
	require.Equal(t, http.StatusOK, rules.Code)
	assert.JSONEq(t, "{}", rules.Body.String())
}

func TestMappings_Rules(t *testing.T) {
	f := newFixture(t)
	body := findOrCreateBody("Name", "Mail")
	hash := body["headerHash"].(string)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/v1/mappings/find-or-create", body).Code)

	rec := f.do(http.MethodPatch, "/v1/mappings/"+hash+"/rules", map[string]any{
		"rules": map[string]string{"name": mapping.FieldFirstName, "mail": mapping.FieldEmail},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rules := f.do(http.MethodGet, "/v1/mappings/"+hash+"/rules", nil)
	require.Equal(t, http.StatusOK, rules.Code)
	assert.Equal(t, mapping.Rules{"name": mapping.FieldFirstName, "mail": mapping.FieldEmail}, decode[mapping.Rules](t, rules))

	bad := f.do(http.MethodPatch, "/v1/mappings/"+hash+"/rules", map[string]any{
		"rules": map[string]string{"name": "shoeSize"},
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	missing := f.do(http.MethodPatch, "/v1/mappings/"+hash+"/rules", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	unknown := f.do(http.MethodGet, "/v1/mappings/"+strings.Repeat("0", 64)+"/rules", nil)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestContacts_Lifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/contacts", map[string]any{
		"firstName": "Ada",
		"emails":    []map[string]any{{"address": "ada@example.com"}},
		"addresses": []map[string]any{{"street": "123 Main St", "city": "London"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[contact.Contact](t, rec)
	assert.Equal(t, userA, created.OwnerID)
	path := "/v1/contacts/" + created.ID.String()

	rec = f.do(http.MethodPatch, path, map[string]any{
		"jobTitle":  "Analyst",
		"addresses": []map[string]any{{"street": " 123   main st ", "city": "london", "label": "home"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patched := decode[contact.Contact](t, rec)
	assert.Equal(t, "Ada", patched.FirstName)
	assert.Equal(t, "Analyst", patched.JobTitle)
	require.Len(t, patched.Addresses, 1)
	assert.Equal(t, "home", patched.Addresses[0].Label)

	rec = f.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode[contact.Contact](t, rec).DeletedAt)

	trashed := decode[listResponse](t, f.do(http.MethodGet, "/v1/contacts?trashed=true", nil))
	require.Len(t, trashed.Data, 1)
	active := decode[listResponse](t, f.do(http.MethodGet, "/v1/contacts", nil))
	assert.Empty(t, active.Data)
	assert.Equal(t, defaultPageSize, active.Limit)

	rec = f.do(http.MethodPut, path, map[string]any{"firstName": "Ada"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CON003", errorCode(t, rec))

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, path+"/restore", nil).Code)
	rec = f.do(http.MethodPost, path+"/restore", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CON002", errorCode(t, rec))

	require.Equal(t, http.StatusOK, f.do(http.MethodDelete, path, nil).Code)
	rec = f.do(http.MethodDelete, "/v1/contacts/trash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[emptyTrashResponse](t, rec).Purged)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, path, nil).Code)
}

func TestContacts_TenantIsolation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/contacts", map[string]any{"firstName": "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[contact.Contact](t, rec).ID

	other := token(t, tenantB, userA)
	rec = f.doAs(other, http.MethodGet, "/v1/contacts/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CON001", errorCode(t, rec))
}

func TestContacts_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing first name", http.MethodPost, "/v1/contacts", map[string]any{"lastName": "X"}, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/v1/contacts", "{", http.StatusBadRequest},
		{"bad contact id", http.MethodGet, "/v1/contacts/not-a-uuid", nil, http.StatusBadRequest},
		{"unknown contact", http.MethodPatch, "/v1/contacts/" + uuid.NewString(), map[string]any{"firstName": "A"}, http.StatusNotFound},
		{"negative limit", http.MethodGet, "/v1/contacts?limit=-1", nil, http.StatusBadRequest},
		{"bad trashed flag", http.MethodGet, "/v1/contacts?trashed=maybe", nil, http.StatusBadRequest},
		{"bad olderThan", http.MethodDelete, "/v1/contacts/trash?olderThan=soon", nil, http.StatusBadRequest},
		{"negative olderThan", http.MethodDelete, "/v1/contacts/trash?olderThan=-1h", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, errorCode(t, rec))
		})
	}
}

func TestBulkCreate_IsolatesRows(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/contacts/bulk", map[string]any{
		"data": []map[string]any{{"firstName": "A"}, {"firstName": ""}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[importer.BulkResponse[importer.ContactRow]](t, rec)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Created)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Equal(t, 1, f.contacts.ContactCount(tenantA))

	metricsRec := f.doAs("", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), `contacthub_import_rows_total{outcome="created",source="bulk"} 1`)
}

func TestBulkCreate_Limits(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Import.MaxRows = 2 })

	rec := f.do(http.MethodPost, "/v1/contacts/bulk", map[string]any{
		"data": []map[string]any{{"firstName": "A"}, {"firstName": "B"}, {"firstName": "C"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/contacts/bulk", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.contacts.ContactCount(tenantA))
}

// upload builds a multipart import request.
func upload(t *testing.T, fields map[string]string, csv string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if csv != "" {
		part, err := mw.CreateFormFile("file", "contacts.csv")
		require.NoError(t, err)
		_, err = io.WriteString(part, csv)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/contacts/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImportFile(t *testing.T) {
	f := newFixture(t)
	body := findOrCreateBody("First Name", "Email")
	hash := body["headerHash"].(string)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/v1/mappings/find-or-create", body).Code)

	csv := "First Name,Email\nAda,ada@example.com\n,nobody@example.com\n"
	rec := f.send(upload(t, map[string]string{"headerHash": hash, "type": "contact"}, csv), f.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[importer.BulkResponse[importer.ImportRow]](t, rec)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Created)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Equal(t, []string{"nobody@example.com"}, resp.Errors[0].Row.Emails)
}

func TestPreviewFile(t *testing.T) {
	f := newFixture(t)
	body := findOrCreateBody("First Name", "Email")
	hash := body["headerHash"].(string)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/v1/mappings/find-or-create", body).Code)

	csv := "First Name,Email\nAda,ada@example.com\nAda L,ADA@example.com\n,nobody@example.com\n"
	req := upload(t, map[string]string{"headerHash": hash}, csv)
	req.URL.Path = "/v1/contacts/import/preview"
	rec := f.send(req, f.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[importer.PreviewResponse](t, rec)
	assert.Equal(t, importer.PreviewSummary{TotalRows: 3, NewRows: 2, ErrorRows: 1, DuplicateInFile: 1}, resp.Summary)

	list := decode[map[string]any](t, f.do(http.MethodGet, "/v1/contacts", nil))
	assert.Empty(t, list["data"])
}

func TestImportFile_Errors(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Import.MaxFileSize = 256 })
	body := findOrCreateBody("First Name", "Email")
	hash := body["headerHash"].(string)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/v1/mappings/find-or-create", body).Code)

	tests := []struct {
		name   string
		fields map[string]string
		csv    string
		status int
		code   string
	}{
		{"no file", map[string]string{"headerHash": hash}, "", http.StatusBadRequest, "FILE003"},
		{"too large", map[string]string{"headerHash": hash},
			"First Name,Email\n" + strings.Repeat("Ada,ada@example.com\n", 64), http.StatusRequestEntityTooLarge, "FILE001"},
		{"unknown mapping", map[string]string{"headerHash": strings.Repeat("a", 64)},
			"First Name,Email\nAda,ada@example.com\n", http.StatusNotFound, "MAP002"},
		{"other layout", map[string]string{"headerHash": hash},
			"Email,First Name\nada@example.com,Ada\n", http.StatusBadRequest, "FILE005"},
		{"unsupported type", map[string]string{"headerHash": hash, "type": "lead"},
			"First Name,Email\nAda,ada@example.com\n", http.StatusBadRequest, "VAL002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.send(upload(t, tt.fields, tt.csv), f.token)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
	assert.Equal(t, 0, f.contacts.ContactCount(tenantA))
}

func TestImportRoutes_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ImportLimit: 1}
	})
	body := map[string]any{"data": []map[string]any{{"firstName": "A"}}}

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/contacts/bulk", body).Code)
	rec := f.do(http.MethodPost, "/v1/contacts/bulk", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", errorCode(t, rec))

	// The general limit still admits other routes.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/contacts", nil).Code)
}
