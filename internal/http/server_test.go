package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"finai/internal/core"
	"finai/internal/dashboard"
	"finai/internal/ident"
	applog "finai/internal/log"
	"finai/internal/ports"
	"finai/internal/services"
	"finai/internal/storage/memory"
	"finai/internal/table"
)

type fakeAssistant struct {
	draft  core.TableDraft
	advice string
	err    error
}

func (f *fakeAssistant) DraftTable(ctx context.Context, prompt string) (core.TableDraft, error) {
	return f.draft, f.err
}

func (f *fakeAssistant) Advise(ctx context.Context, tables []core.Table, prompt string) (string, error) {
	return f.advice, f.err
}

// unprovisionedStore fails every call the way a database without schema does.
type unprovisionedStore struct{}

func (unprovisionedStore) List(context.Context, string) ([]core.Table, error) {
	return nil, core.ErrNotProvisioned
}

func (unprovisionedStore) Upsert(context.Context, string, core.Table) (core.Table, error) {
	return core.Table{}, core.ErrNotProvisioned
}

func (unprovisionedStore) Delete(context.Context, string) error { return core.ErrNotProvisioned }

// flakyStore wraps a memory store and fails writes while down is set.
type flakyStore struct {
	*memory.Store
	down bool
}

func (f *flakyStore) Upsert(ctx context.Context, owner string, t core.Table) (core.Table, error) {
	if f.down {
		return core.Table{}, errors.New("connection reset")
	}
	return f.Store.Upsert(ctx, owner, t)
}

type testEnv struct {
	srv   *Server
	store *flakyStore
	ai    *fakeAssistant
}

func quietLogger() *applog.Logger {
	return applog.New(applog.Config{Level: slog.LevelError, Format: "text", Output: io.Discard})
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := &flakyStore{Store: memory.New()}
	ai := &fakeAssistant{advice: "Spend less on coffee."}
	env := &testEnv{store: store, ai: ai}
	env.srv = newServerWith(t, store, ai)
	return env
}

func newServerWith(t *testing.T, store ports.TableStore, ai *fakeAssistant) *Server {
	t.Helper()
	logger := quietLogger()
	engine := table.New(
		table.WithIDs(ident.NewSequence("t")),
		table.WithColumnKeys(ident.NewSequence("col")),
		table.WithClock(func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }),
	)
	tables := services.NewTableService(store, services.TableServiceConfig{
		Engine:            engine,
		Logger:            logger,
		DashboardCacheTTL: time.Minute,
	})
	var assistant *services.AssistantService
	if ai != nil {
		assistant = services.NewAssistantService(ai, tables, time.Second, logger)
	} else {
		assistant = services.NewAssistantService(nil, tables, time.Second, logger)
	}
	srv := NewServer(Config{Addr: ":0", RateLimitPerMinute: 1000, Logger: logger}, tables, assistant)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, e.srv, method, path, "owner-1", body)
}

func doRequest(t *testing.T, srv *Server, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(HeaderOwnerID, owner)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status=%d want %d body=%s", rr.Code, want, rr.Body.String())
	}
}

func createBudget(t *testing.T, e *testEnv) services.TableState {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/tables", map[string]any{
		"name": "Budget",
		"columns": []map[string]string{
			{"key": "item", "label": "Item", "type": "text"},
			{"key": "amount", "label": "Amount", "type": "currency", "aggregation": "sum"},
			{"key": "paid", "label": "Paid", "type": "checkbox"},
		},
	})
	expectStatus(t, rr, http.StatusCreated)
	return decode[services.TableState](t, rr)
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := e.do(t, http.MethodGet, path, nil)
		expectStatus(t, rr, http.StatusOK)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: missing request id header", path)
		}
	}
}

func TestMissingOwnerIsBadRequest(t *testing.T) {
	e := newTestEnv(t)
	rr := doRequest(t, e.srv, http.MethodGet, "/api/tables", "", nil)
	expectStatus(t, rr, http.StatusBadRequest)
	if body := decode[ErrorBody](t, rr); body.Code != CodeInvalidInput {
		t.Fatalf("code=%q", body.Code)
	}
}

func TestTableLifecycleWithTotals(t *testing.T) {
	e := newTestEnv(t)
	st := createBudget(t, e)
	base := "/api/tables/" + st.Table.ID

	for _, item := range []struct{ name, amount string }{{"Rent", "300"}, {"Water", "50,00"}} {
		rr := e.do(t, http.MethodPost, base+"/rows", nil)
		expectStatus(t, rr, http.StatusCreated)
		added := decode[services.TableState](t, rr)
		row := added.Table.Rows[len(added.Table.Rows)-1]

		rr = e.do(t, http.MethodPut, base+"/rows/"+row.ID+"/cells/item", map[string]any{"value": item.name})
		expectStatus(t, rr, http.StatusOK)
		rr = e.do(t, http.MethodPut, base+"/rows/"+row.ID+"/cells/amount", map[string]any{"raw": item.amount})
		expectStatus(t, rr, http.StatusOK)
	}

	rr := e.do(t, http.MethodGet, base, nil)
	expectStatus(t, rr, http.StatusOK)
	view := decode[services.TableView](t, rr)
	if len(view.Totals) != 1 || view.Totals[0].Display != "R$ 350,00" {
		t.Fatalf("totals=%+v", view.Totals)
	}
	want := [][]string{
		{"Rent", "R$ 300,00", core.UncheckedMark},
		{"Water", "R$ 50,00", core.UncheckedMark},
	}
	if diff := cmp.Diff(want, view.Formatted); diff != "" {
		t.Fatalf("formatted rows mismatch (-want +got):\n%s", diff)
	}

	rr = e.do(t, http.MethodGet, base+"?q=wat", nil)
	expectStatus(t, rr, http.StatusOK)
	filtered := decode[services.TableView](t, rr)
	if filtered.Matched != 1 || filtered.RowCount != 2 || filtered.Totals[0].Display != "R$ 50,00" {
		t.Fatalf("filtered view=%+v", filtered)
	}

	rr = e.do(t, http.MethodGet, "/api/dashboard", nil)
	expectStatus(t, rr, http.StatusOK)
	sum := decode[dashboard.Summary](t, rr)
	if sum.TotalDisplay != "R$ 350,00" || sum.TableCount != 1 {
		t.Fatalf("dashboard=%+v", sum)
	}

	rr = e.do(t, http.MethodDelete, base, nil)
	expectStatus(t, rr, http.StatusOK)
	if res := decode[services.DeleteResult](t, rr); res.Sync.Status != services.SyncStatusSynced {
		t.Fatalf("delete result=%+v", res)
	}
	expectStatus(t, e.do(t, http.MethodGet, base, nil), http.StatusNotFound)
}

func TestColumnEndpoints(t *testing.T) {
	e := newTestEnv(t)
	st := createBudget(t, e)
	base := "/api/tables/" + st.Table.ID

	rr := e.do(t, http.MethodPost, base+"/columns", nil)
	expectStatus(t, rr, http.StatusCreated)
	added := decode[services.TableState](t, rr)
	if n := len(added.Table.Columns); n != 4 || added.Table.Columns[3].Type != core.TypeText {
		t.Fatalf("columns=%+v", added.Table.Columns)
	}
	key := added.Table.Columns[3].Key

	rr = e.do(t, http.MethodPatch, base+"/columns/"+key, map[string]any{"label": "Notes", "type": "number"})
	expectStatus(t, rr, http.StatusOK)
	updated := decode[services.TableState](t, rr)
	if c := updated.Table.Columns[3]; c.Label != "Notes" || c.Type != core.TypeNumber {
		t.Fatalf("updated column=%+v", c)
	}

	rr = e.do(t, http.MethodPatch, base+"/columns/"+key, map[string]any{"type": "money"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = e.do(t, http.MethodDelete, base+"/columns/"+key, nil)
	expectStatus(t, rr, http.StatusOK)
	if n := len(decode[services.TableState](t, rr).Table.Columns); n != 3 {
		t.Fatalf("columns after remove=%d", n)
	}

	// removing an unknown column is a no-op
	expectStatus(t, e.do(t, http.MethodDelete, base+"/columns/missing", nil), http.StatusOK)
}

func TestReadOnlyRejectsCellWrites(t *testing.T) {
	e := newTestEnv(t)
	st := createBudget(t, e)
	base := "/api/tables/" + st.Table.ID

	rr := e.do(t, http.MethodPost, base+"/rows", nil)
	row := decode[services.TableState](t, rr).Table.Rows[0]

	rr = e.do(t, http.MethodPut, base+"/readonly", map[string]bool{"readOnly": true})
	expectStatus(t, rr, http.StatusOK)

	rr = e.do(t, http.MethodPut, base+"/rows/"+row.ID+"/cells/item", map[string]any{"value": "Rent"})
	expectStatus(t, rr, http.StatusConflict)
	if body := decode[ErrorBody](t, rr); body.Code != CodeReadOnly {
		t.Fatalf("code=%q", body.Code)
	}

	rr = e.do(t, http.MethodPost, base+"/rows", nil)
	expectStatus(t, rr, http.StatusCreated)
	if decode[services.TableState](t, rr).ReadOnly {
		t.Fatalf("adding a row should leave read-only mode")
	}
	rr = e.do(t, http.MethodPut, base+"/rows/"+row.ID+"/cells/item", map[string]any{"value": "Rent"})
	expectStatus(t, rr, http.StatusOK)
}

func TestUnknownRowAndCellErrors(t *testing.T) {
	e := newTestEnv(t)
	st := createBudget(t, e)
	base := "/api/tables/" + st.Table.ID

	expectStatus(t, e.do(t, http.MethodPut, base+"/rows/nope/cells/item", map[string]any{"value": "x"}), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPut, base+"/rows/nope/cells/item", map[string]any{}), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodDelete, base+"/rows/nope", nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, "/api/tables/unknown", nil), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPut, "/api/tables/unknown/rows/nope/cells/item", map[string]any{"raw": "x"}), http.StatusNotFound)

	rr := e.do(t, http.MethodPost, base+"/rows", nil)
	expectStatus(t, rr, http.StatusCreated)
	row := decode[services.TableState](t, rr).Table.Rows[0]
	expectStatus(t, e.do(t, http.MethodPut, base+"/rows/"+row.ID+"/cells/missing", map[string]any{"raw": "x"}), http.StatusNotFound)

	rr = e.do(t, http.MethodPut, base+"/rows/"+row.ID+"/cells/amount", map[string]any{"raw": "1.234,56"})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[services.TableState](t, rr).Table.Rows[0].Cells["amount"]; got != core.Number(1234.56) {
		t.Fatalf("raw amount=%#v", got)
	}
}

func TestDuplicateProjection(t *testing.T) {
	e := newTestEnv(t)
	st := createBudget(t, e)
	base := "/api/tables/" + st.Table.ID

	rr := e.do(t, http.MethodPost, base+"/rows", nil)
	row := decode[services.TableState](t, rr).Table.Rows[0]
	e.do(t, http.MethodPut, base+"/rows/"+row.ID+"/cells/amount", map[string]any{"value": 100})

	rr = e.do(t, http.MethodPost, base+"/duplicate", map[string]any{"mode": "projection", "multiplier": 1.1})
	expectStatus(t, rr, http.StatusCreated)
	dup := decode[services.TableState](t, rr)
	if dup.Table.ID == st.Table.ID {
		t.Fatalf("duplicate kept the source id")
	}
	if got := dup.Table.Rows[0].Cells["amount"].Float(); got != 110 {
		t.Fatalf("projected amount=%v", got)
	}

	expectStatus(t, e.do(t, http.MethodPost, base+"/duplicate", map[string]any{"mode": "projection"}), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodPost, base+"/duplicate", map[string]any{"mode": "mirror"}), http.StatusBadRequest)

	rr = e.do(t, http.MethodPost, base+"/duplicate", nil)
	expectStatus(t, rr, http.StatusCreated)
	if got := decode[services.TableState](t, rr).Table.Rows[0].Cells["amount"].Float(); got != 100 {
		t.Fatalf("copied amount=%v", got)
	}
}

func TestPersistFailureIsReportedAndResynced(t *testing.T) {
	e := newTestEnv(t)
	st := createBudget(t, e)
	base := "/api/tables/" + st.Table.ID

	e.store.down = true
	rr := e.do(t, http.MethodPatch, base, map[string]any{"name": "Budget 2024"})
	expectStatus(t, rr, http.StatusOK)
	got := decode[services.TableState](t, rr)
	if got.Table.Name != "Budget 2024" || got.Sync.Status != services.SyncStatusUnsynced || got.Sync.Error == "" {
		t.Fatalf("state=%+v", got)
	}

	e.store.down = false
	rr = e.do(t, http.MethodPost, base+"/sync", nil)
	expectStatus(t, rr, http.StatusOK)
	res := decode[services.ResyncResult](t, rr)
	if res.Table == nil || res.Table.Sync.Status != services.SyncStatusSynced {
		t.Fatalf("resync=%+v", res)
	}
}

func TestNotProvisionedRoutesToSetup(t *testing.T) {
	srv := newServerWith(t, unprovisionedStore{}, &fakeAssistant{})
	rr := doRequest(t, srv, http.MethodGet, "/api/tables", "owner-1", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if body := decode[ErrorBody](t, rr); body.Code != CodeNotProvisioned {
		t.Fatalf("code=%q", body.Code)
	}
	rr = doRequest(t, srv, http.MethodPost, "/api/setup", "owner-1", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
}

func TestInvalidCreateRequests(t *testing.T) {
	e := newTestEnv(t)
	cases := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"empty name", `{"name":"  "}`},
		{"bad column type", `{"name":"x","columns":[{"label":"a","type":"money"}]}`},
		{"bad theme", `{"name":"x","themeColor":"red"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/tables", strings.NewReader(tc.body))
			req.Header.Set(HeaderOwnerID, "owner-1")
			rr := httptest.NewRecorder()
			e.srv.Handler.ServeHTTP(rr, req)
			expectStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestAssistantDraftAndAccept(t *testing.T) {
	e := newTestEnv(t)
	e.ai.draft = core.TableDraft{
		Name: "Groceries",
		Columns: []core.Column{
			{Key: "item", Label: "Item", Type: core.TypeText, Aggregation: core.AggNone},
			{Key: "price", Label: "Price", Type: core.TypeCurrency, Aggregation: core.AggSum},
		},
		Rows:       []core.Cells{{"item": core.Text("Rice"), "price": core.Number(25)}},
		ThemeColor: core.DefaultThemeColor,
	}

	rr := e.do(t, http.MethodPost, "/api/assistant/messages", map[string]string{"prompt": "crie uma tabela de mercado"})
	expectStatus(t, rr, http.StatusOK)
	reply := decode[core.ChatMessage](t, rr)
	if reply.Draft == nil || reply.Draft.Name != "Groceries" {
		t.Fatalf("reply=%+v", reply)
	}

	rr = e.do(t, http.MethodPost, "/api/assistant/accept", map[string]any{"draft": reply.Draft})
	expectStatus(t, rr, http.StatusCreated)
	st := decode[services.TableState](t, rr)
	if st.Table.ID == "" || len(st.Table.Rows) != 1 || st.Table.Rows[0].ID == "" {
		t.Fatalf("accepted table=%+v", st.Table)
	}

	rr = e.do(t, http.MethodPost, "/api/assistant/messages", map[string]string{"prompt": "how am I doing?"})
	expectStatus(t, rr, http.StatusOK)
	if reply := decode[core.ChatMessage](t, rr); reply.Content != "Spend less on coffee." || reply.Draft != nil {
		t.Fatalf("advice reply=%+v", reply)
	}

	rr = e.do(t, http.MethodGet, "/api/assistant/messages", nil)
	expectStatus(t, rr, http.StatusOK)
	hist := decode[chatHistory](t, rr)
	// greeting, prompt, draft, accept note, prompt, advice
	if !hist.Enabled || len(hist.Messages) != 6 {
		t.Fatalf("history=%d enabled=%v", len(hist.Messages), hist.Enabled)
	}

	expectStatus(t, e.do(t, http.MethodPost, "/api/assistant/accept", map[string]any{}), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodPost, "/api/assistant/messages", map[string]string{"prompt": " "}), http.StatusBadRequest)
}

func TestAssistantFailures(t *testing.T) {
	e := newTestEnv(t)

	e.ai.err = core.ErrMalformedDraft
	rr := e.do(t, http.MethodPost, "/api/assistant/messages", map[string]string{"prompt": "create a table"})
	expectStatus(t, rr, http.StatusBadGateway)

	e.ai.err = errors.New("quota exceeded")
	rr = e.do(t, http.MethodPost, "/api/assistant/messages", map[string]string{"prompt": "any tips?"})
	expectStatus(t, rr, http.StatusBadGateway)
	if body := decode[ErrorBody](t, rr); body.Code != CodeAssistantFailed {
		t.Fatalf("code=%q", body.Code)
	}

	srv := newServerWith(t, memory.New(), nil)
	rr = doRequest(t, srv, http.MethodPost, "/api/assistant/messages", "owner-1", map[string]string{"prompt": "hello"})
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if body := decode[ErrorBody](t, rr); body.Code != CodeAssistantUnavailable {
		t.Fatalf("code=%q", body.Code)
	}
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	logger := quietLogger()
	tables := services.NewTableService(memory.New(), services.TableServiceConfig{Logger: logger})
	srv := NewServer(Config{RateLimitPerMinute: 2, Logger: logger}, tables, services.NewAssistantService(nil, tables, 0, logger))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	for i := 0; i < 2; i++ {
		expectStatus(t, doRequest(t, srv, http.MethodPost, "/api/tables", "o", map[string]string{"name": "T"}), http.StatusCreated)
	}
	rr := doRequest(t, srv, http.MethodPost, "/api/tables", "o", map[string]string{"name": "T"})
	expectStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("missing Retry-After")
	}
	// reads are not limited
	expectStatus(t, doRequest(t, srv, http.MethodGet, "/api/tables", "o", nil), http.StatusOK)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err      error
		upstream bool
		status   int
		code     string
	}{
		{core.ErrNotProvisioned, false, http.StatusServiceUnavailable, CodeNotProvisioned},
		{core.ErrRowNotFound, false, http.StatusNotFound, CodeNotFound},
		{core.ErrReadOnly, false, http.StatusConflict, CodeReadOnly},
		{core.ErrRequestInFlight, true, http.StatusTooManyRequests, CodeRequestInFlight},
		{core.ErrInvalidMultiplier, false, http.StatusBadRequest, CodeInvalidInput},
		{context.DeadlineExceeded, true, http.StatusGatewayTimeout, CodeTimeout},
		{errors.New("boom"), false, http.StatusInternalServerError, CodeInternal},
		{errors.New("boom"), true, http.StatusBadGateway, CodeAssistantFailed},
	}
	for _, tc := range cases {
		status, code := classify(tc.err, tc.upstream)
		if status != tc.status || code != tc.code {
			t.Errorf("classify(%v, %v) = %d %q, want %d %q", tc.err, tc.upstream, status, code, tc.status, tc.code)
		}
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		remote, xff, want string
	}{
		{"203.0.113.7:1234", "198.51.100.1", "203.0.113.7"},
		{"10.0.0.2:1234", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"127.0.0.1:80", "", "127.0.0.1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if got := extractClientIP(req); got != tc.want {
			t.Errorf("extractClientIP(%s, %q) = %q want %q", tc.remote, tc.xff, got, tc.want)
		}
	}
}
