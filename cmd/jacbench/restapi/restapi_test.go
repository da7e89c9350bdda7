package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/jaseci-llmdocs/jacbench/clock"
	"github.com/jaseci-llmdocs/jacbench/cmd/jacbench/model"
	"github.com/jaseci-llmdocs/jacbench/collection"
	"github.com/jaseci-llmdocs/jacbench/evaluator"
	"github.com/jaseci-llmdocs/jacbench/eventbus"
	"github.com/jaseci-llmdocs/jacbench/executor"
	"github.com/jaseci-llmdocs/jacbench/queuemgr"
	"github.com/jaseci-llmdocs/jacbench/scorer"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
	"github.com/jaseci-llmdocs/jacbench/variant"
)

type echoClient struct{}

func (echoClient) Invoke(_ context.Context, req executor.InvokeRequest) (*executor.InvokeResult, error) {
	var sb strings.Builder
	sb.WriteString("{")
	first := true
	for _, id := range []string{"t1", "t2"} {
		if !strings.Contains(req.Prompt, `"id": "`+id+`"`) {
			continue
		}
		if !first {
			sb.WriteString(",")
		}
		first = false
		sb.WriteString(`"` + id + `": "with entry { print(\"x\"); }"`)
	}
	sb.WriteString("}")
	return &executor.InvokeResult{Text: sb.String()}, nil
}

type env struct {
	router *gin.Engine
	mgr    *queuemgr.Manager
	store  store.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	s, err := suite.New("bench", []suite.TestCase{
		{ID: "t1", Level: 1, Category: "basic", Task: "a", Required: []string{"print("}, Points: 5},
		{ID: "t2", Level: 1, Category: "basic", Task: "b", Required: []string{"print("}, Points: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemoryStore()
	bus := eventbus.New(0, 0)
	t.Cleanup(bus.Close)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "full.md"), []byte("docs"), 0o644); err != nil {
		t.Fatal(err)
	}
	variants, err := variant.NewCatalog(dir, logger)
	if err != nil {
		t.Fatal(err)
	}

	exec := executor.New(echoClient{}, bus, logger, executor.Config{BatchTimeout: 5 * time.Second})
	evals := evaluator.New(scorer.New(scorer.Config{}, nil), st, bus, s, clock.Real{}, logger, evaluator.Config{})
	mgr := queuemgr.New(s, variants, exec, st, bus, clock.Real{}, evals, logger, queuemgr.Config{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	r := gin.New()
	New(mgr, evals, st, collection.New(st, logger), variants, s, logger).Register(r)
	return &env{router: r, mgr: mgr, store: st}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) submitAndWait(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/runs", model.SubmitRequest{
		Model: "acme/m", Variant: "full", BatchSize: 1,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", w.Code, w.Body)
	}
	var resp model.SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.RunIDs) != 1 {
		t.Fatalf("run ids = %v", resp.RunIDs)
	}
	runID := resp.RunIDs[0]

	deadline := time.Now().Add(10 * time.Second)
	for {
		snap, err := e.mgr.RunStatus(runID)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Status.Terminal() {
			if snap.Status != types.RunCompleted {
				t.Fatalf("run status = %s (%s)", snap.Status, snap.Error)
			}
			return runID
		}
		if time.Now().After(deadline) {
			t.Fatal("run never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitAndStatus(t *testing.T) {
	e := newEnv(t)
	runID := e.submitAndWait(t)

	w := e.do(t, http.MethodGet, "/api/runs/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rs model.RunStatus
	if err := json.Unmarshal(w.Body.Bytes(), &rs); err != nil {
		t.Fatal(err)
	}
	if rs.Progress != 100 {
		t.Errorf("progress = %v", rs.Progress)
	}
	if rs.ArtifactID == "" {
		t.Error("no artifact id in status")
	}

	if w := e.do(t, http.MethodGet, "/api/runs/unknown", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown run status = %d", w.Code)
	}
}

func TestSubmitValidationErrors(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/runs", model.SubmitRequest{
		Model: "acme/m", Variant: "full", BatchSize: 1, Temperature: 3,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestArtifactAndEvaluation(t *testing.T) {
	e := newEnv(t)
	runID := e.submitAndWait(t)
	snap, _ := e.mgr.RunStatus(runID)

	w := e.do(t, http.MethodGet, "/api/artifacts/"+snap.ArtifactID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("artifact read = %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/artifacts/"+snap.ArtifactID+"/evaluate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("evaluate = %d: %s", w.Code, w.Body)
	}
	var res types.EvalResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Summary.Percentage != 100 {
		t.Errorf("percentage = %v", res.Summary.Percentage)
	}

	w = e.do(t, http.MethodGet, "/api/artifacts/"+snap.ArtifactID+"/result", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("result read = %d", w.Code)
	}

	if w := e.do(t, http.MethodGet, "/api/artifacts/nope/result", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing result status = %d", w.Code)
	}
}

func TestCollectionLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	runID := e.submitAndWait(t)
	snap, _ := e.mgr.RunStatus(runID)
	e.do(t, http.MethodPost, "/api/artifacts/"+snap.ArtifactID+"/evaluate", nil)

	w := e.do(t, http.MethodPost, "/api/collections", model.CollectionRequest{
		Name: "baseline", ArtifactIDs: []string{snap.ArtifactID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body)
	}
	// duplicate name conflicts
	w = e.do(t, http.MethodPost, "/api/collections", model.CollectionRequest{
		Name: "baseline", ArtifactIDs: []string{snap.ArtifactID},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate create = %d", w.Code)
	}

	// artifact deletion refused while referenced
	if w := e.do(t, http.MethodDelete, "/api/artifacts/"+snap.ArtifactID, nil); w.Code != http.StatusConflict {
		t.Fatalf("referenced delete = %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/api/collections/baseline", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	var stats collection.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.MeanPct != 100 || stats.ArtifactCount != 1 {
		t.Errorf("stats = %+v", stats)
	}

	if w := e.do(t, http.MethodDelete, "/api/collections/baseline", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete collection = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/api/artifacts/"+snap.ArtifactID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("artifact delete after unreference = %d", w.Code)
	}
}

func TestVariantList(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/variants", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var infos []variant.Info
	if err := json.Unmarshal(w.Body.Bytes(), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Name != "full" || infos[0].Size != 4 {
		t.Errorf("variants = %+v", infos)
	}
}

func TestSuiteSummary(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/suite", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		Name        string   `json:"name"`
		TotalTests  int      `json:"total_tests"`
		TotalPoints int      `json:"total_points"`
		TestIDs     []string `json:"test_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.TotalTests != 2 || out.TotalPoints != 10 || len(out.TestIDs) != 2 {
		t.Errorf("suite summary = %+v", out)
	}
}
