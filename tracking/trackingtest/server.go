// Package trackingtest provides an in-memory tracking server for tests.
package trackingtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YuminosukeSato/mltrack/tracking"
)

const (
	apiPrefix       = "/api/2.0/mlflow/"
	artifactsPrefix = "/api/2.0/mlflow-artifacts/artifacts/"
)

// Server is a fake MLflow server keeping experiments, runs and uploaded
// artifacts in memory. Experiment "0" named "Default" always exists.
type Server struct {
	*httptest.Server

	// PageSize splits search and list answers into pages when > 0.
	PageSize int

	mu          sync.Mutex
	experiments []*tracking.Experiment
	runs        map[string]*tracking.Run
	seq         map[string]int
	artifacts   map[string]map[string][]byte
	calls       map[string]int
	failures    map[string][]int
	lastAuth    string
	nextRun     int
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		experiments: []*tracking.Experiment{{ExperimentID: "0", Name: "Default", LifecycleStage: "active"}},
		runs:        make(map[string]*tracking.Run),
		seq:         make(map[string]int),
		artifacts:   make(map[string]map[string][]byte),
		calls:       make(map[string]int),
		failures:    make(map[string][]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Config returns client settings pointing at the server with fast retries.
func (s *Server) Config() *tracking.Config {
	cfg := tracking.DefaultConfig()
	cfg.TrackingURI = s.URL
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	cfg.User = "tester"
	return cfg
}

// Client returns a client for the server with its own metrics registry.
func (s *Server) Client(t testing.TB, opts ...tracking.Option) *tracking.Client {
	t.Helper()
	opts = append([]tracking.Option{tracking.WithRegisterer(prometheus.NewRegistry())}, opts...)
	c, err := tracking.NewClient(s.Config(), opts...)
	if err != nil {
		t.Fatalf("tracking.NewClient: %v", err)
	}
	return c
}

// FailNext makes the next calls to endpoint (e.g. "runs/log-metric") answer
// with the given status codes, in order.
func (s *Server) FailNext(endpoint string, status ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], status...)
}

// Calls returns how many requests reached endpoint.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// LastAuthorization returns the Authorization header of the last request.
func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

// Run returns a copy of a stored run.
func (s *Server) Run(id string) (tracking.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return tracking.Run{}, false
	}
	return *r, true
}

// Runs returns the ids of every stored run in creation order.
func (s *Server) Runs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.seq[ids[i]] < s.seq[ids[j]] })
	return ids
}

// Artifact returns the content uploaded for runID at artifactPath.
func (s *Server) Artifact(runID, artifactPath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.artifacts[runID][artifactPath]
	return b, ok
}

// ArtifactPaths lists every artifact path uploaded for runID, sorted.
func (s *Server) ArtifactPaths(runID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.artifacts[runID] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var endpoint string
	switch {
	case strings.HasPrefix(r.URL.Path, apiPrefix):
		endpoint = strings.TrimPrefix(r.URL.Path, apiPrefix)
	case strings.HasPrefix(r.URL.Path, artifactsPrefix):
		endpoint = "mlflow-artifacts/artifacts"
	default:
		writeError(w, http.StatusNotFound, "ENDPOINT_NOT_FOUND", r.URL.Path)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++
	s.lastAuth = r.Header.Get("Authorization")
	if queued := s.failures[endpoint]; len(queued) > 0 {
		s.failures[endpoint] = queued[1:]
		writeError(w, queued[0], "INTERNAL_ERROR", "injected failure")
		return
	}

	switch endpoint {
	case "experiments/create":
		s.createExperiment(w, r)
	case "experiments/get":
		s.getExperiment(w, r.URL.Query().Get("experiment_id"), "")
	case "experiments/get-by-name":
		s.getExperiment(w, "", r.URL.Query().Get("experiment_name"))
	case "experiments/search":
		s.searchExperiments(w, r)
	case "runs/create":
		s.createRun(w, r)
	case "runs/get":
		s.getRun(w, r.URL.Query().Get("run_id"))
	case "runs/update":
		s.updateRun(w, r)
	case "runs/delete":
		s.deleteRun(w, r)
	case "runs/search":
		s.searchRuns(w, r)
	case "runs/log-metric", "runs/log-parameter", "runs/set-tag", "runs/log-batch":
		s.logData(w, r, endpoint)
	case "artifacts/list":
		s.listArtifacts(w, r)
	case "mlflow-artifacts/artifacts":
		s.uploadArtifact(w, r)
	default:
		writeError(w, http.StatusNotFound, "ENDPOINT_NOT_FOUND", endpoint)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error_code": code, "message": message})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return false
	}
	return true
}

// page slices n items by PageSize starting at token.
func (s *Server) page(n int, token string) (start, end int, next string) {
	start, _ = strconv.Atoi(token)
	end = n
	if s.PageSize > 0 && start+s.PageSize < n {
		end = start + s.PageSize
		next = strconv.Itoa(end)
	}
	if start > n {
		start = n
	}
	return start, end, next
}

func (s *Server) findExperiment(id, name string) *tracking.Experiment {
	for _, e := range s.experiments {
		if (id != "" && e.ExperimentID == id) || (name != "" && e.Name == name) {
			return e
		}
	}
	return nil
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string                   `json:"name"`
		Tags []tracking.ExperimentTag `json:"tags"`
	}
	if !decode(w, r, &req) {
		return
	}
	if s.findExperiment("", req.Name) != nil {
		writeError(w, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS",
			fmt.Sprintf("Experiment '%s' already exists.", req.Name))
		return
	}
	id := strconv.Itoa(len(s.experiments))
	s.experiments = append(s.experiments, &tracking.Experiment{
		ExperimentID:     id,
		Name:             req.Name,
		ArtifactLocation: "mlflow-artifacts:/" + id,
		LifecycleStage:   "active",
		Tags:             req.Tags,
	})
	writeJSON(w, map[string]string{"experiment_id": id})
}

func (s *Server) getExperiment(w http.ResponseWriter, id, name string) {
	e := s.findExperiment(id, name)
	if e == nil {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST",
			fmt.Sprintf("Could not find experiment with name '%s'", name))
		return
	}
	writeJSON(w, map[string]interface{}{"experiment": e})
}

func (s *Server) searchExperiments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageToken string `json:"page_token"`
	}
	if !decode(w, r, &req) {
		return
	}
	start, end, next := s.page(len(s.experiments), req.PageToken)
	writeJSON(w, map[string]interface{}{
		"experiments":     s.experiments[start:end],
		"next_page_token": next,
	})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentID string            `json:"experiment_id"`
		UserID       string            `json:"user_id"`
		RunName      string            `json:"run_name"`
		StartTime    int64             `json:"start_time"`
		Tags         []tracking.RunTag `json:"tags"`
	}
	if !decode(w, r, &req) {
		return
	}
	if s.findExperiment(req.ExperimentID, "") == nil {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "No Experiment with id="+req.ExperimentID)
		return
	}
	s.nextRun++
	id := fmt.Sprintf("%032x", s.nextRun)
	run := &tracking.Run{
		Info: tracking.RunInfo{
			RunID:          id,
			RunName:        req.RunName,
			ExperimentID:   req.ExperimentID,
			UserID:         req.UserID,
			Status:         tracking.RunStatusRunning,
			StartTime:      req.StartTime,
			ArtifactURI:    path.Join("mlflow-artifacts:/", req.ExperimentID, id, "artifacts"),
			LifecycleStage: "active",
		},
		Data: tracking.RunData{Tags: req.Tags},
	}
	s.runs[id] = run
	s.seq[id] = s.nextRun
	writeJSON(w, map[string]interface{}{"run": run})
}

func (s *Server) getRun(w http.ResponseWriter, id string) {
	run, ok := s.runs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+id+"' not found")
		return
	}
	writeJSON(w, map[string]interface{}{"run": run})
}

func (s *Server) updateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string             `json:"run_id"`
		Status  tracking.RunStatus `json:"status"`
		EndTime int64              `json:"end_time"`
	}
	if !decode(w, r, &req) {
		return
	}
	run, ok := s.runs[req.RunID]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+req.RunID+"' not found")
		return
	}
	run.Info.Status = req.Status
	if req.EndTime != 0 {
		run.Info.EndTime = req.EndTime
	}
	writeJSON(w, map[string]interface{}{"run_info": run.Info})
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	run, ok := s.runs[req.RunID]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+req.RunID+"' not found")
		return
	}
	run.Info.LifecycleStage = "deleted"
	writeJSON(w, map[string]string{})
}

func (s *Server) searchRuns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentIDs []string `json:"experiment_ids"`
		OrderBy       []string `json:"order_by"`
		PageToken     string   `json:"page_token"`
	}
	if !decode(w, r, &req) {
		return
	}
	wanted := make(map[string]bool, len(req.ExperimentIDs))
	for _, id := range req.ExperimentIDs {
		wanted[id] = true
	}
	var matched []*tracking.Run
	for _, run := range s.runs {
		if wanted[run.Info.ExperimentID] && run.Info.LifecycleStage != "deleted" {
			matched = append(matched, run)
		}
	}
	asc := len(req.OrderBy) > 0 && strings.HasSuffix(strings.ToUpper(req.OrderBy[0]), " ASC")
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Info.StartTime != b.Info.StartTime {
			if asc {
				return a.Info.StartTime < b.Info.StartTime
			}
			return a.Info.StartTime > b.Info.StartTime
		}
		if asc {
			return s.seq[a.Info.RunID] < s.seq[b.Info.RunID]
		}
		return s.seq[a.Info.RunID] > s.seq[b.Info.RunID]
	})
	start, end, next := s.page(len(matched), req.PageToken)
	writeJSON(w, map[string]interface{}{"runs": matched[start:end], "next_page_token": next})
}

func (s *Server) logData(w http.ResponseWriter, r *http.Request, endpoint string) {
	var req struct {
		RunID     string            `json:"run_id"`
		Key       string            `json:"key"`
		Value     json.RawMessage   `json:"value"`
		Timestamp int64             `json:"timestamp"`
		Step      int64             `json:"step"`
		Metrics   []tracking.Metric `json:"metrics"`
		Params    []tracking.Param  `json:"params"`
		Tags      []tracking.RunTag `json:"tags"`
	}
	if !decode(w, r, &req) {
		return
	}
	run, ok := s.runs[req.RunID]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+req.RunID+"' not found")
		return
	}
	if run.Info.Status.Terminal() {
		writeError(w, http.StatusBadRequest, "INVALID_STATE",
			fmt.Sprintf("The run %s must be in the 'active' state.", req.RunID))
		return
	}

	switch endpoint {
	case "runs/log-metric":
		var v float64
		if err := json.Unmarshal(req.Value, &v); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
			return
		}
		req.Metrics = []tracking.Metric{{Key: req.Key, Value: v, Timestamp: req.Timestamp, Step: req.Step}}
	case "runs/log-parameter":
		var v string
		if err := json.Unmarshal(req.Value, &v); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
			return
		}
		req.Params = []tracking.Param{{Key: req.Key, Value: v}}
	case "runs/set-tag":
		var v string
		if err := json.Unmarshal(req.Value, &v); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
			return
		}
		req.Tags = []tracking.RunTag{{Key: req.Key, Value: v}}
	}

	for _, p := range req.Params {
		if old, ok := run.Data.ParamMap()[p.Key]; ok && old != p.Value {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE",
				fmt.Sprintf("Changing param values is not allowed. Param with key='%s' was already logged with value='%s'", p.Key, old))
			return
		}
	}
	for _, m := range req.Metrics {
		run.Data.Metrics = upsertMetric(run.Data.Metrics, m)
	}
	for _, p := range req.Params {
		if _, ok := run.Data.ParamMap()[p.Key]; !ok {
			run.Data.Params = append(run.Data.Params, p)
		}
	}
	for _, t := range req.Tags {
		run.Data.Tags = upsertTag(run.Data.Tags, t)
	}
	writeJSON(w, map[string]string{})
}

func upsertMetric(ms []tracking.Metric, m tracking.Metric) []tracking.Metric {
	for i := range ms {
		if ms[i].Key == m.Key {
			if m.Step >= ms[i].Step {
				ms[i] = m
			}
			return ms
		}
	}
	return append(ms, m)
}

func upsertTag(ts []tracking.RunTag, t tracking.RunTag) []tracking.RunTag {
	for i := range ts {
		if ts[i].Key == t.Key {
			ts[i] = t
			return ts
		}
	}
	return append(ts, t)
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if _, ok := s.runs[runID]; !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+runID+"' not found")
		return
	}
	prefix := strings.Trim(r.URL.Query().Get("path"), "/")
	children := make(map[string]tracking.Artifact)
	for p, content := range s.artifacts[runID] {
		rest := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(p, prefix+"/")
		}
		head, _, nested := strings.Cut(rest, "/")
		full := head
		if prefix != "" {
			full = prefix + "/" + head
		}
		if nested {
			children[full] = tracking.Artifact{Path: full, IsDir: true}
		} else {
			children[full] = tracking.Artifact{Path: full, FileSize: int64(len(content))}
		}
	}
	files := make([]tracking.Artifact, 0, len(children))
	for _, a := range children {
		files = append(files, a)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	start, end, next := s.page(len(files), r.URL.Query().Get("page_token"))
	writeJSON(w, map[string]interface{}{
		"root_uri":        s.runs[runID].Info.ArtifactURI,
		"files":           files[start:end],
		"next_page_token": next,
	})
}

// uploadArtifact stores PUT <prefix><experiment>/<run>/artifacts/<path>.
func (s *Server) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "BAD_REQUEST", r.Method)
		return
	}
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, artifactsPrefix), "/", 4)
	if len(parts) < 4 || parts[2] != "artifacts" {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", r.URL.Path)
		return
	}
	runID, artifactPath := parts[1], parts[3]
	if _, ok := s.runs[runID]; !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+runID+"' not found")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if s.artifacts[runID] == nil {
		s.artifacts[runID] = make(map[string][]byte)
	}
	s.artifacts[runID][artifactPath] = body
	writeJSON(w, map[string]string{})
}
