package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fl-team8/aggregator/pkg/blobstore"
	"github.com/fl-team8/aggregator/pkg/ledger"
	"github.com/fl-team8/aggregator/pkg/model"
	"github.com/fl-team8/aggregator/pkg/quality"
	"github.com/fl-team8/aggregator/pkg/reputation"
	"github.com/fl-team8/aggregator/pkg/round"
	"github.com/fl-team8/aggregator/pkg/threshold"
)

// fakeBackends stands in for both the blob handler and the ledger over
// plain HTTP, storing uploaded weights in memory and recording every fact
// POSTed to it so tests can assert on them.
type fakeBackends struct {
	mu         sync.Mutex
	weightData map[string][]byte
	finals     []ledger.FinalModel
	repUpdates []ledger.ReputationUpdate
}

func newFakeBackends() *fakeBackends {
	return &fakeBackends{weightData: make(map[string][]byte)}
}

func (f *fakeBackends) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ RoundID, BankID string }
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]string{"downloadUrl": "http://" + r.Host + "/weights/" + req.BankID})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"uploadUrl": "http://" + r.Host + "/put/aggregated", "objectPath": "objects/aggregated.h5"})
	})
	mux.HandleFunc("/put/aggregated", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/models/contribution", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/reputation/update", func(w http.ResponseWriter, r *http.Request) {
		var u ledger.ReputationUpdate
		json.NewDecoder(r.Body).Decode(&u)
		f.mu.Lock()
		f.repUpdates = append(f.repUpdates, u)
		f.mu.Unlock()
	})
	mux.HandleFunc("/events/quality", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/models/final", func(w http.ResponseWriter, r *http.Request) {
		var fm ledger.FinalModel
		json.NewDecoder(r.Body).Decode(&fm)
		f.mu.Lock()
		f.finals = append(f.finals, fm)
		f.mu.Unlock()
	})
	mux.HandleFunc("/weights/", func(w http.ResponseWriter, r *http.Request) {
		bank := r.URL.Path[len("/weights/"):]
		f.mu.Lock()
		data := f.weightData[bank]
		f.mu.Unlock()
		w.Write(data)
	})
	return httptest.NewServer(mux)
}

func TestRunRoundHappyPathThreeSubmitters(t *testing.T) {
	backends := newFakeBackends()
	srv := backends.server()
	defer srv.Close()

	ws := model.WeightSet{{0.1, 0.2, 0.3}}
	buf := filepath.Join(t.TempDir(), "tmp.weights")
	if err := model.SaveWeightSet(buf, ws); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(buf)
	for _, p := range []string{"dbs", "ing", "ocbc"} {
		backends.weightData[p] = data
	}

	modelDir := t.TempDir()
	blobs := blobstore.New(srv.URL, srv.Client())
	ledgerClient := ledger.New(srv.URL, srv.Client())
	repStore := reputation.New(reputation.Config{Init: 0.5, Min: 0.1, Max: 1.0, Reward: 0.05, Penalty: 0.1, PenaltyNonParticipant: 0.15})
	thresholds := threshold.New(threshold.Config{Min: 0.5, Max: 0.95, Initial: 0.75, Rate: 0.05, HistorySize: 5})
	evaluator := quality.NewEvaluator(repStore, ledgerClient)

	proc := NewProcessor(blobs, ledgerClient, evaluator, thresholds, repStore, modelDir, nil)

	result := round.RoundResult{
		RoundID: "round-1",
		Submissions: map[string]string{
			"dbs":  "uri-dbs",
			"ing":  "uri-ing",
			"ocbc": "uri-ocbc",
		},
	}

	if err := proc.RunRound(context.Background(), result); err != nil {
		t.Fatalf("RunRound: %v", err)
	}

	backends.mu.Lock()
	defer backends.mu.Unlock()
	if len(backends.finals) != 1 {
		t.Errorf("got %d /models/final posts, want 1", len(backends.finals))
	}
	// accuracy defaults to 0.7 (no contribution metadata), trust_factor at
	// reputation 0.5 is 0.75, so quality_score = 0.525, below the 0.75
	// initial threshold's per-participant adjusted cutoff of 0.7125; all
	// three are rejected and the failsafe promotes them, which is an
	// acceptable fixture outcome here since this test only checks
	// publication plumbing.
	if len(backends.repUpdates) != 3 {
		t.Errorf("got %d reputation updates, want 3 (one per submitter)", len(backends.repUpdates))
	}
}

func TestRunRoundNoSubmissionsErrors(t *testing.T) {
	backends := newFakeBackends()
	srv := backends.server()
	defer srv.Close()

	modelDir := t.TempDir()
	blobs := blobstore.New(srv.URL, srv.Client())
	ledgerClient := ledger.New(srv.URL, srv.Client())
	repStore := reputation.New(reputation.Config{Init: 0.5, Min: 0.1, Max: 1.0})
	thresholds := threshold.New(threshold.Config{Min: 0.5, Max: 0.95, Initial: 0.75, Rate: 0.05, HistorySize: 5})
	evaluator := quality.NewEvaluator(repStore, ledgerClient)
	proc := NewProcessor(blobs, ledgerClient, evaluator, thresholds, repStore, modelDir, nil)

	err := proc.RunRound(context.Background(), round.RoundResult{RoundID: "empty"})
	if err == nil {
		t.Fatal("expected error for round with no submissions")
	}
}
