package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
)

func TestHybridSearchRequestShape(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/rest/v1/rpc/hybrid_search_v3") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "test-key" || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("auth headers missing")
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Write([]byte(`[
			{"id":"r1_0","content":"a","metadata":{"page_id":"r1","title":"발달재활 바우처"},"score":0.5,"similarity":0.8},
			{"id":"r2_0","content":"b","metadata":{"page_id":"r2","title":"언어치료 지원"},"score":0.7,"similarity":0.4}
		]`))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "site_pages", Options{})
	got, err := client.HybridSearch(context.Background(), ports.HybridQuery{
		QueryText:      "재활 바우처",
		QueryEmbedding: []float32{0.1},
		MatchThreshold: 0.45,
		MatchCount:     15,
		FilterCategory: domain.CategoryMedical,
		Keywords:       []string{"재활", "바우처"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if captured["filter_category"] != "의료/재활" {
		t.Errorf("filter_category: got %v", captured["filter_category"])
	}
	if captured["match_threshold"] != 0.45 {
		t.Errorf("match_threshold: got %v", captured["match_threshold"])
	}
	if kws, ok := captured["keywords_arr"].([]any); !ok || len(kws) != 2 {
		t.Errorf("keywords_arr: got %v", captured["keywords_arr"])
	}

	// Score is the max of keyword score and vector similarity.
	if len(got) != 2 || got[0].Score != 0.8 || got[1].Score != 0.7 {
		t.Fatalf("got %+v", got)
	}
}

func TestHybridSearchGlobalPassSendsNullCategory(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "site_pages", Options{})
	if _, err := client.HybridSearch(context.Background(), ports.HybridQuery{QueryText: "q"}); err != nil {
		t.Fatalf("search: %v", err)
	}

	if v, present := captured["filter_category"]; !present || v != nil {
		t.Fatalf("global pass must send filter_category null, got %v", captured)
	}
	if _, ok := captured["keywords_arr"].([]any); !ok {
		t.Fatalf("empty keyword set must marshal as [], got %v", captured["keywords_arr"])
	}
}

func TestUpsertChunkUsesMergeDuplicates(t *testing.T) {
	var gotPrefer, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "site_pages", Options{})
	err := client.UpsertChunk(context.Background(), domain.IndexedChunk{
		ID:       "r1_0",
		RecordID: "r1",
		Content:  "본문",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if gotPrefer != "resolution=merge-duplicates" {
		t.Fatalf("Prefer header: got %q", gotPrefer)
	}
	if !strings.Contains(gotQuery, "on_conflict=id") {
		t.Fatalf("query: got %q", gotQuery)
	}
}

func TestDeleteByRecordIDFilters(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method %s", r.Method)
		}
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "site_pages", Options{})
	if err := client.DeleteByRecordID(context.Background(), "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(gotQuery, "page_id=eq.r1") {
		t.Fatalf("query: got %q", gotQuery)
	}
}

func TestFetchMetadataPreservesRequestOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Rows come back in arbitrary database order.
		w.Write([]byte(`[
			{"page_id":"r2","metadata":{"page_id":"r2","title":"둘"}},
			{"page_id":"r1","metadata":{"page_id":"r1","title":"하나"}}
		]`))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "site_pages", Options{})
	metas, err := client.FetchMetadataByRecordIDs(context.Background(), []string{"r1", "r2", "missing"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(metas) != 2 || metas[0].Title != "하나" || metas[1].Title != "둘" {
		t.Fatalf("order must follow the request, got %+v", metas)
	}
}

func TestSemanticLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/rpc/match_chat_cache") {
			w.Write([]byte(`[{"answer":"캐시된 답변","similarity":0.95}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "site_pages", Options{})
	answer, ok, err := client.Lookup(context.Background(), []float32{0.1}, 0.92)
	if err != nil || !ok || answer != "캐시된 답변" {
		t.Fatalf("got %q ok=%v err=%v", answer, ok, err)
	}
}

func TestSemanticLookupMissReturnsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "site_pages", Options{})
	_, ok, err := client.Lookup(context.Background(), []float32{0.1}, 0.92)
	if err != nil || ok {
		t.Fatalf("empty rows must miss, ok=%v err=%v", ok, err)
	}
}

func TestServerErrorsMapToDomainKinds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "site_pages", Options{})
	_, err := client.HybridSearch(context.Background(), ports.HybridQuery{QueryText: "q"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("500 must map to a temporary error, got %v", err)
	}
}
