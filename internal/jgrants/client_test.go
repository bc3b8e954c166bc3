package jgrants

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aoki/jgrants-sync/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, 5*time.Second, 1000)
	c.now = func() time.Time { return testNow }
	return c
}

func TestSearch(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"metadata": {"resultset": {"count": 2}},
			"result": [
				{"id": "s1", "title": "ものづくり補助金", "acceptance_end_datetime": "2026-12-31T23:59:59Z"},
				{"title": "idのないレコード"}
			]
		}`))
	})

	grants, err := c.Search(context.Background(), Query{Keyword: "補助金"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant (malformed record dropped), got %d", len(grants))
	}
	if grants[0].ExternalID != "s1" {
		t.Errorf("external id = %q, want s1", grants[0].ExternalID)
	}
	for _, want := range []string{"keyword=", "sort=created_date", "order=DESC", "acceptance=0"} {
		if !containsParam(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestSearchKeywordTooShort(t *testing.T) {
	c := NewClient("http://unused.invalid", time.Second, 1)
	for _, kw := range []string{"", " ", "あ"} {
		_, err := c.Search(context.Background(), Query{Keyword: kw})
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("keyword %q: err = %v, want ErrValidation", kw, err)
		}
	}
}

func TestSearchServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	_, err := c.Search(context.Background(), Query{Keyword: "補助金"})
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestGetByID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subsidies/id/s42" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"result": [{"id": "s42", "title": "テスト補助金"}]}`))
	})

	g, err := c.GetByID(context.Background(), "s42")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if g.ExternalID != "s42" || g.Title != "テスト補助金" {
		t.Errorf("unexpected grant: %+v", g)
	}

	if _, err := c.GetByID(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing id: err = %v, want ErrNotFound", err)
	}
}

func TestGetByIDEmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": []}`))
	})
	if _, err := c.GetByID(context.Background(), "s1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": [{"id": "s1", "title": "補助金A"}]}`))
	})
	info, err := c.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if !info.OK || info.ResultCount != 1 {
		t.Errorf("unexpected health info: %+v", info)
	}
}

func TestEnvelopeLegacyKeys(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"subsidies": [{"id": "old1", "name": "旧形式補助金"}]}`))
	})
	grants, err := c.Search(context.Background(), Query{Keyword: "補助金"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(grants) != 1 || grants[0].Title != "旧形式補助金" {
		t.Fatalf("unexpected grants: %+v", grants)
	}
}

func containsParam(query, frag string) bool {
	return strings.Contains(query, frag)
}
