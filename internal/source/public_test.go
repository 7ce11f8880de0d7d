package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
	"golang.org/x/time/rate"
)

const postListingFixture = `{
	"data": {
		"children": [
			{"data": {
				"id": "p1",
				"title": "Older post",
				"selftext": "body one",
				"url": "https://www.reddit.com/r/golang/comments/p1/older_post/",
				"permalink": "/r/golang/comments/p1/older_post/",
				"author": "alice",
				"created_utc": 1700000100,
				"score": 5,
				"num_comments": 2,
				"is_self": true,
				"link_flair_text": "Discussion"
			}},
			{"data": {
				"id": "p2",
				"title": "Newer post",
				"selftext": "",
				"url": "https://example.com/article",
				"permalink": "/r/golang/comments/p2/newer_post/",
				"author": "bob",
				"created_utc": 1700000200,
				"score": 1,
				"num_comments": 0,
				"is_self": false,
				"over_18": true,
				"stickied": true
			}}
		]
	}
}`

const commentListingFixture = `{
	"data": {
		"children": [
			{"data": {
				"id": "c1",
				"body": "a comment",
				"permalink": "/r/golang/comments/p1/older_post/c1/",
				"author": "carol",
				"created_utc": 1700000150,
				"score": 3,
				"link_title": "Older post",
				"link_permalink": "/r/golang/comments/p1/older_post/"
			}},
			{"data": {
				"id": "c2",
				"body": "[removed]",
				"author": "[deleted]",
				"created_utc": 1700000160
			}}
		]
	}
}`

// newTestPublicClient はhttptestサーバーを向くPublicClientを返す。
// テスト高速化のためレートリミッタは無効化する。
func newTestPublicClient(server *httptest.Server) *PublicClient {
	c := NewPublicClient(server.Client(), "subwatch-test/1.0")
	c.baseURL = server.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestPublicClient_FetchNew_Posts(t *testing.T) {
	var gotPath, gotQuery, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(postListingFixture))
	}))
	defer server.Close()

	c := newTestPublicClient(server)
	items, err := c.FetchNew(context.Background(), "golang", model.KindPost, nil)
	if err != nil {
		t.Fatalf("FetchNew failed: %v", err)
	}

	if gotPath != "/r/golang/new.json" {
		t.Errorf("path = %q, want /r/golang/new.json", gotPath)
	}
	if gotQuery != "limit=10&raw_json=1" {
		t.Errorf("query = %q, want limit=10&raw_json=1 (first run)", gotQuery)
	}
	if gotUA != "subwatch-test/1.0" {
		t.Errorf("User-Agent = %q, want the configured agent", gotUA)
	}

	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}

	// 新しい順で返ること
	if items[0].ID != "p2" || items[1].ID != "p1" {
		t.Errorf("order = [%s, %s], want [p2, p1]", items[0].ID, items[1].ID)
	}

	newer := items[0]
	if newer.Title != "Newer post" {
		t.Errorf("Title = %q, want Newer post", newer.Title)
	}
	if newer.IsSelf {
		t.Error("p2 should be a link post")
	}
	if !newer.IsNSFW {
		t.Error("p2 should be NSFW")
	}
	if !newer.Stickied {
		t.Error("p2 should be stickied")
	}
	if newer.CreatedAt != time.Unix(1700000200, 0).UTC() {
		t.Errorf("CreatedAt = %v, want unix 1700000200", newer.CreatedAt)
	}
	if newer.Permalink != "https://www.reddit.com/r/golang/comments/p2/newer_post/" {
		t.Errorf("Permalink = %q, want absolute URL", newer.Permalink)
	}

	older := items[1]
	if older.Flair != "Discussion" {
		t.Errorf("Flair = %q, want Discussion", older.Flair)
	}
	if older.Body != "body one" {
		t.Errorf("Body = %q, want selftext", older.Body)
	}
}

func TestPublicClient_FetchNew_WithWatermark(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(postListingFixture))
	}))
	defer server.Close()

	c := newTestPublicClient(server)
	since := &model.Watermark{ID: "p1", CreatedAt: 1700000100}
	items, err := c.FetchNew(context.Background(), "golang", model.KindPost, since)
	if err != nil {
		t.Fatalf("FetchNew failed: %v", err)
	}

	if gotQuery != "limit=100&raw_json=1" {
		t.Errorf("query = %q, want limit=100 for watermarked run", gotQuery)
	}

	// ウォーターマーク以前は除外される
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].ID != "p2" {
		t.Errorf("items[0].ID = %q, want p2", items[0].ID)
	}
}

func TestPublicClient_FetchNew_Comments(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(commentListingFixture))
	}))
	defer server.Close()

	c := newTestPublicClient(server)
	items, err := c.FetchNew(context.Background(), "golang", model.KindComment, nil)
	if err != nil {
		t.Fatalf("FetchNew failed: %v", err)
	}

	if gotPath != "/r/golang/comments.json" {
		t.Errorf("path = %q, want /r/golang/comments.json", gotPath)
	}

	// 削除済み著者のコメントはスキップされる
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}

	c1 := items[0]
	if c1.Kind != model.KindComment {
		t.Errorf("Kind = %v, want KindComment", c1.Kind)
	}
	if c1.Body != "a comment" {
		t.Errorf("Body = %q, want a comment", c1.Body)
	}
	if c1.PostTitle != "Older post" {
		t.Errorf("PostTitle = %q, want Older post", c1.PostTitle)
	}
	if c1.PostURL != "https://www.reddit.com/r/golang/comments/p1/older_post/" {
		t.Errorf("PostURL = %q, want absolute link permalink", c1.PostURL)
	}
}

func TestPublicClient_FetchNew_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestPublicClient(server)
	_, err := c.FetchNew(context.Background(), "doesnotexist", model.KindPost, nil)
	if err == nil {
		t.Fatal("expected error for 404, got nil")
	}
	if !model.IsPermanent(err) {
		t.Errorf("404 should be a permanent error: %v", err)
	}
}

func TestPublicClient_FetchNew_ServerError_Transient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestPublicClient(server)
	_, err := c.FetchNew(context.Background(), "golang", model.KindPost, nil)
	if err == nil {
		t.Fatal("expected error for 503, got nil")
	}
	if !model.IsTransient(err) {
		t.Errorf("503 should be a transient error: %v", err)
	}
}

func TestPublicClient_Probe(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"data": {}}`))
	}))
	defer server.Close()

	c := newTestPublicClient(server)
	if err := c.Probe(context.Background(), "golang"); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if gotPath != "/r/golang/about.json" {
		t.Errorf("path = %q, want /r/golang/about.json", gotPath)
	}
}

func TestPublicClient_Probe_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestPublicClient(server)
	err := c.Probe(context.Background(), "private")
	if err == nil {
		t.Fatal("expected error for 403, got nil")
	}
	if !model.IsPermanent(err) {
		t.Errorf("403 should be a permanent error: %v", err)
	}
}
