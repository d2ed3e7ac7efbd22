package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alphabot-ai/threadline/internal/model"
)

func TestClientNew(t *testing.T) {
	c := New("https://example.com")

	if c.BaseURL != "https://example.com" {
		t.Errorf("expected base URL 'https://example.com', got '%s'", c.BaseURL)
	}

	if c.HTTPClient == nil {
		t.Error("expected non-nil HTTP client")
	}
}

func TestObtainTokens(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/token/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("expected request id header")
		}
		var creds model.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Username != "a" || creds.Password != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access":"acc","refresh":"ref"}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	pair, err := c.ObtainTokens(context.Background(), model.Credentials{Username: "a", Password: "p"})
	if err != nil {
		t.Fatalf("obtain tokens: %v", err)
	}
	if pair.Access != "acc" || pair.Refresh != "ref" {
		t.Fatalf("unexpected pair: %+v", pair)
	}

	_, err = c.ObtainTokens(context.Background(), model.Credentials{Username: "a", Password: "wrong"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsAPIStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 api error, got %v", err)
	}
	if err.Error() != "No active account found with the given credentials" {
		t.Fatalf("expected backend detail, got %q", err.Error())
	}
}

func TestFallbackErrorMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer ts.Close()

	_, err := New(ts.URL).RefreshTokens(context.Background(), "ref")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
	if err.Error() != "Failed to refresh token" {
		t.Fatalf("expected fallback message, got %q", err.Error())
	}
}

func TestCurrentUserSendsBearer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer acc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":42,"username":"a","email":"a@example.com"}`))
	}))
	defer ts.Close()

	user, err := New(ts.URL).CurrentUser(context.Background(), "acc")
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if user.ID != 42 || user.Username != "a" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestGetCommentDecodesReplies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/comments/1/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{
			"id": 1, "user": {"id": 2, "username": "b", "email": ""},
			"text": "root", "created_at": "2024-05-01T10:00:00Z", "updated_at": "2024-05-01T10:00:00Z",
			"reply": null,
			"replies": [{"id": 3, "user": {"id": 2, "username": "b", "email": ""}, "text": "child",
				"created_at": "2024-05-01T10:05:00.123456Z", "updated_at": "2024-05-01T10:05:00Z", "reply": 1, "replies": []}]
		}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	root, err := c.GetComment(context.Background(), 1)
	if err != nil {
		t.Fatalf("get comment: %v", err)
	}
	if root.ParentID != nil {
		t.Fatalf("expected root without parent")
	}
	if len(root.Children) != 1 || root.Children[0].ID != 3 {
		t.Fatalf("unexpected children: %+v", root.Children)
	}
	if root.Children[0].ParentID == nil || *root.Children[0].ParentID != 1 {
		t.Fatalf("expected child parent 1")
	}

	if _, err := c.GetComment(context.Background(), 99); !IsAPIStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestListCommentsQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("ordering") != "-created_at" || q.Get("search") != "go" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"count":11,"next":null,"previous":"p1","results":[{"id":5,"text":"x","reply":null}]}`))
	}))
	defer ts.Close()

	page, err := New(ts.URL).ListComments(context.Background(), model.CommentListOpts{Page: 2, Search: "go"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Count != 11 || len(page.Results) != 1 || page.Results[0].ID != 5 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestPostCommentMultipart(t *testing.T) {
	dir := t.TempDir()
	attachment := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(attachment, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write attachment: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer acc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("text") != "hi" || r.FormValue("reply") != "7" {
			t.Errorf("unexpected form: %v", r.MultipartForm.Value)
		}
		f, header, err := r.FormFile("attachments")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if header.Filename != "note.txt" || string(data) != "hello" {
				t.Errorf("unexpected attachment %s: %q", header.Filename, data)
			}
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":8,"text":"hi","reply":7}`))
	}))
	defer ts.Close()

	parent := int64(7)
	comment, err := New(ts.URL).PostComment(context.Background(), "acc", "hi", &parent, []string{attachment})
	if err != nil {
		t.Fatalf("post comment: %v", err)
	}
	if comment.ID != 8 {
		t.Fatalf("unexpected comment: %+v", comment)
	}
}

func TestClientTransportErrorUsesFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(url).CurrentUser(context.Background(), "acc")
	if err == nil {
		t.Fatalf("expected error from closed server")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("expected transport error, got API error %v", err)
	}
	if !strings.HasPrefix(err.Error(), "Failed to fetch user data: ") {
		t.Fatalf("expected fallback prefix, got %q", err.Error())
	}
}
