package client

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/retry"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL:   ts.URL,
		AuthToken: "tok",
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func TestStatusError_CarriesServerMessage(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":["name must not be empty","name too short"],"error":"Bad Request","statusCode":400}`))
	}))
	defer ts.Close()

	_, err := c.CreateFolder(context.Background(), "", "")
	se, ok := AsStatus(err)
	if !ok {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if se.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", se.Code)
	}
	if se.Message != "name must not be empty; name too short" {
		t.Errorf("unexpected message %q", se.Message)
	}
	if got := Message(err, "fallback"); got != se.Message {
		t.Errorf("Message() = %q", got)
	}
}

func TestUnauthorizedHook(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	var calls atomic.Int32
	c.OnUnauthorized(func() { calls.Add(1) })

	_, err := c.FolderFiles(context.Background(), "f1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected hook to run once, ran %d times", calls.Load())
	}
}

func TestUnauthorizedHook_NotCalledWithoutToken(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid credentials"}`))
	}))
	defer ts.Close()

	var calls atomic.Int32
	c.OnUnauthorized(func() { calls.Add(1) })

	_, err := c.Login(context.Background(), "a@b.com", "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 0 {
		t.Error("login failure must not trigger the unauthorized hook")
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode([]models.Folder{{ID: "f1", Name: "Docs"}})
	}))
	defer ts.Close()

	folders, err := c.ChildFolders(context.Background(), "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "Docs" {
		t.Errorf("unexpected folders: %+v", folders)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestMutations_NotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	if err := c.DeleteFolder(context.Background(), "f1"); err == nil {
		t.Fatal("expected error")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts.Load())
	}
}

func TestDefaultConfig_SingleAttempt(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	c.ListUsers(context.Background())
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt without a retry config, got %d", attempts.Load())
	}
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second})
	_, err := c.Profile(context.Background())
	if !IsNetwork(err) {
		t.Fatalf("expected NetworkError, got %T: %v", err, err)
	}
}

func TestUploadFile_Multipart(t *testing.T) {
	var gotFolder, gotName, gotType, gotBody, gotAuth string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/files/upload" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotFolder = r.FormValue("folderId")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotName, gotType, gotBody = hdr.Filename, hdr.Header.Get("Content-Type"), string(data)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"_id": "file-1", "originalName": hdr.Filename, "mimeType": gotType, "size": len(data), "folderId": gotFolder,
		})
	}))
	defer ts.Close()

	rec, err := c.UploadFile(context.Background(), UploadRequest{
		Name: "notes.txt", MimeType: "text/plain", Content: strings.NewReader("hello"), FolderID: "f9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "file-1" {
		t.Errorf("expected legacy _id to map to ID, got %q", rec.ID)
	}
	if gotFolder != "f9" || gotName != "notes.txt" || gotType != "text/plain" || gotBody != "hello" {
		t.Errorf("unexpected form: folder=%q name=%q type=%q body=%q", gotFolder, gotName, gotType, gotBody)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
}

func TestUploadFile_RootOmitsFolder(t *testing.T) {
	var hasFolder bool
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		_, hasFolder = r.MultipartForm.Value["folderId"]
		json.NewEncoder(w).Encode(map[string]string{"id": "x"})
	}))
	defer ts.Close()

	if _, err := c.UploadFile(context.Background(), UploadRequest{Name: "a.png", Content: strings.NewReader("x")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hasFolder {
		t.Error("root upload must not send folderId")
	}
}

func TestDownloadFile_Gzip(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/abc/download" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		gw.Write([]byte("compressed content"))
		gw.Close()
	}))
	defer ts.Close()

	rc, _, err := c.DownloadFile(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "compressed content" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestDeleteFile_NotFoundIsSuccess(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" || r.URL.Path != "/files/gone" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	if err := c.DeleteFile(context.Background(), "gone"); err != nil {
		t.Fatalf("expected nil for already deleted file, got %v", err)
	}
}

func TestCreateFolder_ParentID(t *testing.T) {
	var bodies []map[string]interface{}
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "new", "name": body["name"], "parentId": body["parentId"]})
	}))
	defer ts.Close()

	root, err := c.CreateFolder(context.Background(), "Top", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.CreateFolder(context.Background(), "Sub", "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v, ok := bodies[0]["parentId"]; !ok || v != nil {
		t.Errorf("root folder should send parentId null, got %v (present=%v)", v, ok)
	}
	if bodies[1]["parentId"] != "p1" {
		t.Errorf("expected parentId p1, got %v", bodies[1]["parentId"])
	}
	if root.ParentID != "" {
		t.Error("null parentId should decode as a root folder")
	}
}

func TestUpdateUserRoles(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PATCH" || r.URL.Path != "/users/u2" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string][]string
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(models.User{ID: "u2", Roles: body["roles"]})
	}))
	defer ts.Close()

	u, err := c.UpdateUserRoles(context.Background(), "u2", []string{"user", "admin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.IsAdmin() {
		t.Errorf("expected admin role in %v", u.Roles)
	}
}
