package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldrelay/internal/resilience"
)

type fakeDrive struct {
	t       *testing.T
	files   map[string]File
	content map[string][]byte
	nextID  int
}

func newFakeDrive(t *testing.T) (*fakeDrive, *Client) {
	f := &fakeDrive{t: t, files: map[string]File{}, content: map[string][]byte{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, New(WithBaseURL(srv.URL+"/drive/v3"), WithUploadURL(srv.URL+"/upload/drive/v3"))
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := f.t
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/drive/v3/files":
		q := r.URL.Query().Get("q")
		var found []File
		for _, file := range f.files {
			if strings.Contains(q, "name = '"+file.Name+"'") {
				found = append(found, file)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"files": found})

	case r.Method == http.MethodPost && r.URL.Path == "/drive/v3/files":
		var meta map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
		file := f.add(meta["name"].(string), meta["mimeType"].(string), nil)
		_ = json.NewEncoder(w).Encode(file)

	case r.Method == http.MethodPost && r.URL.Path == "/upload/drive/v3/files":
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		mr := multipart.NewReader(r.Body, params["boundary"])

		metaPart, err := mr.NextPart()
		require.NoError(t, err)
		var meta map[string]any
		require.NoError(t, json.NewDecoder(metaPart).Decode(&meta))

		mediaPart, err := mr.NextPart()
		require.NoError(t, err)
		data, _ := io.ReadAll(mediaPart)

		file := f.add(meta["name"].(string), mediaPart.Header.Get("Content-Type"), data)
		_ = json.NewEncoder(w).Encode(file)

	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/upload/drive/v3/files/"):
		id := strings.TrimPrefix(r.URL.Path, "/upload/drive/v3/files/")
		data, _ := io.ReadAll(r.Body)
		f.content[id] = data
		_ = json.NewEncoder(w).Encode(f.files[id])

	default:
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeDrive) add(name, mimeType string, data []byte) File {
	f.nextID++
	file := File{ID: "id" + string(rune('0'+f.nextID)), Name: name, MimeType: mimeType}
	f.files[file.ID] = file
	f.content[file.ID] = data
	return file
}

func TestUpload_CreatesNewFile(t *testing.T) {
	fake, c := newFakeDrive(t)

	id, err := c.Upload(context.Background(), "folder", "1728102024_team.xlsx", []byte("v1"), true)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), fake.content[id])
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", fake.files[id].MimeType)
}

func TestUpload_OverwriteReplacesContent(t *testing.T) {
	fake, c := newFakeDrive(t)
	ctx := context.Background()

	first, err := c.Upload(ctx, "folder", "report.xlsx", []byte("v1"), true)
	require.NoError(t, err)
	second, err := c.Upload(ctx, "folder", "report.xlsx", []byte("v2"), true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, fake.files, 1)
	assert.Equal(t, []byte("v2"), fake.content[first])
}

func TestUpload_WithoutOverwriteAlwaysCreates(t *testing.T) {
	fake, c := newFakeDrive(t)
	ctx := context.Background()

	_, err := c.Upload(ctx, "folder", "Ivan_1.txt", []byte("a"), false)
	require.NoError(t, err)
	_, err = c.Upload(ctx, "folder", "Ivan_1.txt", []byte("b"), false)
	require.NoError(t, err)
	assert.Len(t, fake.files, 2)
}

func TestEnsureFolder_Idempotent(t *testing.T) {
	fake, c := newFakeDrive(t)
	ctx := context.Background()

	id1, err := c.EnsureFolder(ctx, "root", "SlovarikDB")
	require.NoError(t, err)
	id2, err := c.EnsureFolder(ctx, "root", "SlovarikDB")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, folderMimeType, fake.files[id1].MimeType)
}

func TestDo_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"backend"}`))
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL), WithUploadURL(srv.URL)).Upload(context.Background(), "f", "x.xlsx", nil, false)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestDo_PermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient permissions"}`))
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL)).EnsureFolder(context.Background(), "root", "team")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "403")
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `O\'Brien`, escape("O'Brien"))
}

func TestNewFromCredentialsFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"authorized_user"}`), 0o600))

	_, err := NewFromCredentialsFile(context.Background(), path)
	require.Error(t, err)

	_, err = NewFromCredentialsFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
