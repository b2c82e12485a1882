// Package gdrive uploads files to Google Drive with a service account.
package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/google"

	"github.com/sells-group/fieldrelay/internal/resilience"
)

const (
	defaultBaseURL   = "https://www.googleapis.com/drive/v3"
	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3"

	// Scope grants full Drive access to the service account.
	Scope = "https://www.googleapis.com/auth/drive"

	folderMimeType = "application/vnd.google-apps.folder"
)

// StatusError is a non-2xx Drive API response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gdrive: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// File is the subset of Drive file metadata the client reads.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the metadata API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUploadURL overrides the upload API base URL.
func WithUploadURL(u string) Option {
	return func(c *Client) {
		c.uploadURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the http.Client. It must add authorization itself.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client performs the few Drive v3 calls the exporter needs.
type Client struct {
	baseURL   string
	uploadURL string
	http      *http.Client
}

// New creates a Client. Without WithHTTPClient requests are unauthenticated.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		uploadURL: defaultUploadURL,
		http:      &http.Client{Timeout: time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewFromCredentialsFile creates a Client authorized by a service-account
// JSON key.
func NewFromCredentialsFile(ctx context.Context, path string, opts ...Option) (*Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "gdrive: read credentials %s", path)
	}
	cfg, err := google.JWTConfigFromJSON(data, Scope)
	if err != nil {
		return nil, eris.Wrap(err, "gdrive: parse credentials")
	}
	hc := cfg.Client(ctx)
	hc.Timeout = time.Minute
	return New(append([]Option{WithHTTPClient(hc)}, opts...)...), nil
}

// Find returns the first non-trashed file called name in folderID, or nil.
func (c *Client) Find(ctx context.Context, folderID, name, mimeType string) (*File, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escape(name), escape(folderID))
	if mimeType != "" {
		q += fmt.Sprintf(" and mimeType = '%s'", mimeType)
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "files(id,name,mimeType)")
	params.Set("supportsAllDrives", "true")
	params.Set("includeItemsFromAllDrives", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "gdrive: create request")
	}

	var result struct {
		Files []File `json:"files"`
	}
	if err := c.do(req, "find", &result); err != nil {
		return nil, err
	}
	if len(result.Files) == 0 {
		return nil, nil
	}
	return &result.Files[0], nil
}

// EnsureFolder returns the id of the folder called name under parentID,
// creating it if needed.
func (c *Client) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	existing, err := c.Find(ctx, parentID, name, folderMimeType)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	body, err := json.Marshal(map[string]any{
		"name":     name,
		"mimeType": folderMimeType,
		"parents":  []string{parentID},
	})
	if err != nil {
		return "", eris.Wrap(err, "gdrive: marshal folder")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files?supportsAllDrives=true", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "gdrive: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	var created File
	if err := c.do(req, "create folder", &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// Upload stores data as filename in folderID and returns the file id. With
// overwrite set, an existing file of the same name gets its content
// replaced; otherwise a new file is always created.
func (c *Client) Upload(ctx context.Context, folderID, filename string, data []byte, overwrite bool) (string, error) {
	if overwrite {
		existing, err := c.Find(ctx, folderID, filename, "")
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.ID, c.replace(ctx, existing.ID, filename, data)
		}
	}
	return c.create(ctx, folderID, filename, data)
}

func (c *Client) create(ctx context.Context, folderID, filename string, data []byte) (string, error) {
	meta, err := json.Marshal(map[string]any{"name": filename, "parents": []string{folderID}})
	if err != nil {
		return "", eris.Wrap(err, "gdrive: marshal metadata")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", eris.Wrap(err, "gdrive: create metadata part")
	}
	if _, err := metaPart.Write(meta); err != nil {
		return "", eris.Wrap(err, "gdrive: write metadata part")
	}
	mediaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {contentType(filename)}})
	if err != nil {
		return "", eris.Wrap(err, "gdrive: create media part")
	}
	if _, err := mediaPart.Write(data); err != nil {
		return "", eris.Wrap(err, "gdrive: write media part")
	}
	if err := mw.Close(); err != nil {
		return "", eris.Wrap(err, "gdrive: close multipart")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.uploadURL+"/files?uploadType=multipart&supportsAllDrives=true", &buf)
	if err != nil {
		return "", eris.Wrap(err, "gdrive: create request")
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	var created File
	if err := c.do(req, "upload", &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *Client) replace(ctx context.Context, fileID, filename string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.uploadURL+"/files/"+url.PathEscape(fileID)+"?uploadType=media&supportsAllDrives=true", bytes.NewReader(data))
	if err != nil {
		return eris.Wrap(err, "gdrive: create request")
	}
	req.Header.Set("Content-Type", contentType(filename))
	return c.do(req, "replace", nil)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "gdrive: %s", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "gdrive: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrapf(err, "gdrive: unmarshal %s response", op)
	}
	return nil
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func contentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case strings.HasSuffix(filename, ".txt"):
		return "text/plain; charset=UTF-8"
	default:
		return "application/octet-stream"
	}
}
