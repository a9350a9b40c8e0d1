package mirror

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"pdfkeep/internal/collection"
)

const (
	defaultBaseURL = "https://api.zotero.org"
	apiVersion     = "3"
)

var _ collection.Importer = (*ZoteroClient)(nil)

// ZoteroClient imports canonical files into a Zotero library through the
// Web API v3. Each Import creates a document item, an imported_file
// attachment under it, and uploads the file bytes. The client does no
// retrying of its own; a 429 response surfaces as a RateLimitError for
// the sync layer to back off on.
type ZoteroClient struct {
	baseURL     string
	libraryID   string
	libraryType string // "user" or "group"
	apiKey      string
	client      *http.Client
}

// NewZoteroClient creates a client for the given library. libraryType
// must be "user" or "group".
func NewZoteroClient(libraryID, libraryType, apiKey string) (*ZoteroClient, error) {
	if libraryID == "" {
		return nil, fmt.Errorf("mirror library ID is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("mirror API key is required")
	}
	if libraryType != "user" && libraryType != "group" {
		return nil, fmt.Errorf("invalid mirror library type: %q", libraryType)
	}

	return &ZoteroClient{
		baseURL:     defaultBaseURL,
		libraryID:   libraryID,
		libraryType: libraryType,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// WithBaseURL points the client at a different API endpoint. For tests.
func (c *ZoteroClient) WithBaseURL(baseURL string) *ZoteroClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Import creates a document item titled displayName, attaches the
// canonical file to it, and uploads the bytes.
func (c *ZoteroClient) Import(ctx context.Context, canonicalPath, displayName string) (string, string, error) {
	title := strings.TrimSuffix(displayName, ".pdf")

	itemKey, err := c.createItem(ctx, map[string]any{
		"itemType": "document",
		"title":    title,
	})
	if err != nil {
		return "", "", fmt.Errorf("creating document item: %w", err)
	}

	attachmentKey, err := c.createItem(ctx, map[string]any{
		"itemType":    "attachment",
		"linkMode":    "imported_file",
		"parentItem":  itemKey,
		"title":       displayName,
		"filename":    displayName,
		"contentType": "application/pdf",
	})
	if err != nil {
		return "", "", fmt.Errorf("creating attachment item: %w", err)
	}

	if err := c.uploadFile(ctx, attachmentKey, canonicalPath, displayName); err != nil {
		return "", "", fmt.Errorf("uploading attachment file: %w", err)
	}

	return itemKey, attachmentKey, nil
}

// createItem posts a single item and returns its key.
func (c *ZoteroClient) createItem(ctx context.Context, item map[string]any) (string, error) {
	body, err := json.Marshal([]map[string]any{item})
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, http.MethodPost, c.libraryPath("/items"), nil, bytes.NewReader(body), "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return "", err
	}

	var parsed struct {
		Successful map[string]struct {
			Key string `json:"key"`
		} `json:"successful"`
		Failed map[string]struct {
			Message string `json:"message"`
		} `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding create response: %w", err)
	}

	if success, ok := parsed.Successful["0"]; ok && success.Key != "" {
		return success.Key, nil
	}
	if failure, ok := parsed.Failed["0"]; ok {
		return "", fmt.Errorf("item rejected: %s", failure.Message)
	}
	return "", fmt.Errorf("create response contained no item key")
}

// uploadFile runs the three-step attachment upload: authorize, upload,
// register. A response of {"exists": 1} at the authorize step means the
// mirror already holds identical bytes and nothing more is needed.
func (c *ZoteroClient) uploadFile(ctx context.Context, attachmentKey, path, filename string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	sum := md5.Sum(data)
	form := url.Values{
		"md5":      {hex.EncodeToString(sum[:])},
		"filename": {filename},
		"filesize": {strconv.FormatInt(info.Size(), 10)},
		"mtime":    {strconv.FormatInt(info.ModTime().UnixMilli(), 10)},
	}

	auth, err := c.authorizeUpload(ctx, attachmentKey, form)
	if err != nil {
		return err
	}
	if auth.Exists != 0 {
		return nil
	}

	if err := c.uploadBytes(ctx, auth, data); err != nil {
		return err
	}

	return c.registerUpload(ctx, attachmentKey, auth.UploadKey)
}

type uploadAuthorization struct {
	Exists      int    `json:"exists"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Prefix      string `json:"prefix"`
	Suffix      string `json:"suffix"`
	UploadKey   string `json:"uploadKey"`
}

func (c *ZoteroClient) authorizeUpload(ctx context.Context, attachmentKey string, form url.Values) (*uploadAuthorization, error) {
	path := c.libraryPath("/items/" + attachmentKey + "/file")
	headers := map[string]string{"If-None-Match": "*"}

	resp, err := c.do(ctx, http.MethodPost, path, headers, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, fmt.Errorf("authorizing upload: %w", err)
	}

	var auth uploadAuthorization
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("decoding upload authorization: %w", err)
	}
	return &auth, nil
}

// uploadBytes sends prefix + file + suffix to the storage URL the
// authorize step handed back. The URL is absolute, outside the API host.
func (c *ZoteroClient) uploadBytes(ctx context.Context, auth *uploadAuthorization, data []byte) error {
	payload := make([]byte, 0, len(auth.Prefix)+len(data)+len(auth.Suffix))
	payload = append(payload, auth.Prefix...)
	payload = append(payload, data...)
	payload = append(payload, auth.Suffix...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", auth.ContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("storage upload failed: %s", resp.Status)
	}
	return nil
}

func (c *ZoteroClient) registerUpload(ctx context.Context, attachmentKey, uploadKey string) error {
	path := c.libraryPath("/items/" + attachmentKey + "/file")
	headers := map[string]string{"If-None-Match": "*"}
	form := url.Values{"upload": {uploadKey}}

	resp, err := c.do(ctx, http.MethodPost, path, headers, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return fmt.Errorf("registering upload: %w", err)
	}
	return nil
}

func (c *ZoteroClient) libraryPath(suffix string) string {
	prefix := "/users/"
	if c.libraryType == "group" {
		prefix = "/groups/"
	}
	return prefix + c.libraryID + suffix
}

func (c *ZoteroClient) do(ctx context.Context, method, path string, headers map[string]string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Zotero-API-Version", apiVersion)
	req.Header.Set("Zotero-API-Key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return c.client.Do(req)
}

// checkStatus turns error responses into errors, mapping 429 (and the
// equivalent 503 with Retry-After) to a RateLimitError.
func (c *ZoteroClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusServiceUnavailable && retryAfter > 0) {
		return &collection.RateLimitError{RetryAfter: retryAfter}
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := strings.TrimSpace(string(detail))
	if message == "" {
		return fmt.Errorf("mirror API error: %s", resp.Status)
	}
	return fmt.Errorf("mirror API error: %s: %s", resp.Status, message)
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
