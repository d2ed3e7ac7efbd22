// Package client provides a Go client for the comments API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alphabot-ai/threadline/internal/model"

	"github.com/google/uuid"
)

// Client is a comments API client. It holds no session state: every
// authenticated call takes the bearer token explicitly.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a new client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned for any non-success response.
type APIError struct {
	StatusCode int
	Detail     string
	fallback   string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.fallback
}

// HTTPStatus exposes the response code to callers that classify errors
// without importing this package.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// IsAPIStatus reports whether err is an APIError with one of the given codes.
func IsAPIStatus(err error, codes ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.StatusCode == code {
			return true
		}
	}
	return false
}

// ObtainTokens exchanges credentials for a token pair.
func (c *Client) ObtainTokens(ctx context.Context, creds model.Credentials) (model.TokenPair, error) {
	var pair model.TokenPair
	if err := c.call(ctx, http.MethodPost, "/api/token/", "", creds, &pair, "Invalid credentials"); err != nil {
		return model.TokenPair{}, err
	}
	return pair, nil
}

// RefreshTokens mints a new access token. Refresh is empty in the result
// unless the server rotated it.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	reqBody := map[string]string{"refresh": refreshToken}
	var pair model.TokenPair
	if err := c.call(ctx, http.MethodPost, "/api/token/refresh/", "", reqBody, &pair, "Failed to refresh token"); err != nil {
		return model.TokenPair{}, err
	}
	return pair, nil
}

// CurrentUser fetches the profile the access token belongs to.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (model.User, error) {
	var user model.User
	if err := c.call(ctx, http.MethodGet, "/api/user/me/", accessToken, nil, &user, "Failed to fetch user data"); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, reg model.Registration) (model.User, error) {
	var user model.User
	if err := c.call(ctx, http.MethodPost, "/api/register/", "", reg, &user, "Registration failed"); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// GetComment fetches a comment with its nested replies.
func (c *Client) GetComment(ctx context.Context, id int64) (*model.Comment, error) {
	var comment model.Comment
	path := fmt.Sprintf("/api/comments/%d/", id)
	if err := c.call(ctx, http.MethodGet, path, "", nil, &comment, "Failed to fetch comment detail"); err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListComments fetches one page of top-level comments.
func (c *Client) ListComments(ctx context.Context, opts model.CommentListOpts) (model.CommentPage, error) {
	q := url.Values{}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page))
	ordering := opts.Ordering
	if ordering == "" {
		ordering = "-created_at"
	}
	q.Set("ordering", ordering)
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}

	var result model.CommentPage
	if err := c.call(ctx, http.MethodGet, "/api/comments/?"+q.Encode(), "", nil, &result, "Failed to fetch comments"); err != nil {
		return model.CommentPage{}, err
	}
	return result, nil
}

// PostComment creates a comment, or a reply when parentID is set. Files are
// uploaded as attachments.
func (c *Client) PostComment(ctx context.Context, accessToken, text string, parentID *int64, files []string) (*model.Comment, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("text", text); err != nil {
		return nil, err
	}
	if parentID != nil {
		if err := w.WriteField("reply", strconv.FormatInt(*parentID, 10)); err != nil {
			return nil, err
		}
	}
	for _, path := range files {
		if err := attachFile(w, path); err != nil {
			return nil, fmt.Errorf("attach %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/comments/", accessToken, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var comment model.Comment
	if err := c.do(req, &comment, "Failed to post comment"); err != nil {
		return nil, err
	}
	return &comment, nil
}

// PreviewText returns the text as the server would sanitize it.
func (c *Client) PreviewText(ctx context.Context, text string) (string, error) {
	reqBody := map[string]string{"text": text}
	var result struct {
		Text string `json:"text"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/comments/preview/", "", reqBody, &result, "Failed to preview text"); err != nil {
		return "", err
	}
	return result.Text, nil
}

func attachFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("attachments", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// call performs a JSON request and decodes a JSON response into out.
func (c *Client) call(ctx context.Context, method, path, accessToken string, body, out any, fallback string) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := c.newRequest(ctx, method, path, accessToken, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out, fallback)
}

func (c *Client) newRequest(ctx context.Context, method, path, accessToken string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any, fallback string) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", fallback, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Detail: detailFrom(respBody), fallback: fallback}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func detailFrom(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Detail
}
