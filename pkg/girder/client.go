package girder

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/dandiarchive/dandipub/dpapi"
)

// TokenHeader carries the girder session token.
const TokenHeader = "Girder-Token"

// maxDiagnosticBody bounds how much of a non-JSON body is kept in errors.
const maxDiagnosticBody = 512

// Client reads folders, items and files from a girder instance.
// It never retries; a failed request aborts the caller's operation.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// NewClient returns a client for the API rooted at baseURL, which must end in a slash.
// An empty token sends unauthenticated requests.
//
// Errors:
//
//   - dandi-error-config -- when baseURL does not parse
func NewClient(baseURL string, token string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" {
		return nil, dpapi.ErrorConfig("girder.api_url", "not an absolute URL: "+baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: u, token: token, http: httpClient}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Authorize adds the session token to req, if the client has one.
func (c *Client) Authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
}

// WithToken returns a copy of c that sends token instead.
// An empty token keeps the current one.
func (c *Client) WithToken(token string) *Client {
	if token == "" {
		return c
	}
	cp := *c
	cp.token = token
	return &cp
}

// HTTPClient returns the client used for requests, for callers that stream downloads.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// getJSON fetches an endpoint and decodes its body into v.
//
// Errors:
//
//   - dandi-error-source-unavailable -- on transport errors, non-200 status, or a non-JSON body
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	endpoint := c.endpoint(path, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return dpapi.ErrorSourceRequest(endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	c.Authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return dpapi.ErrorSourceRequest(endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return dpapi.ErrorSourceStatus(endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dpapi.ErrorSourceRequest(endpoint, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		if len(body) > maxDiagnosticBody {
			body = body[:maxDiagnosticBody]
		}
		return dpapi.ErrorSourceBody(endpoint, body)
	}
	return nil
}

// GetFolder returns one folder with its metadata.
//
// Errors:
//
//   - dandi-error-source-unavailable -- see getJSON
func (c *Client) GetFolder(ctx context.Context, id string) (dpapi.RemoteFolder, error) {
	var f dpapi.RemoteFolder
	err := c.getJSON(ctx, "folder/"+url.PathEscape(id), nil, &f)
	return f, err
}

// ListFolders returns the child folders of a folder.
//
// Errors:
//
//   - dandi-error-source-unavailable -- see getJSON
func (c *Client) ListFolders(ctx context.Context, parentID string) ([]dpapi.RemoteFolder, error) {
	var fs []dpapi.RemoteFolder
	err := c.getJSON(ctx, "folder", url.Values{
		"parentId":   {parentID},
		"parentType": {"folder"},
		"limit":      {"0"},
	}, &fs)
	return fs, err
}

// ListItems returns the items directly inside a folder.
//
// Errors:
//
//   - dandi-error-source-unavailable -- see getJSON
func (c *Client) ListItems(ctx context.Context, folderID string) ([]dpapi.RemoteItem, error) {
	var items []dpapi.RemoteItem
	err := c.getJSON(ctx, "item", url.Values{
		"folderId": {folderID},
		"limit":    {"0"},
	}, &items)
	return items, err
}

// ItemFile returns the single file attached to an item, carrying the item's metadata.
//
// Errors:
//
//   - dandi-error-source-unavailable -- see getJSON
//   - dandi-error-cardinality-violation -- when the item has zero or several files
func (c *Client) ItemFile(ctx context.Context, item dpapi.RemoteItem) (dpapi.RemoteFile, error) {
	var files []dpapi.RemoteFile
	if err := c.getJSON(ctx, "item/"+url.PathEscape(item.ID)+"/files", nil, &files); err != nil {
		return dpapi.RemoteFile{}, err
	}
	if len(files) != 1 {
		return dpapi.RemoteFile{}, dpapi.ErrorCardinality(item.ID, len(files))
	}
	f := files[0]
	f.URL = c.DownloadURL(f.ID)
	f.Meta = item.Meta
	return f, nil
}

// DownloadURL is where the content of a file can be fetched.
func (c *Client) DownloadURL(fileID string) string {
	return c.endpoint("file/"+url.PathEscape(fileID)+"/download", nil)
}
