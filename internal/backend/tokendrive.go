package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultDriveAPIURL     = "https://api.dropboxapi.com"
	DefaultDriveContentURL = "https://content.dropboxapi.com"
	DefaultDriveRoot       = "/cryptovault"
	DefaultDriveTimeout    = 60 * time.Second
)

type TokenDriveOptions struct {
	AccessToken string
	Root        string // folder all keys live under
	APIURL      string
	ContentURL  string
	Timeout     time.Duration
}

// TokenDrive stores blobs in a cloud drive speaking the Dropbox v2 HTTP API,
// authenticated with a long-lived bearer token.
type TokenDrive struct {
	client     *http.Client
	apiURL     string
	contentURL string
	root       string
}

func NewTokenDrive(ctx context.Context, opts TokenDriveOptions) (*TokenDrive, error) {
	if opts.AccessToken == "" {
		return nil, fmt.Errorf("%w: access_token is required", ErrInvalidConfig)
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultDriveAPIURL
	}
	if opts.ContentURL == "" {
		opts.ContentURL = DefaultDriveContentURL
	}
	if opts.Root == "" {
		opts.Root = DefaultDriveRoot
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultDriveTimeout
	}

	root := "/" + strings.Trim(opts.Root, "/")
	if root == "/" {
		root = ""
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: opts.AccessToken,
		TokenType:   "Bearer",
	}))
	client.Timeout = opts.Timeout

	return &TokenDrive{
		client:     client,
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		contentURL: strings.TrimRight(opts.ContentURL, "/"),
		root:       root,
	}, nil
}

func (d *TokenDrive) path(key string) string {
	return d.root + "/" + key
}

// relative strips the root folder from a listed path. Dropbox paths are case
// insensitive and path_display may not keep the folder's stored casing.
func (d *TokenDrive) relative(display string) (string, bool) {
	prefix := d.root + "/"
	if len(display) <= len(prefix) || !strings.EqualFold(display[:len(prefix)], prefix) {
		return "", false
	}
	return display[len(prefix):], true
}

type driveArg struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
	Mute bool   `json:"mute,omitempty"`
}

type driveError struct {
	ErrorSummary string `json:"error_summary"`
}

type listFolderArg struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

type listContinueArg struct {
	Cursor string `json:"cursor"`
}

type listFolderResult struct {
	Entries []struct {
		Tag         string `json:".tag"`
		PathDisplay string `json:"path_display"`
	} `json:"entries"`
	Cursor  string `json:"cursor"`
	HasMore bool   `json:"has_more"`
}

// call performs one request. Content endpoints carry their argument in the
// Dropbox-API-Arg header, RPC endpoints in the JSON body.
func (d *TokenDrive) call(ctx context.Context, url string, headerArg any, body []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headerArg != nil {
		arg, err := json.Marshal(headerArg)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Dropbox-API-Arg", string(arg))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusOK {
		return data, nil
	}
	return nil, classifyDriveStatus(resp.StatusCode, data)
}

func classifyDriveStatus(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, status)
	case status == http.StatusConflict:
		var de driveError
		_ = json.Unmarshal(body, &de)
		if strings.Contains(de.ErrorSummary, "not_found") {
			return fmt.Errorf("%w: %s", ErrNotFound, de.ErrorSummary)
		}
		return fmt.Errorf("drive error: %s", de.ErrorSummary)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
	return fmt.Errorf("drive error: status %d: %s", status, strings.TrimSpace(string(body)))
}

func (d *TokenDrive) Put(ctx context.Context, key string, blob []byte) error {
	_, err := d.call(ctx, d.contentURL+"/2/files/upload",
		driveArg{Path: d.path(key), Mode: "overwrite", Mute: true},
		blob, "application/octet-stream")
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (d *TokenDrive) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := d.call(ctx, d.contentURL+"/2/files/download",
		driveArg{Path: d.path(key)}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

func (d *TokenDrive) Delete(ctx context.Context, key string) error {
	body, err := json.Marshal(driveArg{Path: d.path(key)})
	if err != nil {
		return err
	}
	_, err = d.call(ctx, d.apiURL+"/2/files/delete_v2", nil, body, "application/json")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListKeys lists every file under the root. A missing root folder is an
// empty drive.
func (d *TokenDrive) ListKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	url := d.apiURL + "/2/files/list_folder"
	body, err := json.Marshal(listFolderArg{Path: d.root, Recursive: true})
	if err != nil {
		return nil, err
	}
	for {
		data, err := d.call(ctx, url, nil, body, "application/json")
		if errors.Is(err, ErrNotFound) {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}

		var page listFolderResult
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("%w: decode list: %w", ErrUnavailable, err)
		}
		for _, e := range page.Entries {
			if e.Tag != "file" {
				continue
			}
			if key, ok := d.relative(e.PathDisplay); ok {
				keys[key] = struct{}{}
			}
		}

		if !page.HasMore {
			return keys, nil
		}
		url = d.apiURL + "/2/files/list_folder/continue"
		if body, err = json.Marshal(listContinueArg{Cursor: page.Cursor}); err != nil {
			return nil, err
		}
	}
}
