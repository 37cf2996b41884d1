package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDrive serves the subset of the Dropbox v2 API TokenDrive uses
type fakeDrive struct {
	mu       sync.Mutex
	files    map[string][]byte
	token    string
	pageSize int
	failNext int    // respond 503 to this many requests
	listRoot string // casing of the root folder in list results
}

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	t.Helper()
	fd := &fakeDrive{files: make(map[string][]byte), token: "good-token", pageSize: 2}
	srv := httptest.NewServer(fd)
	t.Cleanup(srv.Close)
	return fd, srv
}

func (fd *fakeDrive) conflict(w http.ResponseWriter, summary string) {
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]string{"error_summary": summary})
}

func (fd *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+fd.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if fd.failNext > 0 {
		fd.failNext--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var arg struct {
		Path   string `json:"path"`
		Cursor string `json:"cursor"`
	}

	switch r.URL.Path {
	case "/2/files/upload":
		_ = json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg)
		data, _ := io.ReadAll(r.Body)
		fd.files[arg.Path] = data
		_, _ = w.Write([]byte(`{}`))
	case "/2/files/download":
		_ = json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg)
		data, ok := fd.files[arg.Path]
		if !ok {
			fd.conflict(w, "path/not_found/..")
			return
		}
		_, _ = w.Write(data)
	case "/2/files/delete_v2":
		_ = json.NewDecoder(r.Body).Decode(&arg)
		if _, ok := fd.files[arg.Path]; !ok {
			fd.conflict(w, "path_lookup/not_found/..")
			return
		}
		delete(fd.files, arg.Path)
		_, _ = w.Write([]byte(`{}`))
	case "/2/files/list_folder", "/2/files/list_folder/continue":
		_ = json.NewDecoder(r.Body).Decode(&arg)
		var paths []string
		for p := range fd.files {
			paths = append(paths, p)
		}
		if len(paths) == 0 {
			fd.conflict(w, "path/not_found/")
			return
		}
		sort.Strings(paths)

		start := 0
		if arg.Cursor != "" {
			start = len(arg.Cursor)
		}
		end := min(start+fd.pageSize, len(paths))

		type entry struct {
			Tag         string `json:".tag"`
			PathDisplay string `json:"path_display"`
		}
		resp := struct {
			Entries []entry `json:"entries"`
			Cursor  string  `json:"cursor"`
			HasMore bool    `json:"has_more"`
		}{
			Cursor:  strings.Repeat("c", end),
			HasMore: end < len(paths),
		}
		if start == 0 {
			resp.Entries = append(resp.Entries, entry{Tag: "folder", PathDisplay: "/cryptovault/blobs"})
		}
		for _, p := range paths[start:end] {
			if fd.listRoot != "" {
				p = fd.listRoot + p[len(fd.listRoot):]
			}
			resp.Entries = append(resp.Entries, entry{Tag: "file", PathDisplay: p})
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestDrive(t *testing.T, srv *httptest.Server, token string) *TokenDrive {
	t.Helper()
	d, err := NewTokenDrive(context.Background(), TokenDriveOptions{
		AccessToken: token,
		APIURL:      srv.URL,
		ContentURL:  srv.URL,
	})
	require.NoError(t, err)
	return d
}

func TestTokenDriveRoundTrip(t *testing.T) {
	ctx := context.Background()
	fd, srv := newFakeDrive(t)
	d := newTestDrive(t, srv, "good-token")

	keys, err := d.ListKeys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys, "missing root folder lists as empty")

	for _, k := range []string{"manifest.json", "blobs/a.1", "blobs/b.2", "conflicts/a.0"} {
		require.NoError(t, d.Put(ctx, k, []byte("data-"+k)))
	}
	require.Contains(t, fd.files, "/cryptovault/blobs/a.1")

	data, err := d.Get(ctx, "blobs/b.2")
	require.NoError(t, err)
	require.Equal(t, "data-blobs/b.2", string(data))

	keys, err = d.ListKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{
		"manifest.json": {}, "blobs/a.1": {}, "blobs/b.2": {}, "conflicts/a.0": {},
	}, keys)

	require.NoError(t, d.Delete(ctx, "blobs/a.1"))
	require.NoError(t, d.Delete(ctx, "blobs/a.1"), "deleting a missing key is not an error")

	_, err = d.Get(ctx, "blobs/a.1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTokenDriveListIgnoresRootCase(t *testing.T) {
	ctx := context.Background()
	fd, srv := newFakeDrive(t)
	d := newTestDrive(t, srv, "good-token")

	for _, k := range []string{"manifest.json", "blobs/Ab.1"} {
		require.NoError(t, d.Put(ctx, k, []byte(k)))
	}
	fd.listRoot = "/CryptoVault"

	keys, err := d.ListKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"manifest.json": {}, "blobs/Ab.1": {}}, keys)
}

func TestTokenDriveRelative(t *testing.T) {
	d := &TokenDrive{root: "/cryptovault"}

	tests := []struct {
		display string
		want    string
		ok      bool
	}{
		{"/cryptovault/blobs/a.1", "blobs/a.1", true},
		{"/CRYPTOVAULT/manifest.json", "manifest.json", true},
		{"/cryptovault/", "", false},
		{"/cryptovault", "", false},
		{"/other/blobs/a.1", "", false},
		{"/cryptovault-old/a", "", false},
	}
	for _, tt := range tests {
		got, ok := d.relative(tt.display)
		require.Equal(t, tt.ok, ok, tt.display)
		require.Equal(t, tt.want, got, tt.display)
	}
}

func TestTokenDriveErrorMapping(t *testing.T) {
	ctx := context.Background()
	fd, srv := newFakeDrive(t)

	bad := newTestDrive(t, srv, "revoked")
	err := bad.Put(ctx, "x", []byte("x"))
	require.ErrorIs(t, err, ErrAuth)

	good := newTestDrive(t, srv, "good-token")
	fd.failNext = 1
	_, err = good.ListKeys(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	srv.Close()
	_, err = good.Get(ctx, "x")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClassifyDriveStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, "", ErrAuth},
		{http.StatusForbidden, "", ErrAuth},
		{http.StatusTooManyRequests, "", ErrUnavailable},
		{http.StatusInternalServerError, "", ErrUnavailable},
		{http.StatusBadGateway, "", ErrUnavailable},
		{http.StatusConflict, `{"error_summary":"path/not_found/."}`, ErrNotFound},
	}

	for _, tt := range tests {
		err := classifyDriveStatus(tt.status, []byte(tt.body))
		require.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}

	err := classifyDriveStatus(http.StatusBadRequest, []byte("bad arg"))
	require.NotErrorIs(t, err, ErrUnavailable)
	require.NotErrorIs(t, err, ErrAuth)
}
