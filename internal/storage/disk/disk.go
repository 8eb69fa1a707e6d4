// Package disk implements storage.Backend on the token-authenticated disk
// REST API.
//
// Every transfer is two requests: one to the API for a short-lived href,
// then a plain PUT or GET against that href. The API authenticates with an
// "OAuth <token>" header; the href does not need it.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danieljhkim/gitback/internal/config"
	"github.com/danieljhkim/gitback/internal/storage"
)

// listConcurrency bounds parallel per-project listings.
const listConcurrency = 4

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Backend talks to the disk API.
type Backend struct {
	apiURL   string
	root     string
	pageSize int
	tokens   TokenSource
	client   *http.Client
	limiter  storage.Limiter
	logger   *zap.Logger
}

var _ storage.Backend = (*Backend)(nil)

// New creates a disk Backend. client may be nil.
func New(cfg *config.Config, tokens TokenSource, client *http.Client, limiter storage.Limiter, logger *zap.Logger) *Backend {
	if client == nil {
		client = http.DefaultClient
	}
	if limiter == nil {
		limiter = storage.NewStaticLimiter(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Redirects from the download href are followed by hand, once.
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Backend{
		apiURL:   strings.TrimRight(cfg.Disk.APIURL, "/"),
		root:     "/" + strings.Trim(cfg.ServerRoot, "/"),
		pageSize: cfg.Disk.PageSize,
		tokens:   tokens,
		client:   &noRedirect,
		limiter:  limiter,
		logger:   logger.With(zap.String("backend", string(storage.KindDisk))),
	}
}

// Name returns "disk".
func (b *Backend) Name() string {
	return string(storage.KindDisk)
}

func (b *Backend) projectPath(project string) string {
	return path.Join(b.root, project)
}

func (b *Backend) filePath(project, name string) string {
	return path.Join(b.root, project, name)
}

// SendArchive creates the project folder and uploads the archive.
func (b *Backend) SendArchive(ctx context.Context, ref storage.RepoRef, localPath string) error {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if err := b.ensureFolder(ctx, token, b.root); err != nil {
		return err
	}
	if err := b.ensureFolder(ctx, token, b.projectPath(ref.Project)); err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	return b.upload(ctx, token, b.filePath(ref.Project, ref.ArchiveName()), b.limiter.Upstream(ctx, f), info.Size())
}

// ReceiveArchive downloads the archive into localPath.
func (b *Backend) ReceiveArchive(ctx context.Context, ref storage.RepoRef, localPath string) error {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return err
	}
	body, err := b.download(ctx, token, b.filePath(ref.Project, ref.ArchiveName()))
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := io.Copy(f, b.limiter.Downstream(ctx, body)); err != nil {
		_ = f.Close()
		return storage.Transport("download archive", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	return nil
}

// SendVersion uploads the version counter.
func (b *Backend) SendVersion(ctx context.Context, ref storage.RepoRef, version uint64) error {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if err := b.ensureFolder(ctx, token, b.projectPath(ref.Project)); err != nil {
		return err
	}
	body := storage.FormatVersion(version)
	return b.upload(ctx, token, b.filePath(ref.Project, ref.VersionName()), strings.NewReader(string(body)), int64(len(body)))
}

// ReceiveVersion downloads and parses the version counter.
func (b *Backend) ReceiveVersion(ctx context.Context, ref storage.RepoRef) (uint64, error) {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}
	body, err := b.download(ctx, token, b.filePath(ref.Project, ref.VersionName()))
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(body, 64))
	if err != nil {
		return 0, storage.Transport("download version", err)
	}
	return storage.ParseVersion(data)
}

// ListRepositories lists project folders under the root, then the archives
// inside each project concurrently. A project whose listing fails is logged
// and left out.
func (b *Backend) ListRepositories(ctx context.Context) (map[string][]string, error) {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	projects, err := b.listNames(ctx, token, b.root, "dir")
	if errors.Is(err, storage.ErrNotFound) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var (
		mu      sync.Mutex
		catalog = storage.Catalog{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for _, project := range projects {
		g.Go(func() error {
			files, err := b.listNames(gctx, token, b.projectPath(project), "file")
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.logger.Warn("skipping project", zap.String("project", project), zap.Error(err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, name := range files {
				catalog.AddArchive(project, name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return catalog.Sorted(), nil
}

// resourceList is the subset of the resource metadata requested via fields.
type resourceList struct {
	Embedded struct {
		Items []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"items"`
		Total int `json:"total"`
	} `json:"_embedded"`
}

type link struct {
	Href string `json:"href"`
}

type apiError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

// listNames pages through a folder and returns the names of items of kind.
func (b *Backend) listNames(ctx context.Context, token, folder, kind string) ([]string, error) {
	var names []string
	for offset := 0; ; offset += b.pageSize {
		q := url.Values{}
		q.Set("path", folder)
		q.Set("fields", "_embedded.items.name,_embedded.items.type,_embedded.total")
		q.Set("offset", fmt.Sprint(offset))
		q.Set("limit", fmt.Sprint(b.pageSize))

		var page resourceList
		if err := b.api(ctx, token, http.MethodGet, "/resources", q, "list "+folder, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Embedded.Items {
			if item.Type == kind {
				names = append(names, item.Name)
			}
		}
		if page.Embedded.Total <= offset+b.pageSize {
			return names, nil
		}
	}
}

// ensureFolder creates folder; an existing folder is success.
func (b *Backend) ensureFolder(ctx context.Context, token, folder string) error {
	q := url.Values{}
	q.Set("path", folder)
	err := b.api(ctx, token, http.MethodPut, "/resources", q, "create folder "+folder, nil)
	var re *storage.RemoteError
	if errors.As(err, &re) && re.StatusCode == http.StatusConflict {
		return nil
	}
	return err
}

func (b *Backend) upload(ctx context.Context, token, remotePath string, body io.Reader, size int64) error {
	q := url.Values{}
	q.Set("path", remotePath)
	q.Set("overwrite", "true")
	var l link
	if err := b.api(ctx, token, http.MethodGet, "/resources/upload", q, "request upload link", &l); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, l.Href, body)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = size
	resp, err := b.client.Do(req)
	if err != nil {
		return storage.Transport("upload "+remotePath, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return remoteError("upload "+remotePath, resp)
	}
	b.logger.Debug("uploaded", zap.String("path", remotePath), zap.Int64("bytes", size))
	return nil
}

// download returns the body of remotePath. The caller closes it.
func (b *Backend) download(ctx context.Context, token, remotePath string) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("path", remotePath)
	var l link
	if err := b.api(ctx, token, http.MethodGet, "/resources/download", q, "request download link", &l); err != nil {
		return nil, err
	}

	href := l.Href
	for redirects := 0; ; redirects++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build download request: %w", err)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, storage.Transport("download "+remotePath, err)
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return resp.Body, nil
		case resp.StatusCode == http.StatusFound && redirects == 0:
			href = resp.Header.Get("Location")
			drain(resp)
			if href == "" {
				return nil, &storage.RemoteError{Op: "download " + remotePath, StatusCode: http.StatusFound, Message: "redirect without location"}
			}
		default:
			defer drain(resp)
			return nil, remoteError("download "+remotePath, resp)
		}
	}
}

// api performs an authorized API call and decodes a JSON body into out.
func (b *Backend) api(ctx context.Context, token, method, endpoint string, q url.Values, op string, out any) error {
	u := b.apiURL + endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return storage.Transport(op, err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: malformed response: %w", op, err)
	}
	return nil
}

func remoteError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	msg := ae.Message
	if msg == "" {
		msg = ae.Description
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	re := &storage.RemoteError{Op: op, StatusCode: resp.StatusCode, Code: ae.Error, Message: msg}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", storage.ErrNotFound, re)
	}
	return re
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
