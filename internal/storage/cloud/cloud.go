// Package cloud implements storage.Backend on an S3-compatible object
// store with path-style addressing and SigV4-signed requests.
package cloud

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/danieljhkim/gitback/internal/clock"
	"github.com/danieljhkim/gitback/internal/config"
	"github.com/danieljhkim/gitback/internal/credentials"
	"github.com/danieljhkim/gitback/internal/hash"
	"github.com/danieljhkim/gitback/internal/sigv4"
	"github.com/danieljhkim/gitback/internal/storage"
)

const headerStorageClass = "X-Amz-Storage-Class"

// archiveKey matches "<project>/<repo>.git.tar.gz" object keys.
var archiveKey = regexp.MustCompile(`^[^/]+/[^/]+\.git\.tar\.gz$`)

// AccountSource supplies the service-account key.
type AccountSource interface {
	CloudAccount() (*credentials.CloudAccount, error)
}

// Backend talks to the object store.
type Backend struct {
	endpoint     *url.URL
	region       string
	storageClass string
	accounts     AccountSource
	client       *http.Client
	limiter      storage.Limiter
	hasher       hash.Hasher
	clock        clock.Clock
	logger       *zap.Logger
}

var _ storage.Backend = (*Backend)(nil)

// Options carries the optional collaborators of New.
type Options struct {
	Client  *http.Client
	Limiter storage.Limiter
	Hasher  hash.Hasher
	Clock   clock.Clock
	Logger  *zap.Logger
}

// New creates a cloud Backend.
func New(cfg *config.Config, accounts AccountSource, opts Options) (*Backend, error) {
	endpoint, err := url.Parse(strings.TrimRight(cfg.Cloud.Endpoint, "/"))
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid cloud endpoint %q", cfg.Cloud.Endpoint)
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Limiter == nil {
		opts.Limiter = storage.NewStaticLimiter(0, 0)
	}
	if opts.Hasher == nil {
		opts.Hasher = hash.NewSHA256Hasher()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Backend{
		endpoint:     endpoint,
		region:       cfg.Cloud.Region,
		storageClass: cfg.Cloud.StorageClass,
		accounts:     accounts,
		client:       opts.Client,
		limiter:      opts.Limiter,
		hasher:       opts.Hasher,
		clock:        opts.Clock,
		logger:       opts.Logger.With(zap.String("backend", string(storage.KindCloud))),
	}, nil
}

// Name returns "cloud".
func (b *Backend) Name() string {
	return string(storage.KindCloud)
}

// SendArchive uploads the archive with a PUT whose payload hash is
// computed over the file before sending.
func (b *Backend) SendArchive(ctx context.Context, ref storage.RepoRef, localPath string) error {
	payloadHash, err := b.hasher.HashFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to hash archive: %w", err)
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
	return b.put(ctx, "upload archive", ref.Project+"/"+ref.ArchiveName(), b.limiter.Upstream(ctx, f), info.Size(), payloadHash)
}

// ReceiveArchive downloads the archive into localPath.
func (b *Backend) ReceiveArchive(ctx context.Context, ref storage.RepoRef, localPath string) error {
	body, err := b.get(ctx, "download archive", ref.Project+"/"+ref.ArchiveName(), nil)
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
	body := storage.FormatVersion(version)
	return b.put(ctx, "upload version", ref.Project+"/"+ref.VersionName(), bytes.NewReader(body), int64(len(body)), hash.SHA256Hex(body))
}

// ReceiveVersion downloads and parses the version counter.
func (b *Backend) ReceiveVersion(ctx context.Context, ref storage.RepoRef) (uint64, error) {
	body, err := b.get(ctx, "download version", ref.Project+"/"+ref.VersionName(), nil)
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

// listBucketResult is the ListObjects (v1) response.
type listBucketResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	IsTruncated bool     `xml:"IsTruncated"`
	NextMarker  string   `xml:"NextMarker"`
	Contents    []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

// errorResponse is the XML error document.
type errorResponse struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// ListRepositories walks the whole bucket with marker pagination and keeps
// keys shaped like "<project>/<repo>.git.tar.gz".
func (b *Backend) ListRepositories(ctx context.Context) (map[string][]string, error) {
	catalog := storage.Catalog{}
	marker := ""
	for {
		q := url.Values{}
		if marker != "" {
			q.Set("marker", marker)
		}
		page, err := b.listPage(ctx, q)
		if err != nil {
			return nil, err
		}

		for _, c := range page.Contents {
			if !archiveKey.MatchString(c.Key) {
				continue
			}
			project, name, _ := strings.Cut(c.Key, "/")
			catalog.AddArchive(project, name)
		}

		if !page.IsTruncated {
			return catalog.Sorted(), nil
		}
		next := page.NextMarker
		if next == "" && len(page.Contents) > 0 {
			next = page.Contents[len(page.Contents)-1].Key
		}
		if next == "" || next == marker {
			return nil, fmt.Errorf("list objects: truncated response without a usable marker")
		}
		marker = next
	}
}

func (b *Backend) listPage(ctx context.Context, q url.Values) (*listBucketResult, error) {
	body, err := b.get(ctx, "list objects", "", q)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = body.Close()
	}()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, storage.Transport("list objects", err)
	}
	var page listBucketResult
	if err := xml.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("list objects: malformed response: %w", err)
	}
	return &page, nil
}

func (b *Backend) signer() (*sigv4.Signer, string, error) {
	acc, err := b.accounts.CloudAccount()
	if err != nil {
		return nil, "", err
	}
	return &sigv4.Signer{
		Credentials: sigv4.Credentials{AccessKeyID: acc.AccessKeyID, SecretKey: acc.AccessKey},
		Region:      b.region,
		Service:     sigv4.ServiceS3,
		Clock:       b.clock,
	}, acc.Bucket, nil
}

func (b *Backend) objectURL(bucket, key string, q url.Values) *url.URL {
	u := *b.endpoint
	p := "/" + bucket
	if key != "" {
		p += "/" + key
	}
	u.Path = p
	u.RawPath = sigv4.EscapePath(p)
	u.RawQuery = q.Encode()
	return &u
}

func (b *Backend) put(ctx context.Context, op, key string, body io.Reader, size int64, payloadHash string) error {
	s, bucket, err := b.signer()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.objectURL(bucket, key, nil).String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.ContentLength = size
	signed := []string{}
	if b.storageClass != "" {
		req.Header.Set(headerStorageClass, b.storageClass)
		signed = append(signed, headerStorageClass)
	}
	if _, err := s.SignRequest(req, payloadHash, signed...); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return storage.Transport(op, err)
	}
	defer drain(resp)
	if err := checkResponse(op, resp); err != nil {
		return err
	}
	b.logger.Debug("uploaded", zap.String("key", key), zap.Int64("bytes", size))
	return nil
}

// get returns the body of a successful GET. The caller closes it.
func (b *Backend) get(ctx context.Context, op, key string, q url.Values) (io.ReadCloser, error) {
	s, bucket, err := b.signer()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(bucket, key, q).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := s.SignRequest(req, sigv4.EmptyPayloadHash); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, storage.Transport(op, err)
	}
	if err := checkResponse(op, resp); err != nil {
		drain(resp)
		return nil, err
	}
	return resp.Body, nil
}

// checkResponse turns a non-2xx response into a RemoteError, taking the
// code and message from the XML Error document when the body has one.
func checkResponse(op string, resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	re := &storage.RemoteError{Op: op, StatusCode: resp.StatusCode}
	var doc errorResponse
	if err := xml.Unmarshal(data, &doc); err == nil {
		re.Code = doc.Code
		re.Message = doc.Message
	} else {
		re.Message = strings.TrimSpace(string(data))
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", storage.ErrNotFound, re)
	}
	return re
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
