package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danieljhkim/gitback/internal/archive"
	"github.com/danieljhkim/gitback/internal/clock"
	"github.com/danieljhkim/gitback/internal/config"
	"github.com/danieljhkim/gitback/internal/credentials"
	"github.com/danieljhkim/gitback/internal/fsops"
	"github.com/danieljhkim/gitback/internal/gitx"
	"github.com/danieljhkim/gitback/internal/hash"
	"github.com/danieljhkim/gitback/internal/logging"
	"github.com/danieljhkim/gitback/internal/oauth"
	"github.com/danieljhkim/gitback/internal/storage"
	"github.com/danieljhkim/gitback/internal/storage/cloud"
	"github.com/danieljhkim/gitback/internal/storage/disk"
	"github.com/danieljhkim/gitback/internal/sync"
)

// app holds everything one invocation needs. It is built from the resolved
// configuration and closed when the command returns.
type app struct {
	paths    *config.Paths
	cfg      *config.Config
	fs       fsops.FS
	creds    *credentials.Store
	clock    clock.Clock
	logger   *zap.Logger
	closeLog func() error
}

// Test hooks.
var (
	backendFactory              = newBackend
	mirrorFactory               = func() gitx.MirrorManager { return gitx.NewRealMirrorManager() }
	browserOpener  oauth.Opener = oauth.BrowserOpener{}
)

// newApp resolves paths and configuration (defaults, config.json, flags)
// and opens the log.
func newApp(cmd *cobra.Command) (*app, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	cfg, err := config.Load(paths)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyFlags(cfg, cmd.Flags()); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Path:    paths.Log,
		Verbose: verbose,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("command started", zap.String("command", cmd.CommandPath()), zap.String("backend", cfg.Backend))

	fs := fsops.NewRealFS()
	return &app{
		paths:    paths,
		cfg:      cfg,
		fs:       fs,
		creds:    credentials.NewStore(fs, paths.Credentials),
		clock:    clock.RealClock{},
		logger:   logger,
		closeLog: closeLog,
	}, nil
}

func (a *app) Close() {
	_ = a.closeLog()
}

// newContext returns a context canceled on SIGINT/SIGTERM and after the
// configured timeout.
func (a *app) newContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if a.cfg.Timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (a *app) oauthManager() *oauth.Manager {
	return oauth.NewManager(a.cfg.OAuth, a.creds, browserOpener, a.clock, http.DefaultClient, a.logger)
}

// newBackend creates the storage backend of the given kind.
func newBackend(a *app, kind storage.Kind) (storage.Backend, error) {
	limiter := storage.NewStaticLimiter(a.cfg.UploadLimitKiB, a.cfg.DownloadLimitKiB)

	switch kind {
	case storage.KindDisk:
		return disk.New(a.cfg, a.oauthManager(), http.DefaultClient, limiter, a.logger), nil
	case storage.KindCloud:
		return cloud.New(a.cfg, a.creds, cloud.Options{
			Client:  http.DefaultClient,
			Limiter: limiter,
			Hasher:  hash.NewSHA256Hasher(),
			Clock:   a.clock,
			Logger:  a.logger,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// configuredBackend creates the backend selected by --backend or config.json.
func (a *app) configuredBackend() (storage.Backend, error) {
	kind, err := storage.ParseKind(a.cfg.Backend)
	if err != nil {
		return nil, err
	}
	return backendFactory(a, kind)
}

// newSyncer creates a Syncer over backend with real implementations of all
// other dependencies.
func (a *app) newSyncer(backend storage.Backend) *sync.Syncer {
	return sync.New(
		backend,
		mirrorFactory(),
		archive.TarGz{},
		archive.NewCrypter(a.creds, a.fs),
		sync.NewVersionStore(a.fs, a.paths),
		a.fs,
		a.paths,
		a.logger,
	)
}

// resolveRef returns the repository named by args[0] ("project/repo"), or
// the one containing the current directory. workingDir is empty when an
// explicit repository was given.
func resolveRef(args []string) (ref storage.RepoRef, workingDir string, err error) {
	if len(args) > 0 {
		ref, err = storage.ParseRepoRef(args[0])
		return ref, "", err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return storage.RepoRef{}, "", fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := mirrorFactory().Discover(cwd)
	if err != nil {
		return storage.RepoRef{}, "", err
	}
	ref, err = sync.RefForWorkingDir(root)
	if err != nil {
		return storage.RepoRef{}, "", err
	}
	return ref, root, nil
}

// FormatError formats an error for display, adding a hint for the errors a
// user can act on.
func FormatError(err error) string {
	msg := errorColor.Sprintf("Error: %v", err)

	var hint string
	switch {
	case errors.Is(err, oauth.ErrAuthorizationRequired):
		hint = "Sign in in the browser, then run: gitback token <redirect-uri>"
	case errors.Is(err, sync.ErrVersionConflict):
		hint = "Run gitback pull first to get the newer version."
	case errors.Is(err, credentials.ErrCredentialMissing):
		hint = "Set credentials with: gitback credentials app|cloud"
	}
	if hint != "" {
		msg += "\n" + dimColor.Sprint(hint)
	}
	return msg
}

// outputJSON writes a value as JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
