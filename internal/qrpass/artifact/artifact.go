// Package artifact owns the transient image files: generated QR codes handed
// to users and captured photos submitted by cameras.  Nothing else deletes
// them.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

type Kind string

const (
	KindGenerated Kind = "generated"
	KindCaptured  Kind = "captured"
)

// Delete reasons, reported to the OnDelete hook.
const (
	ReasonDeferred  = "deferred"
	ReasonSweep     = "sweep"
	ReasonNoPayload = "no_payload"
	ReasonShutdown  = "shutdown"

	// ReasonAborted is an image written for a payload that was never bound.
	ReasonAborted = "aborted"
)

var ErrInvalidName = errors.New("invalid artifact name")

// Artifact is a handle to one stored image.
type Artifact struct {
	Name      string // uuid plus extension, unique across kinds
	Kind      Kind
	Path      string
	CreatedAt time.Time
}

type Options struct {
	// OnDelete, when set, is called after every successful removal.
	OnDelete func(kind Kind, reason string)
	// Now overrides the clock used for CreatedAt and sweep ages.
	Now func() time.Time
}

type Lifecycle struct {
	root     string
	logger   *log.Logger
	onDelete func(Kind, string)
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingDelete
}

type pendingDelete struct {
	timer *time.Timer
	a     Artifact
}

// New prepares root/generated and root/captured.
func New(root string, logger *log.Logger, opt Options) (*Lifecycle, error) {
	for _, k := range []Kind{KindGenerated, KindCaptured} {
		if err := os.MkdirAll(filepath.Join(root, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s dir: %w", k, err)
		}
	}
	now := opt.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Lifecycle{
		root:     root,
		logger:   logger,
		onDelete: opt.OnDelete,
		now:      now,
		pending:  make(map[string]*pendingDelete),
	}, nil
}

func (l *Lifecycle) CreateCaptured(data []byte) (Artifact, error) {
	return l.create(KindCaptured, data)
}

func (l *Lifecycle) CreateGenerated(data []byte) (Artifact, error) {
	return l.create(KindGenerated, data)
}

// create writes data under a fresh uuid name.  The file is written to a
// dot-prefixed temp name and renamed, so a concurrent sweep never sees a
// partial image.
func (l *Lifecycle) create(kind Kind, data []byte) (Artifact, error) {
	dir := filepath.Join(l.root, string(kind))
	name := uuid.NewString() + extensionFor(data)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create %s artifact: %w", kind, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Artifact{}, fmt.Errorf("write %s artifact: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Artifact{}, fmt.Errorf("close %s artifact: %w", kind, err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Artifact{}, fmt.Errorf("publish %s artifact: %w", kind, err)
	}

	return Artifact{Name: name, Kind: kind, Path: path, CreatedAt: l.now()}, nil
}

// Open returns the artifact's bytes for reading.
func (l *Lifecycle) Open(a Artifact) (*os.File, error) {
	return os.Open(a.Path)
}

// Resolve maps a public name back to a handle.  Only names this package
// could have produced are accepted.
func (l *Lifecycle) Resolve(kind Kind, name string) (Artifact, error) {
	stem, _, _ := strings.Cut(name, ".")
	if _, err := uuid.Parse(stem); err != nil || name != filepath.Base(name) {
		return Artifact{}, ErrInvalidName
	}
	path := filepath.Join(l.root, string(kind), name)
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Name: name, Kind: kind, Path: path, CreatedAt: info.ModTime().UTC()}, nil
}

// DeleteNow removes the artifact immediately.  Missing files and removal
// errors are logged, never returned.
func (l *Lifecycle) DeleteNow(a Artifact, reason string) bool {
	l.mu.Lock()
	if p, ok := l.pending[a.Path]; ok {
		p.timer.Stop()
		delete(l.pending, a.Path)
	}
	l.mu.Unlock()

	return l.remove(a, reason)
}

// ScheduleDeferredDelete removes a after delay.  The timer belongs to the
// Lifecycle, not to the caller, so it outlives the request that scheduled it.
func (l *Lifecycle) ScheduleDeferredDelete(a Artifact, delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.pending[a.Path]; ok {
		p.timer.Stop()
	}
	l.pending[a.Path] = &pendingDelete{
		a: a,
		timer: time.AfterFunc(delay, func() {
			l.mu.Lock()
			delete(l.pending, a.Path)
			l.mu.Unlock()
			l.remove(a, ReasonDeferred)
		}),
	}
}

// Pending reports how many deferred deletions are scheduled.
func (l *Lifecycle) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush runs every scheduled deletion now.  Called on shutdown so generated
// codes do not outlive the process.
func (l *Lifecycle) Flush() int {
	l.mu.Lock()
	var due []Artifact
	for path, p := range l.pending {
		if p.timer.Stop() {
			due = append(due, p.a)
		}
		delete(l.pending, path)
	}
	l.mu.Unlock()

	n := 0
	for _, a := range due {
		if l.remove(a, ReasonShutdown) {
			n++
		}
	}
	return n
}

// Sweep deletes every captured artifact whose modification time is older
// than maxAge.  It may race with DeleteNow or a deferred delete; whoever
// gets there first removes the file and the other is a no-op.
func (l *Lifecycle) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	dir := filepath.Join(l.root, string(KindCaptured))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("sweep read dir: %w", err)
	}

	cutoff := l.now().Add(-maxAge)
	deleted := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		a := Artifact{
			Name:      e.Name(),
			Kind:      KindCaptured,
			Path:      filepath.Join(dir, e.Name()),
			CreatedAt: info.ModTime().UTC(),
		}
		if l.remove(a, ReasonSweep) {
			deleted++
		}
	}
	return deleted, nil
}

func (l *Lifecycle) remove(a Artifact, reason string) bool {
	err := os.Remove(a.Path)
	switch {
	case err == nil:
		l.logger.Debug("artifact deleted", "kind", a.Kind, "name", a.Name, "reason", reason)
		if l.onDelete != nil {
			l.onDelete(a.Kind, reason)
		}
		return true
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Debug("artifact already gone", "kind", a.Kind, "name", a.Name, "reason", reason)
	default:
		l.logger.Warn("artifact delete failed", "kind", a.Kind, "name", a.Name, "reason", reason, "err", err)
	}
	return false
}

func extensionFor(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}
