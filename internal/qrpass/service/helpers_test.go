package service_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/qrpass/internal/logging"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/actuator"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/artifact"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/codec"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/service"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeActuator struct {
	mu   sync.Mutex
	cmds []actuator.Command
	err  error
}

func (f *fakeActuator) Send(_ context.Context, cmd actuator.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func (f *fakeActuator) Commands() []actuator.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]actuator.Command(nil), f.cmds...)
}

type harness struct {
	pipeline  *service.Pipeline
	creds     *service.CredentialService
	mem       *memory.Store
	events    *memory.AccessEventStore
	artifacts *artifact.Lifecycle
	codec     *codec.Codec
	clk       *clock
	act       service.Actuator
	dir       string
}

type harnessOpts struct {
	cfg      service.PipelineConfig
	generate service.PayloadGenerator
	actuator service.Actuator
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	mem := memory.New()
	for _, login := range []string{"alice", "bob"} {
		if err := mem.CreateUser(context.Background(), store.UserRecord{Login: login}); err != nil {
			t.Fatalf("create user %s: %v", login, err)
		}
	}

	dir := t.TempDir()
	logger := logging.Discard()
	lc, err := artifact.New(dir, logger, artifact.Options{})
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	t.Cleanup(func() { lc.Flush() })

	clk := newClock()
	creds := service.NewCredentialService(mem, service.CredentialConfig{
		Generate: opts.generate,
		Now:      clk.Now,
	}, logger, nil)

	act := opts.actuator
	if act == nil {
		act = &fakeActuator{}
	}
	events := memory.NewAccessEventStore()
	c := codec.New(codec.Options{})

	p := service.NewPipeline(service.PipelineDeps{
		Credentials: creds,
		Evaluator:   service.NewEvaluator(mem, clk.Now),
		Codec:       c,
		Artifacts:   lc,
		Actuator:    act,
		Events:      events,
		Logger:      logger,
	}, opts.cfg)

	return &harness{
		pipeline:  p,
		creds:     creds,
		mem:       mem,
		events:    events,
		artifacts: lc,
		codec:     c,
		clk:       clk,
		act:       act,
		dir:       dir,
	}
}

func (h *harness) fake() *fakeActuator { return h.act.(*fakeActuator) }

// captured lists the visible files under the captured directory.
func (h *harness) captured(t *testing.T) []string {
	t.Helper()
	return h.files(t, artifact.KindCaptured)
}

func (h *harness) generated(t *testing.T) []string {
	t.Helper()
	return h.files(t, artifact.KindGenerated)
}

func (h *harness) files(t *testing.T, kind artifact.Kind) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.dir, string(kind)))
	if err != nil {
		t.Fatalf("read %s dir: %v", kind, err)
	}
	var names []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names
}

func readArtifact(t *testing.T, a artifact.Artifact) []byte {
	t.Helper()
	b, err := os.ReadFile(a.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	return b
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(100, 100, color.Black)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode blank png: %v", err)
	}
	return buf.Bytes()
}

// sequence returns the given payloads in order, then fails the test.
func sequence(t *testing.T, payloads ...string) service.PayloadGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(payloads) {
			t.Errorf("generator exhausted after %d payloads", len(payloads))
			return "", os.ErrInvalid
		}
		p := payloads[i]
		i++
		return p, nil
	}
}

// oversizedPNG is a tiny file whose header declares a 20000x20000 canvas.
func oversizedPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[16:20], 20000)
	binary.BigEndian.PutUint32(b[20:24], 20000)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))
	return b
}
