package snipvec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/snipvec/snipvec/blobstore"
	"github.com/snipvec/snipvec/persistence"
)

// CurrentMarker is the blob naming the latest complete mirror generation.
// Readers resolve it first, so a half-uploaded generation is invisible.
const CurrentMarker = "CURRENT"

// mirrorBurst caps a single limiter reservation. Uploads read in chunks no
// larger than this so WaitN never exceeds the limiter's burst.
const mirrorBurst = 256 * 1024

func newMirrorLimiter(bytesPerSecond float64) *rate.Limiter {
	burst := mirrorBurst
	if bytesPerSecond < float64(burst) {
		burst = int(bytesPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// mirrorSnapshot uploads the snapshot pair just written to disk under a
// fresh generation prefix, then flips the CURRENT marker. Failures are
// logged and swallowed: the local snapshot is the source of truth and the
// next persist retries with a newer generation. Caller holds mu.
func (s *Store) mirrorSnapshot(ctx context.Context) {
	generation := uint64(time.Now().UnixNano())
	prefix := fmt.Sprintf("gen-%d", generation)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range []string{VectorsFile, MetadataFile} {
		g.Go(func() error {
			return s.uploadArtifact(gctx, prefix, name)
		})
	}
	err := g.Wait()
	if err == nil {
		marker := strings.NewReader(prefix)
		err = s.mirror.Put(ctx, CurrentMarker, marker, int64(marker.Len()))
	}
	s.logger.LogMirror(ctx, generation, err)
}

func (s *Store) uploadArtifact(ctx context.Context, prefix, name string) error {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	var r io.Reader = f
	if s.mirrorLimit != nil {
		r = &throttledReader{ctx: ctx, r: f, limiter: s.mirrorLimit}
	}
	return s.mirror.Put(ctx, prefix+"/"+name, r, info.Size())
}

// throttledReader paces reads through a token bucket, one token per byte.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if len(p) > t.limiter.Burst() {
		p = p[:t.limiter.Burst()]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// RestoreFromMirror downloads the latest complete mirror generation from
// src into dir, replacing any snapshot pair already present. It is meant
// to run before Open, not against a live store; the downloaded pair lands
// via the same staged-rename path a local save uses.
func RestoreFromMirror(ctx context.Context, src blobstore.Store, dir string) error {
	rc, err := src.Get(ctx, CurrentMarker)
	if err != nil {
		return fmt.Errorf("resolving mirror generation: %w", err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("resolving mirror generation: %w", err)
	}
	prefix := strings.TrimSpace(string(raw))
	if prefix == "" {
		return fmt.Errorf("mirror has an empty generation marker")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := make(map[string]func(io.Writer) error, 2)
	for _, name := range []string{VectorsFile, MetadataFile} {
		files[name] = func(w io.Writer) error {
			rc, err := src.Get(ctx, prefix+"/"+name)
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(w, rc)
			return err
		}
	}
	return persistence.AtomicSaveToDir(dir, files)
}
