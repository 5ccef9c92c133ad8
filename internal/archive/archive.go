// Package archive copies the version history to object storage. Each run
// writes every retained snapshot plus the index image under a timestamped
// prefix, zstd-compressed.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"kbhistory/internal/versioning"
)

const (
	DefaultPrefix      = "snapshots"
	DefaultConcurrency = 4
	objectSuffix       = ".json.zst"
	stampLayout        = "20060102T150405"
)

var ErrObjectNotFound = errors.New("archive object not found")

// Bucket is the object store an archive is written to and read back from.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Source is the read side of the version store.
type Source interface {
	Items() []string
	GetVersions(itemID string) []versioning.Version
	GetVersion(versionID string) (versioning.Snapshot, error)
}

type Options struct {
	Prefix      string
	Concurrency int
	// BytesPerSec caps compressed upload throughput; zero disables the cap.
	BytesPerSec int
	Logger      *log.Logger
	Now         func() time.Time
}

// Result summarizes one archive run.
type Result struct {
	Prefix  string `json:"prefix"`
	Objects int    `json:"objects"`
	Bytes   int64  `json:"bytes"`
	Skipped int    `json:"skipped"`
}

type Archiver struct {
	src         Source
	dst         Bucket
	prefix      string
	concurrency int
	limiter     *rate.Limiter
	logger      *log.Logger
	now         func() time.Time
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

func New(src Source, dst Bucket, opts Options) (*Archiver, error) {
	if src == nil || dst == nil {
		return nil, errors.New("archive: source and destination are required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	a := &Archiver{
		src:         src,
		dst:         dst,
		prefix:      opts.Prefix,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         opts.Now,
		encoder:     encoder,
		decoder:     decoder,
	}
	if a.prefix == "" {
		a.prefix = DefaultPrefix
	}
	if a.concurrency <= 0 {
		a.concurrency = DefaultConcurrency
	}
	if a.logger == nil {
		a.logger = log.New(io.Discard, "", 0)
	}
	if a.now == nil {
		a.now = time.Now
	}
	if opts.BytesPerSec > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSec), opts.BytesPerSec)
	}
	return a, nil
}

// Run uploads the current history. Snapshots that disappear between listing
// and reading are counted as skipped.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	runPrefix := path.Join(a.prefix, a.now().UTC().Format(stampLayout))
	result := Result{Prefix: runPrefix}

	image := make(map[string][]versioning.Version)
	var versionIDs []string
	for _, itemID := range a.src.Items() {
		versions := a.src.GetVersions(itemID)
		if len(versions) == 0 {
			continue
		}
		image[itemID] = versions
		for _, v := range versions {
			versionIDs = append(versionIDs, v.ID)
		}
	}

	var objects, skipped atomic.Int64
	var written atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, id := range versionIDs {
		id := id
		g.Go(func() error {
			snapshot, err := a.src.GetVersion(id)
			if errors.Is(err, versioning.ErrVersionNotFound) {
				a.logger.Printf("archive: skip %s: snapshot missing", id)
				skipped.Add(1)
				return nil
			}
			if err != nil {
				return fmt.Errorf("read snapshot %s: %w", id, err)
			}
			n, err := a.upload(gctx, path.Join(runPrefix, "versions", id+objectSuffix), snapshot)
			if err != nil {
				return err
			}
			objects.Add(1)
			written.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	n, err := a.upload(ctx, path.Join(runPrefix, versioning.IndexFileName+".zst"), image)
	if err != nil {
		return Result{}, err
	}
	objects.Add(1)
	written.Add(n)

	result.Objects = int(objects.Load())
	result.Bytes = written.Load()
	result.Skipped = int(skipped.Load())
	a.logger.Printf("archive: wrote %d objects (%d bytes) under %s", result.Objects, result.Bytes, runPrefix)
	return result, nil
}

func (a *Archiver) upload(ctx context.Context, key string, value any) (int64, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	compressed := a.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	if err := a.wait(ctx, len(compressed)); err != nil {
		return 0, err
	}
	if err := a.dst.Put(ctx, key, compressed); err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return int64(len(compressed)), nil
}

// wait blocks until the limiter admits n bytes, in burst-sized chunks.
func (a *Archiver) wait(ctx context.Context, n int) error {
	if a.limiter == nil {
		return ctx.Err()
	}
	burst := a.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := a.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Runs lists the archive runs found in the bucket, newest first.
func (a *Archiver) Runs(ctx context.Context) ([]string, error) {
	keys, err := a.dst.List(ctx, a.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list archive runs: %w", err)
	}
	seen := make(map[string]struct{})
	runs := make([]string, 0)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, a.prefix+"/")
		stamp, _, ok := strings.Cut(rest, "/")
		if !ok || !validStamp(stamp) {
			continue
		}
		if _, dup := seen[stamp]; dup {
			continue
		}
		seen[stamp] = struct{}{}
		runs = append(runs, stamp)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// Fetch reads one archived snapshot back from the run stamped run.
func (a *Archiver) Fetch(ctx context.Context, run, versionID string) (versioning.Snapshot, error) {
	if !validStamp(run) || !versioning.ValidVersionID(versionID) {
		return versioning.Snapshot{}, ErrObjectNotFound
	}
	key := path.Join(a.prefix, run, "versions", versionID+objectSuffix)
	data, err := a.dst.Get(ctx, key)
	if err != nil {
		return versioning.Snapshot{}, err
	}
	raw, err := a.decoder.DecodeAll(data, nil)
	if err != nil {
		return versioning.Snapshot{}, fmt.Errorf("decompress %s: %w", key, err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var snapshot versioning.Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		return versioning.Snapshot{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return snapshot, nil
}

func validStamp(stamp string) bool {
	_, err := time.Parse(stampLayout, stamp)
	return err == nil
}
