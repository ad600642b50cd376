package filesvc

import (
	"context"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/trezcool/darasa/core"
)

// Pool bounds the number of concurrent operations on a FileStore.
// Callers block until a slot frees up or their context is done.
type Pool struct {
	store    core.FileStore
	sem      *semaphore.Weighted
	inFlight prometheus.Gauge
}

var _ core.FileStore = (*Pool)(nil)

// NewPool wraps store. reg may be nil.
func NewPool(store core.FileStore, workers int64, reg prometheus.Registerer) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		store: store,
		sem:   semaphore.NewWeighted(workers),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "darasa",
			Subsystem: "files",
			Name:      "operations_in_flight",
			Help:      "File store operations currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.inFlight)
	}
	return p
}

func (p *Pool) acquire(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, core.Unavailable(err, "waiting for a file worker")
	}
	p.inFlight.Inc()
	return func() {
		p.inFlight.Dec()
		p.sem.Release(1)
	}, nil
}

func (p *Pool) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return p.store.Save(ctx, name, r)
}

// Open holds its slot until the returned reader is closed.
func (p *Pool) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := p.store.Open(ctx, ref)
	if err != nil {
		release()
		return nil, err
	}
	return &releasingReader{ReadCloser: rc, release: release}, nil
}

func (p *Pool) Delete(ctx context.Context, ref string) error {
	release, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return p.store.Delete(ctx, ref)
}

type releasingReader struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (r *releasingReader) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(r.release)
	return err
}
