package stores

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	constructors = make(map[string]Constructor)
	stores       = make(map[string]Store)
	storesMu     sync.RWMutex
)

// RegisterProviders registers store constructors for different storage
// schemes. This should be called during initialization to register all
// available store types.
func RegisterProviders(providers map[string]Constructor) {
	storesMu.Lock()
	defer storesMu.Unlock()

	for scheme, constructor := range providers {
		constructors[scheme] = constructor
	}
}

// Get returns a Store of the blob store URL, constructing and caching it
// on first use. Returned Stores are instrumented with operation metrics.
func Get(rawURL string) (Store, error) {
	storesMu.RLock()
	if store, ok := stores[rawURL]; ok {
		storesMu.RUnlock()
		return store, nil
	}
	storesMu.RUnlock()

	storesMu.Lock()
	defer storesMu.Unlock()

	if store, ok := stores[rawURL]; ok {
		return store, nil
	}

	var ep, err = url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing store URL: %w", err)
	}
	constructor, ok := constructors[ep.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported blob store scheme: %s", ep.Scheme)
	}

	store, err := constructor(ep)
	if err != nil {
		// Don't cache; the next call will retry construction.
		return nil, err
	}

	var metered = &meteredStore{Store: store, label: rawURL}
	stores[rawURL] = metered
	activeStores.Set(float64(len(stores)))

	return metered, nil
}

// meteredStore instruments a Store with operation metrics.
type meteredStore struct {
	Store
	label string
}

func (s *meteredStore) observe(op string, started time.Time, err error) {
	var status = "success"
	if err != nil {
		status = "error"
	}
	storeOperationTotal.WithLabelValues(s.label, op, status).Inc()
	storeOperationDuration.WithLabelValues(s.label, op, status).
		Observe(time.Since(started).Seconds())
}

func (s *meteredStore) Exists(ctx context.Context, path string) (bool, error) {
	var started = time.Now()
	var exists, err = s.Store.Exists(ctx, path)
	s.observe("exists", started, err)
	return exists, err
}

func (s *meteredStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var started = time.Now()
	var rc, err = s.Store.Get(ctx, path)
	s.observe("get", started, err)
	return rc, err
}

func (s *meteredStore) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64) error {
	var started = time.Now()
	var err = s.Store.Put(ctx, path, content, contentLength)
	s.observe("put", started, err)

	if err == nil && contentLength > 0 {
		storePutBytesTotal.WithLabelValues(s.label).Add(float64(contentLength))
	}
	return err
}

func (s *meteredStore) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var started = time.Now()

	var itemCount int64
	var err = s.Store.List(ctx, prefix, func(path string, modTime time.Time) error {
		itemCount++
		return callback(path, modTime)
	})
	s.observe("list", started, err)
	storeListItems.WithLabelValues(s.label).Observe(float64(itemCount))

	return err
}

func (s *meteredStore) Remove(ctx context.Context, path string) error {
	var started = time.Now()
	var err = s.Store.Remove(ctx, path)
	s.observe("remove", started, err)
	return err
}

var (
	activeStores = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltaset_store_active",
		Help: "Number of active blob stores",
	})

	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deltaset_store_operation_duration_seconds",
		Help:    "Duration of blob store operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
	}, []string{"store", "operation", "status"})

	storeOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltaset_store_operation_total",
		Help: "Total number of blob store operations",
	}, []string{"store", "operation", "status"})

	storePutBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltaset_store_put_bytes_total",
		Help: "Cumulative bytes of blob content written to stores",
	}, []string{"store"})

	storeListItems = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deltaset_store_list_items_count",
		Help:    "Number of items returned by blob store list operations",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1 to ~16k items
	}, []string{"store"})
)
