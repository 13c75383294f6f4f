package table

import (
	"log/slog"

	"github.com/AkimT13/MetalDB/dataparallel"
)

// DefaultGPUThreshold is the row count at or above which scanEquals/
// sumColumnHybrid dispatch to the data-parallel backend by default.
const DefaultGPUThreshold = 4096

type options struct {
	useGPU       bool
	gpuThreshold int
	backend      dataparallel.Backend
	logger       *slog.Logger
	pageCacheMax int64
}

func defaultOptions() *options {
	return &options{
		useGPU:       true,
		gpuThreshold: DefaultGPUThreshold,
		backend:      nil, // resolved lazily so WithBackend can still override it
		logger:       nil,
		pageCacheMax: 0, // 0 selects pagecache.DefaultMaxCost
	}
}

// Option configures Create/Open. Grounded on hupe1980/vecgo's
// options.go: construction-time knobs without exploding the
// constructor's parameter list.
type Option func(*options)

// WithGPU toggles whether ScanEquals/SumColumnHybrid may dispatch to the
// data-parallel backend at all. Disabling it forces the CPU path
// regardless of input size.
func WithGPU(enabled bool) Option {
	return func(o *options) { o.useGPU = enabled }
}

// WithGPUThreshold sets the row count at or above which scanEquals/
// sumColumnHybrid dispatch to the data-parallel backend.
func WithGPUThreshold(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.gpuThreshold = n
		}
	}
}

// WithBackend overrides the data-parallel backend. Tests use this to
// force either dataparallel.NoopBackend or a fixed-size WorkerBackend.
func WithBackend(b dataparallel.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLogger sets the structured logger used for page/row operations.
// A nil logger (the default) discards all log output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPageCacheSize sets the total byte budget for the shared
// read-through page cache. 0 selects pagecache.DefaultMaxCost; a
// negative value disables the cache entirely.
func WithPageCacheSize(maxCost int64) Option {
	return func(o *options) { o.pageCacheMax = maxCost }
}
