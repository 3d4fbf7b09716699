package fusion

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/external"
	"github.com/address-normalizer/internal/normalizer"
)

// AdapterError is one failed adapter call seen while dispatching.
type AdapterError struct {
	Adapter string             `json:"adapter"`
	Kind    external.ErrorKind `json:"kind"`
	Message string             `json:"message,omitempty"`
}

// DispatchResult is what the geocoder chain produced for one address.
type DispatchResult struct {
	Results   []models.GeocodeResult `json:"results"`
	Adapter   string                 `json:"adapter,omitempty"` // adapter that answered
	Query     string                 `json:"query,omitempty"`   // text that got the answer
	Errors    []AdapterError         `json:"errors,omitempty"`
	Cancelled bool                   `json:"cancelled,omitempty"`
}

// DefaultCallTimeout bounds one adapter call once it has started.
const DefaultCallTimeout = 30 * time.Second

// Dispatcher walks the geocoder chain for one address at a time. It is safe
// for concurrent use; adapters disabled by quota errors stay disabled until
// Reset.
//
// Cancelling the caller's context stops the walk before the next adapter or
// retry, but a call already sent runs to its own timeout so that paid answers
// are not thrown away.
type Dispatcher struct {
	chain       []external.Geocoder
	fallback    external.Geocoder
	asciiOnly   map[string]bool
	policy      external.RetryPolicy
	callTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	disabled map[string]bool
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFallback sets the geocoder tried after the whole chain came back empty.
func WithFallback(g external.Geocoder) DispatcherOption {
	return func(d *Dispatcher) { d.fallback = g }
}

// WithASCIIOnly marks adapters that are skipped for non-ASCII queries.
func WithASCIIOnly(names ...string) DispatcherOption {
	return func(d *Dispatcher) {
		d.asciiOnly = make(map[string]bool, len(names))
		for _, n := range names {
			d.asciiOnly[n] = true
		}
	}
}

// WithRetryPolicy overrides external.DefaultRetryPolicy.
func WithRetryPolicy(p external.RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.callTimeout = d
		}
	}
}

// NewDispatcher builds a dispatcher over chain, tried in order. Azure is
// ASCII-only unless WithASCIIOnly says otherwise.
func NewDispatcher(chain []external.Geocoder, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		chain:       chain,
		asciiOnly:   map[string]bool{external.AdapterAzure: true},
		policy:      external.DefaultRetryPolicy(),
		callTimeout: DefaultCallTimeout,
		logger:      logger,
		disabled:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Geocode tries native, then translated, through the chain. The first
// adapter with results wins; the fallback runs when nothing answered.
func (d *Dispatcher) Geocode(ctx context.Context, native, translated string) DispatchResult {
	var res DispatchResult
	queries := queryOrder(native, translated)

	for _, q := range queries {
		for _, g := range d.chain {
			if d.skip(g.Name(), q) {
				continue
			}
			if d.try(ctx, g, q, &res) || res.Cancelled {
				return res
			}
		}
	}

	if d.fallback != nil {
		for _, q := range queries {
			if d.skip(d.fallback.Name(), q) {
				continue
			}
			if d.try(ctx, d.fallback, q, &res) || res.Cancelled {
				return res
			}
		}
	}
	return res
}

// try runs one adapter with retries. It reports whether results were found.
// ctx gates each attempt; the attempt itself runs detached from it.
func (d *Dispatcher) try(ctx context.Context, g external.Geocoder, q string, res *DispatchResult) bool {
	if ctx.Err() != nil {
		res.Cancelled = true
		return false
	}
	name := g.Name()

	var (
		results []models.GeocodeResult
		started bool
	)
	err := external.Retry(ctx, d.policy, d.logger, name, func(ctx context.Context) error {
		started = true
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.callTimeout)
		defer cancel()
		r, err := g.Geocode(callCtx, q, "")
		results = r
		return err
	})
	if err != nil {
		if !started {
			res.Cancelled = true
			return false
		}
		kind := external.KindOf(err)
		if kind == "" {
			kind = external.KindUnavailable
		}
		res.Errors = append(res.Errors, AdapterError{Adapter: name, Kind: kind, Message: err.Error()})
		if ctx.Err() != nil && external.IsRetryable(err) {
			// retries were cut short; the next run tries again
			res.Cancelled = true
		}
		switch kind {
		case external.KindQuotaExceeded:
			d.disable(name)
		case external.KindCancelled:
			res.Cancelled = true
		default:
			d.logger.Debug("Geocoder failed", zap.String("adapter", name), zap.String("kind", string(kind)), zap.Error(err))
		}
		return false
	}
	if len(results) == 0 {
		return false
	}
	res.Results = results
	res.Adapter = name
	res.Query = q
	return true
}

func (d *Dispatcher) skip(name, q string) bool {
	if d.asciiOnly[name] && !normalizer.IsASCII(q) {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disabled[name]
}

func (d *Dispatcher) disable(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disabled[name] {
		return
	}
	d.disabled[name] = true
	d.logger.Warn("Geocoder disabled for the rest of the run: quota exceeded", zap.String("adapter", name))
}

// Disabled lists adapters switched off by quota errors, sorted.
func (d *Dispatcher) Disabled() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.disabled))
	for name := range d.disabled {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reset re-enables every adapter; call it between runs.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disabled = make(map[string]bool)
}

// Adapters returns the chain names in order, fallback last.
func (d *Dispatcher) Adapters() []string {
	names := make([]string, 0, len(d.chain)+1)
	for _, g := range d.chain {
		names = append(names, g.Name())
	}
	if d.fallback != nil {
		names = append(names, d.fallback.Name())
	}
	return names
}

func queryOrder(native, translated string) []string {
	native = strings.TrimSpace(native)
	translated = strings.TrimSpace(translated)
	var out []string
	if native != "" {
		out = append(out, native)
	}
	if translated != "" && !strings.EqualFold(translated, native) {
		out = append(out, translated)
	}
	return out
}
