package extractor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// InvocationObserver sees every candidate invocation. The metrics layer
// hangs off this hook.
type InvocationObserver func(extractorType string, res Result)

// Registry holds the registered extractors and runs selection. Selection is
// deterministic: all candidates whose mime types intersect the context and
// whose CanHandle returns true are invoked, the highest confidence wins,
// and exact ties go to the earliest-registered candidate.
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
	logger     *slog.Logger
	observer   InvocationObserver
}

type RegistryOption func(*Registry)

func WithInvocationObserver(obs InvocationObserver) RegistryOption {
	return func(r *Registry) { r.observer = obs }
}

func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds an extractor. Registering a second extractor with the same
// Type replaces the prior one in place, so registration-order tie-breaking
// stays stable.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.extractors {
		if existing.Type() == e.Type() {
			r.logger.Info("extractor replaced", "type", e.Type(), "version", e.Version())
			r.extractors[i] = e
			return
		}
	}
	r.extractors = append(r.extractors, e)
	r.logger.Info("extractor registered", "type", e.Type(), "version", e.Version())
}

// Types lists the registered extractor types in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extractors))
	for _, e := range r.extractors {
		out = append(out, e.Type())
	}
	return out
}

// SelectAndExtract evaluates every matching candidate and returns the best
// result. It never panics: a crashing extractor is recorded as a failed
// candidate with confidence 0 and evaluation continues. Zero candidates
// yields a zero-confidence miss.
func (r *Registry) SelectAndExtract(doc Context) Result {
	r.mu.RLock()
	candidates := make([]Extractor, len(r.extractors))
	copy(candidates, r.extractors)
	r.mu.RUnlock()

	best := Miss()
	claimed := false
	for _, e := range candidates {
		if !supportsMime(e, doc.MimeType) {
			continue
		}
		if !r.canHandleSafe(e, doc) {
			continue
		}
		res := r.extractSafe(e, doc)
		res.Confidence = ClampConfidence(res.Confidence)
		res.ExtractorType = e.Type()
		res.ExtractorVersion = e.Version()
		if r.observer != nil {
			r.observer(e.Type(), res)
		}
		// Strict > keeps the first-registered winner on exact ties.
		if !claimed || res.Confidence > best.Confidence {
			best = res
			claimed = true
		}
	}
	if !claimed {
		r.logger.Info("no extractor claimed document", "mime", doc.MimeType, "filename", doc.Filename)
	}
	return best
}

func (r *Registry) canHandleSafe(e Extractor, doc Context) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("extractor canHandle panicked", "type", e.Type(), "panic", rec)
			ok = false
		}
	}()
	return e.CanHandle(doc)
}

func (r *Registry) extractSafe(e Extractor, doc Context) (res Result) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("extractor panicked", "type", e.Type(), "panic", rec)
			res = Result{
				Success:        false,
				Confidence:     0,
				Error:          fmt.Sprintf("extractor panic: %v", rec),
				ProcessingTime: time.Since(start),
			}
		}
	}()
	res = e.Extract(doc)
	res.ProcessingTime = time.Since(start)
	return res
}
