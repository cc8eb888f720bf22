package extractor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/constants"
)

// stubExtractor is a configurable fake for selection tests.
type stubExtractor struct {
	typ        string
	version    string
	mimes      []string
	canHandle  func(Context) bool
	extract    func(Context) Result
	panicOnRun bool
}

func (s *stubExtractor) Type() string                  { return s.typ }
func (s *stubExtractor) Version() string               { return s.version }
func (s *stubExtractor) SupportedMimeTypes() []string  { return s.mimes }
func (s *stubExtractor) CanHandle(doc Context) bool {
	if s.canHandle != nil {
		return s.canHandle(doc)
	}
	return true
}
func (s *stubExtractor) Extract(doc Context) Result {
	if s.panicOnRun {
		panic("extractor exploded")
	}
	if s.extract != nil {
		return s.extract(doc)
	}
	return Result{Success: true, Confidence: 0.5, Data: map[string]any{"by": s.typ}}
}

func fixed(typ string, confidence float32) *stubExtractor {
	return &stubExtractor{
		typ:     typ,
		version: "1.0.0",
		mimes:   []string{constants.MimeText},
		extract: func(Context) Result {
			return Result{Success: true, Confidence: confidence, Data: map[string]any{"by": typ}}
		},
	}
}

func textDoc(text string) Context {
	return Context{Text: text, MimeType: constants.MimeText}
}

func TestSelectAndExtractHighestConfidenceWins(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(fixed("a", 0.6))
	r.Register(fixed("b", 0.9))

	// Deterministic across repeated invocations.
	for i := 0; i < 10; i++ {
		res := r.SelectAndExtract(textDoc("anything"))
		require.True(t, res.Success)
		require.Equal(t, "b", res.ExtractorType)
		require.InDelta(t, 0.9, float64(res.Confidence), 1e-6)
	}
}

func TestSelectAndExtractTieGoesToFirstRegistered(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(fixed("first", 0.7))
	r.Register(fixed("second", 0.7))

	res := r.SelectAndExtract(textDoc("anything"))
	require.Equal(t, "first", res.ExtractorType)
}

func TestSelectAndExtractZeroCandidatesIsAMiss(t *testing.T) {
	r := NewRegistry(nil)

	res := r.SelectAndExtract(textDoc("no one home"))
	require.False(t, res.Success)
	require.Zero(t, res.Confidence)

	// Mime filter excludes the only candidate.
	r.Register(&stubExtractor{typ: "pdf-only", version: "1.0.0", mimes: []string{constants.MimePDF}})
	res = r.SelectAndExtract(textDoc("still no one"))
	require.False(t, res.Success)
	require.Zero(t, res.Confidence)
}

func TestSelectAndExtractDeclinedByCanHandle(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubExtractor{
		typ: "picky", version: "1.0.0", mimes: []string{constants.MimeText},
		canHandle: func(doc Context) bool { return false },
	})

	res := r.SelectAndExtract(textDoc("decline me"))
	require.False(t, res.Success)
}

func TestSelectAndExtractIsolatesPanickingCandidate(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubExtractor{typ: "bomb", version: "1.0.0", mimes: []string{constants.MimeText}, panicOnRun: true})
	r.Register(fixed("steady", 0.4))

	require.NotPanics(t, func() {
		res := r.SelectAndExtract(textDoc("boom"))
		require.True(t, res.Success)
		require.Equal(t, "steady", res.ExtractorType)
	})
}

func TestSelectAndExtractOnlyPanickingCandidate(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubExtractor{typ: "bomb", version: "1.0.0", mimes: []string{constants.MimeText}, panicOnRun: true})

	res := r.SelectAndExtract(textDoc("boom"))
	require.False(t, res.Success)
	require.Zero(t, res.Confidence)
	require.Contains(t, res.Error, "panic")
}

func TestRegisterSameTypeReplacesInPlace(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(fixed("a", 0.8))
	r.Register(fixed("b", 0.8))

	// Replacement keeps position, so "a" still wins the tie.
	replacement := fixed("a", 0.8)
	replacement.version = "2.0.0"
	r.Register(replacement)

	require.Equal(t, []string{"a", "b"}, r.Types())
	res := r.SelectAndExtract(textDoc("anything"))
	require.Equal(t, "a", res.ExtractorType)
	require.Equal(t, "2.0.0", res.ExtractorVersion)
}

func TestSelectAndExtractClampsConfidence(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubExtractor{
		typ: "overconfident", version: "1.0.0", mimes: []string{constants.MimeText},
		extract: func(Context) Result { return Result{Success: true, Confidence: 7.5} },
	})

	res := r.SelectAndExtract(textDoc("anything"))
	require.Equal(t, float32(1), res.Confidence)
}

func TestSelectAndExtractInvocationObserverSeesAllCandidates(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	r := NewRegistry(nil, WithInvocationObserver(func(typ string, res Result) {
		mu.Lock()
		defer mu.Unlock()
		seen[typ]++
	}))
	r.Register(fixed("a", 0.2))
	r.Register(fixed("b", 0.9))

	r.SelectAndExtract(textDoc("anything"))
	require.Equal(t, map[string]int{"a": 1, "b": 1}, seen)
}

func TestSelectAndExtractWildcardMime(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubExtractor{typ: "any", version: "1.0.0", mimes: []string{"*/*"}})

	res := r.SelectAndExtract(Context{Text: "x", MimeType: constants.MimePDF})
	require.True(t, res.Success)
	require.Equal(t, "any", res.ExtractorType)
}
