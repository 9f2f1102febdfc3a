package rag

import "sync/atomic"

// Metrics counts pipeline outcomes. All fields are updated atomically
// so a single instance can be shared across request goroutines.
type Metrics struct {
	queries          atomic.Int64
	answers          atomic.Int64
	noContent        atomic.Int64
	validationErrs   atomic.Int64
	providerErrs     atomic.Int64
	indexErrs        atomic.Int64
	timeouts         atomic.Int64
	exhausted        atomic.Int64
	inputTokens      atomic.Int64
	outputTokens     atomic.Int64
	trimmedChunks    atomic.Int64
	unresolvedCites  atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Queries             int64 `json:"queries"`
	Answers             int64 `json:"answers"`
	NoContent           int64 `json:"no_content"`
	ValidationErrors    int64 `json:"validation_errors"`
	ProviderErrors      int64 `json:"provider_errors"`
	IndexErrors         int64 `json:"index_errors"`
	Timeouts            int64 `json:"timeouts"`
	Exhausted           int64 `json:"exhausted"`
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	TrimmedChunks       int64 `json:"trimmed_chunks"`
	UnresolvedCitations int64 `json:"unresolved_citations"`
}

func (m *Metrics) recordFailure(kind Kind) {
	switch kind {
	case KindValidation:
		m.validationErrs.Add(1)
	case KindProviderUnavailable, KindProviderRejected:
		m.providerErrs.Add(1)
	case KindIndexUnavailable:
		m.indexErrs.Add(1)
	case KindTimeout:
		m.timeouts.Add(1)
	case KindUpstreamExhausted:
		m.exhausted.Add(1)
	}
}

func (m *Metrics) recordAnswer(usage TokenUsage, trimmed int) {
	m.answers.Add(1)
	m.inputTokens.Add(int64(usage.Input))
	m.outputTokens.Add(int64(usage.Output))
	m.trimmedChunks.Add(int64(trimmed))
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Queries:             m.queries.Load(),
		Answers:             m.answers.Load(),
		NoContent:           m.noContent.Load(),
		ValidationErrors:    m.validationErrs.Load(),
		ProviderErrors:      m.providerErrs.Load(),
		IndexErrors:         m.indexErrs.Load(),
		Timeouts:            m.timeouts.Load(),
		Exhausted:           m.exhausted.Load(),
		InputTokens:         m.inputTokens.Load(),
		OutputTokens:        m.outputTokens.Load(),
		TrimmedChunks:       m.trimmedChunks.Load(),
		UnresolvedCitations: m.unresolvedCites.Load(),
	}
}
