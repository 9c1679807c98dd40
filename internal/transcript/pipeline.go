// Package transcript runs the correction and deduplication pipeline over
// speech-recognition transcripts of long-form narration.
//
// Raw recognition output of chunked audio repeats sentences at chunk borders
// and mis-hears domain vocabulary such as market names, tickers and trading
// terms. [Engine.Process] cleans a transcript in four stages:
//
//  1. Segment the text into sentence units ([segment.Segmenter]).
//  2. Drop near-duplicate sentences ([dedup.Detector]).
//  3. Replace mis-heard entity names with their canonical form
//     ([resolve.Resolver]), learning every accepted replacement.
//  4. Flush the error store so learned corrections carry over to the next
//     run.
//
// Deduplication runs before resolution: repeated sentences are resolved once
// and do not inflate error store frequencies.
//
// Every stage is also exposed on its own ([Engine.Deduplicate],
// [Engine.ResolveEntities]) for callers that bring pre-split sentences.
//
// An [Engine] is safe for concurrent use.
package transcript

import (
	"encoding/json"
	"errors"

	"github.com/MrWong99/scrivener/internal/dedup"
	"github.com/MrWong99/scrivener/internal/resolve"
	"github.com/MrWong99/scrivener/internal/segment"
)

// ErrMalformedInput is returned for text that is not valid UTF-8. No partial
// output is produced.
var ErrMalformedInput = segment.ErrMalformedInput

// ErrNoErrorStore is returned by [Engine.Learn] when the engine runs without
// an error store.
var ErrNoErrorStore = errors.New("transcript: no error store configured")

// Report is the outcome of [Engine.Process].
type Report struct {
	// RunID tags every correction recorded during the run.
	RunID string `json:"run_id"`

	// Text is the cleaned transcript. Surviving sentences keep the
	// whitespace that preceded them in the input.
	Text string `json:"text"`

	// Sentences are the cleaned sentences in order.
	Sentences []string `json:"sentences"`

	// SentenceCount is the number of sentences the input was split into.
	SentenceCount int `json:"sentence_count"`

	// Removed lists the dropped duplicates. Indices refer to the input
	// sentence positions.
	Removed []dedup.Removal `json:"removed"`

	// Guarded is true when the removal guard kept every sentence.
	Guarded bool `json:"guarded"`

	// Corrections are the applied entity replacements. Sentence positions
	// refer to Sentences.
	Corrections []resolve.Correction `json:"corrections"`

	// Rejections are matches the safety rules refused.
	Rejections []resolve.Rejection `json:"rejections"`

	// Warnings are non-fatal problems: a knowledge base that failed to load
	// ([*knowledge.LoadError]), an error store that could not be read
	// ([*errstore.LoadError]) or flushed ([*errstore.PersistError]).
	Warnings []error `json:"-"`
}

// MarshalJSON encodes the report with Warnings as their messages.
func (r *Report) MarshalJSON() ([]byte, error) {
	type plain Report
	msgs := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		msgs[i] = w.Error()
	}
	return json.Marshal(struct {
		*plain
		Warnings []string `json:"warnings"`
	}{(*plain)(r), msgs})
}
