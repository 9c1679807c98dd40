package dedup_test

import (
	"math"
	"testing"

	"github.com/MrWong99/scrivener/internal/dedup"
	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/segment"
)

type countScanner int

func (c countScanner) Scan(string) []knowledge.Mention {
	return make([]knowledge.Mention, int(c))
}

func q(h dedup.Heuristic, text string) float64 {
	return h.Quality(segment.SentenceUnit{Text: text})
}

func TestHeuristic_Components(t *testing.T) {
	t.Parallel()

	h := dedup.Heuristic{}

	if got := q(h, "   "); got != 0 {
		t.Errorf("blank sentence scored %f, want 0", got)
	}
	if q(h, "ตลาดปิดบวก.") <= q(h, "ตลาดปิดบวก") {
		t.Error("terminal punctuation should raise quality")
	}
	if q(h, "ตลาดปิดบวก") <= q(h, "ตลาดปิดบวก…") {
		t.Error("truncation marker should lower quality")
	}
	if q(h, "หุ้นปิดที่ 16") <= q(h, "หุ้นปิดที่ สิบ") {
		t.Error("digits should raise quality")
	}
	if q(h, "one two three four five") <= q(h, "one one one one one") {
		t.Error("repeated words should lower quality")
	}
}

func TestHeuristic_EntityMentionsCapped(t *testing.T) {
	t.Parallel()

	text := "AMATA PTT SET CPALL KBANK"
	base := q(dedup.Heuristic{}, text)

	one := q(dedup.Heuristic{Entities: countScanner(1)}, text)
	if diff := one - base; math.Abs(diff-4) > 1e-9 {
		t.Errorf("one mention added %f, want 4", diff)
	}
	five := q(dedup.Heuristic{Entities: countScanner(5)}, text)
	if diff := five - base; math.Abs(diff-12) > 1e-9 {
		t.Errorf("five mentions added %f, want the capped 12", diff)
	}
}

func TestHeuristic_WithKnowledgeStore(t *testing.T) {
	t.Parallel()

	kb, err := knowledge.New([]knowledge.EntityRecord{
		{CanonicalName: "AMATA", Category: knowledge.CategoryTicker},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := dedup.Heuristic{Entities: kb}
	if q(h, "AMATA ดูแนวต้าน 16.90") <= q(h, "AMATO ดูแนวต้าน 16.90") {
		t.Error("a recognised entity should raise quality")
	}
}
