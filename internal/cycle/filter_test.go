package cycle

import (
	"testing"

	"github.com/loqalabs/readaloud/internal/wordset"
)

func TestFilterKeepsOrder(t *testing.T) {
	words := wordset.Load([]string{"the", "quick", "fox"})
	batch := Filter(tokens("The", "quick", "brown", "fox", "the"), words)

	if len(batch.All) != 5 {
		t.Fatalf("expected all 5 tokens drawn, got %d", len(batch.All))
	}
	got := batch.SpokenText()
	want := []string{"The", "quick", "fox", "the"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestFilterEmpty(t *testing.T) {
	batch := Filter(nil, wordset.Empty())
	if !batch.Empty() {
		t.Fatal("expected empty batch")
	}
	if len(batch.SpokenText()) != 0 {
		t.Fatal("expected nothing spoken")
	}
}

func TestFilterWithoutLexiconDrawsOnly(t *testing.T) {
	batch := Filter(tokens("cat"), nil)
	if batch.Empty() || len(batch.Spoken) != 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestFilterCopiesInput(t *testing.T) {
	in := tokens("cat")
	batch := Filter(in, wordset.Load([]string{"cat"}))
	in[0].Text = "changed"
	if batch.All[0].Text != "cat" {
		t.Fatal("batch aliases caller slice")
	}
}

func TestOutcomeMessages(t *testing.T) {
	cases := map[OutcomeKind]string{
		OutcomeNoTextFound:       "No text found",
		OutcomeCaptureFailed:     "Camera unavailable",
		OutcomeRecognitionFailed: "Text recognition failed",
	}
	for kind, want := range cases {
		if got := (Outcome{Kind: kind}).Message(); got != want {
			t.Fatalf("%s: expected %q, got %q", kind, want, got)
		}
	}
}

func TestNotifiersFanOut(t *testing.T) {
	var seen []string
	n := Notifiers{
		NotifierFunc(func(o Outcome) { seen = append(seen, "a:"+o.CycleID) }),
		nil,
		NotifierFunc(func(o Outcome) { seen = append(seen, "b:"+o.CycleID) }),
	}
	n.Notify(Outcome{CycleID: "1"})
	if len(seen) != 2 || seen[0] != "a:1" || seen[1] != "b:1" {
		t.Fatalf("unexpected notifications %v", seen)
	}
}
