package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/llm/llmtest"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

func groupsOf(texts ...string) []model.PreGroup {
	groups := make([]model.PreGroup, len(texts))
	for i, text := range texts {
		groups[i] = model.PreGroup{
			Indices:  []int{i},
			Texts:    []string{text},
			StartSec: float64(i * 3),
			EndSec:   float64(i*3 + 2),
		}
	}
	return groups
}

func labelsJSON(speakers map[int]string) string {
	type item struct {
		Index   int    `json:"index"`
		Speaker string `json:"speaker"`
	}
	out := struct {
		Labels []item `json:"labels"`
	}{}
	for i := 0; i < 1000; i++ {
		if s, ok := speakers[i]; ok {
			out.Labels = append(out.Labels, item{Index: i, Speaker: s})
		}
	}
	raw, _ := json.Marshal(out)
	return string(raw)
}

func TestLabelUsesServiceLabels(t *testing.T) {
	t.Parallel()

	fake := &llmtest.Fake{Respond: func(llm.Request) (string, error) {
		return "```json\n" + labelsJSON(map[int]string{0: "seller", 1: "customer", 2: "seller", 3: "customer"}) + "\n```", nil
	}}
	labeler := NewLabeler(fake, Options{}, logger.Discard())

	labels := labeler.Label(context.Background(), groupsOf(
		"Goedemiddag, u spreekt met Anna van Bakker Software.",
		"Hallo, met Peter van de Vries, ik bel over jullie offerte van vorige week.",
		"Waar kan ik u vandaag mee helpen, gaat het om de planning of om iets anders?",
		"We zoeken een nieuw planningssysteem.",
	))
	want := []model.Speaker{model.SpeakerSeller, model.SpeakerCustomer, model.SpeakerSeller, model.SpeakerCustomer}
	for i, l := range labels {
		if l.GroupIndex != i || l.Speaker != want[i] {
			t.Fatalf("label %d got %+v want %q", i, l, want[i])
		}
	}
	if got, want := fake.Calls(llm.UnitSpeakerLabels), 1; got != want {
		t.Fatalf("calls got %d want %d", got, want)
	}
}

func TestLabelChunksCarryContext(t *testing.T) {
	t.Parallel()

	fake := &llmtest.Fake{Respond: func(req llm.Request) (string, error) {
		speakers := map[int]string{}
		for i := 0; i < 10; i++ {
			if i%2 == 0 {
				speakers[i] = "seller"
			} else {
				speakers[i] = "customer"
			}
		}
		return labelsJSON(speakers), nil
	}}
	labeler := NewLabeler(fake, Options{ChunkSize: 4, ContextWindow: 2}, logger.Discard())

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("groep nummer %d met genoeg tekst om niet gladgestreken te worden", i)
	}
	labels := labeler.Label(context.Background(), groupsOf(texts...))
	if got, want := len(labels), 10; got != want {
		t.Fatalf("labels got %d want %d", got, want)
	}

	requests := fake.Requests(llm.UnitSpeakerLabels)
	if got, want := len(requests), 3; got != want {
		t.Fatalf("chunk calls got %d want %d", got, want)
	}
	if strings.Contains(requests[0].Prompt, "Context") {
		t.Fatalf("first chunk must not carry context")
	}
	if !strings.Contains(requests[1].Prompt, "[2] seller:") || !strings.Contains(requests[1].Prompt, "[3] customer:") {
		t.Fatalf("second chunk should carry the last two labeled groups, prompt:\n%s", requests[1].Prompt)
	}
	if strings.Contains(requests[1].Prompt, "[1] customer:") {
		t.Fatalf("context window exceeded, prompt:\n%s", requests[1].Prompt)
	}
}

func TestLabelFailedChunkInheritsPreviousLabel(t *testing.T) {
	t.Parallel()

	fake := &llmtest.Fake{Respond: func(req llm.Request) (string, error) {
		if req.Index == 0 {
			return labelsJSON(map[int]string{0: "seller", 1: "customer"}), nil
		}
		return "ik weet het niet", nil
	}}
	labeler := NewLabeler(fake, Options{ChunkSize: 2}, logger.Discard())

	long := strings.Repeat("lange tekst ", 10)
	labels := labeler.Label(context.Background(), groupsOf(long, long, long, long))
	want := []model.Speaker{model.SpeakerSeller, model.SpeakerCustomer, model.SpeakerCustomer, model.SpeakerCustomer}
	for i, l := range labels {
		if l.Speaker != want[i] {
			t.Fatalf("label %d got %q want %q", i, l.Speaker, want[i])
		}
	}
}

func TestLabelAllSellerFallsBackToAlternation(t *testing.T) {
	t.Parallel()

	labeler := NewLabeler(llmtest.Failing(), Options{}, logger.Discard())
	labels := labeler.Label(context.Background(), groupsOf("a", "b", "c", "d", "e"))

	sellers, customers := 0, 0
	for i, l := range labels {
		want := model.SpeakerSeller
		if i%2 == 1 {
			want = model.SpeakerCustomer
		}
		if l.Speaker != want {
			t.Fatalf("label %d got %q want %q", i, l.Speaker, want)
		}
		if l.Speaker == model.SpeakerSeller {
			sellers++
		} else {
			customers++
		}
	}
	if sellers == 0 || customers == 0 {
		t.Fatalf("alternation must contain both speakers")
	}
}

func TestAlternateIfDegenerateKeepsSmallConversations(t *testing.T) {
	t.Parallel()

	speakers := []model.Speaker{model.SpeakerSeller, model.SpeakerSeller, model.SpeakerSeller}
	if AlternateIfDegenerate(speakers) {
		t.Fatalf("three groups must not trigger the fallback")
	}
}

func TestSmoothFlipsIsolatedShortGroup(t *testing.T) {
	t.Parallel()

	groups := groupsOf("Dus u zoekt een systeem voor de planning?", "ja", "Hoeveel medewerkers plannen jullie per week in?")
	speakers := []model.Speaker{model.SpeakerSeller, model.SpeakerCustomer, model.SpeakerSeller}
	if got := Smooth(groups, speakers, DefaultSmoothMaxChars); got != 1 {
		t.Fatalf("flipped got %d want 1", got)
	}
	if speakers[1] != model.SpeakerSeller {
		t.Fatalf("short isolated group should be flipped, got %q", speakers[1])
	}
}

func TestSmoothKeepsIsolatedLongGroup(t *testing.T) {
	t.Parallel()

	long := "Nou, eerlijk gezegd hebben we vorig jaar al een ander pakket geprobeerd en dat viel tegen."
	if len(long) <= 60 {
		t.Fatalf("fixture must be longer than 60 characters")
	}
	groups := groupsOf("Hoe gaat het nu met de planning?", long, "Wat viel er precies tegen?")
	speakers := []model.Speaker{model.SpeakerSeller, model.SpeakerCustomer, model.SpeakerSeller}
	if got := Smooth(groups, speakers, DefaultSmoothMaxChars); got != 0 {
		t.Fatalf("flipped got %d want 0", got)
	}
	if speakers[1] != model.SpeakerCustomer {
		t.Fatalf("long isolated group must not be smoothed")
	}
}

func TestSmoothNeverTouchesEdges(t *testing.T) {
	t.Parallel()

	groups := groupsOf("ja", "Goedemiddag, waarmee kan ik u helpen vandaag?", "ok")
	speakers := []model.Speaker{model.SpeakerCustomer, model.SpeakerSeller, model.SpeakerCustomer}
	Smooth(groups, speakers, DefaultSmoothMaxChars)
	if speakers[0] != model.SpeakerCustomer || speakers[2] != model.SpeakerCustomer {
		t.Fatalf("edge groups must not be smoothed, got %v", speakers)
	}
}
