// Package diarize assigns seller/customer roles to pre-groups.
//
// Groups are labeled in chunks by the generation service. Each chunk after
// the first carries the most recently labeled groups as context so labels
// stay continuous across chunk boundaries. A chunk whose call or parse fails
// inherits the last resolved label. A smoothing pass then removes isolated
// short flips, and a labeling without any customer group is replaced by
// strict alternation. Label never fails.
package diarize

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

const (
	DefaultChunkSize      = 120
	DefaultContextWindow  = 15
	DefaultSmoothMaxChars = 60

	contextTextMax = 80
)

// Options tunes chunking and smoothing.
type Options struct {
	ChunkSize      int
	ContextWindow  int
	SmoothMaxChars int
}

// Labeler is the Speaker Labeler.
type Labeler struct {
	gen  llm.Generator
	opts Options
	log  *logrus.Entry
}

func NewLabeler(gen llm.Generator, opts Options, log *logrus.Entry) *Labeler {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ContextWindow < 0 {
		opts.ContextWindow = 0
	}
	if opts.SmoothMaxChars <= 0 {
		opts.SmoothMaxChars = DefaultSmoothMaxChars
	}
	return &Labeler{gen: gen, opts: opts, log: logger.Component(log, "diarize")}
}

type labelsOutput struct {
	Labels []struct {
		Index   int    `json:"index"`
		Speaker string `json:"speaker"`
	} `json:"labels"`
}

// Label returns one label per group, in group order.
func (l *Labeler) Label(ctx context.Context, groups []model.PreGroup) []model.GroupLabel {
	if len(groups) == 0 {
		return nil
	}

	speakers := make([]model.Speaker, len(groups))
	for start := 0; start < len(groups); start += l.opts.ChunkSize {
		end := min(start+l.opts.ChunkSize, len(groups))
		chunk := start / l.opts.ChunkSize

		resolved, err := l.labelChunk(ctx, groups, speakers, start, end, chunk)
		if err != nil {
			l.log.WithError(err).WithFields(logrus.Fields{
				"chunk":  chunk,
				"groups": end - start,
			}).Warn("speaker labeling failed, inheriting previous label")
		}
		for i := start; i < end; i++ {
			if s, ok := resolved[i]; ok {
				speakers[i] = s
				continue
			}
			speakers[i] = previousSpeaker(speakers, i)
		}
	}

	Smooth(groups, speakers, l.opts.SmoothMaxChars)
	if AlternateIfDegenerate(speakers) {
		l.log.WithField("groups", len(groups)).Warn("no customer groups labeled, falling back to alternation")
	}

	labels := make([]model.GroupLabel, len(groups))
	for i, s := range speakers {
		labels[i] = model.GroupLabel{GroupIndex: i, Speaker: s}
	}
	return labels
}

func (l *Labeler) labelChunk(
	ctx context.Context,
	groups []model.PreGroup,
	speakers []model.Speaker,
	start, end, chunk int,
) (map[int]model.Speaker, error) {
	var out labelsOutput
	req := llm.Request{
		Unit:       llm.UnitSpeakerLabels,
		Index:      chunk,
		System:     labelSystemPrompt,
		Prompt:     buildLabelPrompt(groups, speakers, start, end, l.opts.ContextWindow),
		SchemaName: "speaker_labels_v1",
		Schema:     labelsSchema,
	}
	if err := llm.GenerateJSON(ctx, l.gen, req, &out); err != nil {
		return nil, err
	}

	resolved := make(map[int]model.Speaker, end-start)
	for _, item := range out.Labels {
		if item.Index < start || item.Index >= end {
			continue
		}
		if s, ok := model.ParseSpeaker(item.Speaker); ok {
			resolved[item.Index] = s
		}
	}
	return resolved, nil
}

func previousSpeaker(speakers []model.Speaker, i int) model.Speaker {
	if i > 0 && speakers[i-1] != "" {
		return speakers[i-1]
	}
	return model.SpeakerSeller
}

// Smooth flips, left to right, every group whose label differs from both
// neighbors and whose text is shorter than maxChars to its left neighbor's
// label. The first and last group are never touched.
func Smooth(groups []model.PreGroup, speakers []model.Speaker, maxChars int) int {
	flipped := 0
	for i := 1; i+1 < len(speakers) && i < len(groups); i++ {
		prev, cur, next := speakers[i-1], speakers[i], speakers[i+1]
		if cur == prev || cur == next {
			continue
		}
		if utf8.RuneCountInString(groups[i].Text()) >= maxChars {
			continue
		}
		speakers[i] = prev
		flipped++
	}
	return flipped
}

// AlternateIfDegenerate replaces a labeling with zero customer groups and
// more than three groups by strict alternation starting with the seller.
func AlternateIfDegenerate(speakers []model.Speaker) bool {
	if len(speakers) <= 3 {
		return false
	}
	for _, s := range speakers {
		if s == model.SpeakerCustomer {
			return false
		}
	}
	for i := range speakers {
		if i%2 == 0 {
			speakers[i] = model.SpeakerSeller
		} else {
			speakers[i] = model.SpeakerCustomer
		}
	}
	return true
}

func buildLabelPrompt(groups []model.PreGroup, speakers []model.Speaker, start, end, window int) string {
	var b strings.Builder
	if start > 0 && window > 0 {
		from := max(0, start-window)
		b.WriteString("Context (already labeled):\n")
		for i := from; i < start; i++ {
			fmt.Fprintf(&b, "[%d] %s: %s\n", i, speakers[i], truncate(groups[i].Text(), contextTextMax))
		}
		b.WriteString("\n")
	}

	b.WriteString("Groups to label:\n")
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "[%d] (%.1fs) %s\n", i, groups[i].StartSec, groups[i].Text())
	}
	fmt.Fprintf(&b, "\nReturn one label for every index from %d to %d.", start, end-1)
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

const labelSystemPrompt = `You label speakers in a Dutch sales conversation between a seller (verkoper) and a customer (klant).
Return JSON only: {"labels":[{"index":<group index>,"speaker":"seller"|"customer"}]}.
Heuristics:
- Speakers usually alternate between groups.
- A short acknowledgement ("ja", "oké", "klopt") usually belongs to the other speaker than the question right before it.
- The first group is almost always the seller opening the conversation.
- Be conservative: only switch speaker when the text supports it.`

var labelsSchema = llm.MustParseSchema(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["labels"],
  "properties": {
    "labels": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["index", "speaker"],
        "properties": {
          "index": { "type": "integer" },
          "speaker": { "enum": ["seller", "customer"] }
        }
      }
    }
  }
}`)
