// Package transcript turns timestamped text segments into speaker turns:
// loading segments, grouping them on silence gaps and merging labeled groups
// into turns.
package transcript

import (
	"math"
	"strings"

	"github.com/tetraminz/sales_coach/internal/model"
)

// DefaultGapSec is the silence that separates two pre-groups.
const DefaultGapSec = 1.2

// Group merges segments into pre-groups. A new group starts when the gap
// between a segment's start and the running group's end exceeds gapSec.
// Segments without text are ignored. The result depends only on its inputs.
func Group(segments []model.TranscriptSegment, gapSec float64) []model.PreGroup {
	if gapSec <= 0 {
		gapSec = DefaultGapSec
	}

	groups := make([]model.PreGroup, 0, len(segments)/2+1)
	var open *model.PreGroup
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if open != nil && seg.StartSec-open.EndSec <= gapSec {
			open.Indices = append(open.Indices, seg.Index)
			open.Texts = append(open.Texts, text)
			open.EndSec = math.Max(open.EndSec, seg.EndSec)
			continue
		}
		if open != nil {
			groups = append(groups, *open)
		}
		open = &model.PreGroup{
			Indices:  []int{seg.Index},
			Texts:    []string{text},
			StartSec: seg.StartSec,
			EndSec:   seg.EndSec,
		}
	}
	if open != nil {
		groups = append(groups, *open)
	}
	return groups
}

// BuildTurns merges consecutive same-speaker groups into turns. labels are
// matched to groups by GroupIndex; a group without a label keeps the speaker
// of the group before it.
func BuildTurns(groups []model.PreGroup, labels []model.GroupLabel) []model.TranscriptTurn {
	if len(groups) == 0 {
		return nil
	}

	bySpeaker := make(map[int]model.Speaker, len(labels))
	for _, l := range labels {
		bySpeaker[l.GroupIndex] = l.Speaker
	}

	turns := make([]model.TranscriptTurn, 0, len(groups))
	var (
		open    model.TranscriptTurn
		texts   []string
		speaker = model.SpeakerSeller
	)
	flush := func() {
		open.Idx = len(turns)
		open.Text = strings.Join(texts, " ")
		turns = append(turns, open)
	}

	for i, g := range groups {
		if s, ok := bySpeaker[i]; ok {
			speaker = s
		}
		if i > 0 && speaker == open.Speaker {
			texts = append(texts, g.Text())
			open.EndMs = toMillis(g.EndSec)
			continue
		}
		if i > 0 {
			flush()
		}
		open = model.TranscriptTurn{
			Speaker: speaker,
			StartMs: toMillis(g.StartSec),
			EndMs:   toMillis(g.EndSec),
		}
		texts = []string{g.Text()}
	}
	flush()
	return turns
}

func toMillis(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}
