// Package model holds the data shared by every stage of the coaching
// pipeline: transcript units, evaluations, scores and the job lifecycle.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Speaker is the conversational role of a turn.
type Speaker string

const (
	SpeakerSeller   Speaker = "seller"
	SpeakerCustomer Speaker = "customer"
)

// Other returns the opposite role.
func (s Speaker) Other() Speaker {
	if s == SpeakerSeller {
		return SpeakerCustomer
	}
	return SpeakerSeller
}

// ParseSpeaker accepts the labels the generation service tends to produce.
func ParseSpeaker(raw string) (Speaker, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "*\"' ")
	switch s {
	case "seller", "verkoper", "sales rep", "sales", "rep", "s":
		return SpeakerSeller, true
	case "customer", "klant", "buyer", "client", "c", "k":
		return SpeakerCustomer, true
	default:
		return "", false
	}
}

// ErrNoSpeech is returned when a transcript carries no usable text.
var ErrNoSpeech = errors.New("no speech detected")

// TranscriptSegment is one timestamped piece of text from the transcription
// collaborator.
type TranscriptSegment struct {
	Index    int     `json:"index"`
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
	Text     string  `json:"text"`
}

// Validate checks the time bounds of a segment.
func (s TranscriptSegment) Validate() error {
	if s.StartSec < 0 {
		return fmt.Errorf("segment %d: start cannot be negative", s.Index)
	}
	if s.EndSec < s.StartSec {
		return fmt.Errorf("segment %d: end before start", s.Index)
	}
	return nil
}

// PreGroup is a run of segments separated by short silences, assumed to be
// uttered by a single speaker.
type PreGroup struct {
	Indices  []int    `json:"indices"`
	Texts    []string `json:"texts"`
	StartSec float64  `json:"startSec"`
	EndSec   float64  `json:"endSec"`
}

// Text joins the segment texts with a single space.
func (g PreGroup) Text() string {
	return strings.Join(g.Texts, " ")
}

// GroupLabel assigns a speaker to a pre-group.
type GroupLabel struct {
	GroupIndex int     `json:"groupIndex"`
	Speaker    Speaker `json:"speaker"`
}

// TranscriptTurn is the final unit of analysis.
type TranscriptTurn struct {
	Idx     int     `json:"idx"`
	StartMs int64   `json:"startMs"`
	EndMs   int64   `json:"endMs"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// SellerTurnCount counts turns spoken by the seller.
func SellerTurnCount(turns []TranscriptTurn) int {
	n := 0
	for _, t := range turns {
		if t.Speaker == SpeakerSeller {
			n++
		}
	}
	return n
}
