package transcript

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tetraminz/sales_coach/internal/model"
)

// ErrMalformed marks transcript input that cannot be read as timed segments.
var ErrMalformed = errors.New("malformed transcript")

func malformed(err error) error {
	if errors.Is(err, ErrMalformed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// segmentWire accepts both "index" and the transcription service's "id".
type segmentWire struct {
	ID    *int    `json:"id"`
	Index *int    `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// LoadSegmentsFile reads segments from a .json or .csv file.
func LoadSegmentsFile(path string) ([]model.TranscriptSegment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}

	var segments []model.TranscriptSegment
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		segments, err = ParseSegmentsCSV(bytes.NewReader(raw))
	default:
		segments, err = ParseSegmentsJSON(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	return segments, nil
}

// ParseSegmentsJSON accepts a bare array or an object with a "segments" key.
// Every failure wraps ErrMalformed.
func ParseSegmentsJSON(raw []byte) ([]model.TranscriptSegment, error) {
	segments, err := parseSegmentsJSON(raw)
	if err != nil {
		return nil, malformed(err)
	}
	return segments, nil
}

func parseSegmentsJSON(raw []byte) ([]model.TranscriptSegment, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var wire []segmentWire
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	} else {
		var envelope struct {
			Segments []segmentWire `json:"segments"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
		wire = envelope.Segments
	}
	return normalizeWire(wire)
}

// ParseSegmentsCSV reads a header row with start, end and text columns and an
// optional index (or id) column. Every failure wraps ErrMalformed.
func ParseSegmentsCSV(r io.Reader) ([]model.TranscriptSegment, error) {
	segments, err := parseSegmentsCSV(r)
	if err != nil {
		return nil, malformed(err)
	}
	return segments, nil
}

func parseSegmentsCSV(r io.Reader) ([]model.TranscriptSegment, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := headerIndexes(header)
	if err != nil {
		return nil, err
	}

	var wire []segmentWire
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}

		text := strings.TrimSpace(valueAt(record, idx.text))
		startRaw := strings.TrimSpace(valueAt(record, idx.start))
		if text == "" && startRaw == "" {
			continue
		}

		var w segmentWire
		w.Text = text
		if w.Start, err = strconv.ParseFloat(startRaw, 64); err != nil {
			return nil, fmt.Errorf("row %d start %q: %w", row, startRaw, err)
		}
		endRaw := strings.TrimSpace(valueAt(record, idx.end))
		if w.End, err = strconv.ParseFloat(endRaw, 64); err != nil {
			return nil, fmt.Errorf("row %d end %q: %w", row, endRaw, err)
		}
		if idx.index >= 0 {
			indexRaw := strings.TrimSpace(valueAt(record, idx.index))
			if indexRaw != "" {
				n, err := strconv.Atoi(indexRaw)
				if err != nil {
					return nil, fmt.Errorf("row %d index %q: %w", row, indexRaw, err)
				}
				w.Index = &n
			}
		}
		wire = append(wire, w)
	}
	return normalizeWire(wire)
}

// normalizeWire fills missing indices positionally and normalizes the result.
func normalizeWire(wire []segmentWire) ([]model.TranscriptSegment, error) {
	segments := make([]model.TranscriptSegment, 0, len(wire))
	for i, w := range wire {
		seg := model.TranscriptSegment{
			Index:    i,
			StartSec: w.Start,
			EndSec:   w.End,
			Text:     strings.TrimSpace(w.Text),
		}
		switch {
		case w.Index != nil:
			seg.Index = *w.Index
		case w.ID != nil:
			seg.Index = *w.ID
		}
		segments = append(segments, seg)
	}
	return Normalize(segments)
}

// Normalize validates time bounds and returns a copy ordered by start time.
// Validation failures wrap ErrMalformed.
func Normalize(segments []model.TranscriptSegment) ([]model.TranscriptSegment, error) {
	out := append([]model.TranscriptSegment(nil), segments...)
	for _, seg := range out {
		if err := seg.Validate(); err != nil {
			return nil, malformed(err)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartSec < out[j].StartSec
	})
	return out, nil
}

// HasSpeech reports whether any segment carries text.
func HasSpeech(segments []model.TranscriptSegment) bool {
	for _, s := range segments {
		if strings.TrimSpace(s.Text) != "" {
			return true
		}
	}
	return false
}

func valueAt(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return record[index]
}

type columnIndexes struct {
	index int
	start int
	end   int
	text  int
}

func headerIndexes(header []string) (columnIndexes, error) {
	idx := columnIndexes{index: -1, start: -1, end: -1, text: -1}
	for i, col := range header {
		switch normalizeHeader(col) {
		case "index", "id", "segment_id", "segmentid":
			idx.index = i
		case "start", "start_sec", "startsec":
			idx.start = i
		case "end", "end_sec", "endsec":
			idx.end = i
		case "text":
			idx.text = i
		}
	}
	if idx.start == -1 || idx.end == -1 || idx.text == -1 {
		return columnIndexes{}, fmt.Errorf("missing required columns in header %v", header)
	}
	return idx, nil
}

func normalizeHeader(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	return s
}
