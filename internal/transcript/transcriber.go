package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tetraminz/sales_coach/internal/model"
)

// Transcriber supplies the ordered segments for an audio reference.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) ([]model.TranscriptSegment, error)
}

// FileTranscriber treats the audio reference as a path to a segment file.
type FileTranscriber struct{}

func (FileTranscriber) Transcribe(_ context.Context, audioRef string) ([]model.TranscriptSegment, error) {
	if strings.TrimSpace(audioRef) == "" {
		return nil, errors.New("audio reference is empty")
	}
	return LoadSegmentsFile(audioRef)
}

// StaticTranscriber returns segments supplied inline, normalized like a
// loaded file.
type StaticTranscriber struct {
	Segments []model.TranscriptSegment
}

func (s StaticTranscriber) Transcribe(context.Context, string) ([]model.TranscriptSegment, error) {
	return Normalize(s.Segments)
}

// ASRClient uploads audio to an HTTP transcription service.
type ASRClient struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

// NewASRClient creates a client for baseURL; POST <baseURL>/transcribe.
func NewASRClient(baseURL string, httpClient *http.Client, maxElapsed time.Duration) *ASRClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return &ASRClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		maxElapsed: maxElapsed,
	}
}

// Transcribe uploads the audio file at audioRef and parses the segments.
func (c *ASRClient) Transcribe(ctx context.Context, audioRef string) ([]model.TranscriptSegment, error) {
	audio, err := os.ReadFile(audioRef)
	if err != nil {
		return nil, fmt.Errorf("open audio %q: %w", audioRef, err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed

	var body []byte
	operation := func() error {
		payload, contentType, err := multipartAudio(filepath.Base(audioRef), audio)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", payload)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build asr request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("asr request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read asr response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("asr %s: %s", resp.Status, strings.TrimSpace(string(raw)))
			if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		body = raw
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	segments, err := ParseSegmentsJSON(body)
	if err != nil {
		return nil, fmt.Errorf("asr decode: %w", err)
	}
	return segments, nil
}

func multipartAudio(name string, audio []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
