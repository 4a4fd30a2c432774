package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

type TransSeg struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type STTResponse struct {
	Segments []TransSeg `json:"segments"`
	Language string     `json:"language"`
}

// SpeechToText transcribes one mono WAV file. Segment boundaries come from
// the model's voice activity detection.
type SpeechToText interface {
	Transcribe(ctx context.Context, wavPath string) (*STTResponse, error)
}

type STTClient struct {
	http *HTTP
	url  string
}

func NewSTTClient(http *HTTP, url string) *STTClient {
	return &STTClient{http: http, url: url}
}

func (s *STTClient) Transcribe(ctx context.Context, wavPath string) (*STTResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, err
	}
	fd, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	if _, err = io.Copy(fw, fd); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/transcribe", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.http.c.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusErr("stt", resp.StatusCode, resp.Status, string(body))
	}

	var out STTResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("stt decode: %w", err)
	}
	return &out, nil
}
