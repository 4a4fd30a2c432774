package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type EmotionScores struct {
	Scores map[string]float64 `json:"scores"`
}

// EmotionClassifier scores one sampled frame against the seven facial
// emotion classes.
type EmotionClassifier interface {
	ClassifyEmotion(ctx context.Context, frameJPEG []byte) (*EmotionScores, error)
}

type EmotionClient struct {
	http *HTTP
	url  string
}

func NewEmotionClient(http *HTTP, url string) *EmotionClient {
	return &EmotionClient{http: http, url: url}
}

func (e *EmotionClient) ClassifyEmotion(ctx context.Context, frameJPEG []byte) (*EmotionScores, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/classify", bytes.NewReader(frameJPEG))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.http.c.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusErr("emotion", resp.StatusCode, resp.Status, string(body))
	}

	var out EmotionScores
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("emotion decode: %w", err)
	}
	return &out, nil
}
