package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Keypoint is a normalized image coordinate in [0,1].
type Keypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PoseDetection is the per-frame output of the pose/face model. Wrist
// keypoints are present only when the corresponding arm was detected.
type PoseDetection struct {
	FaceDetected   bool      `json:"face_detected"`
	FaceConfidence float64   `json:"face_confidence"`
	LeftWrist      *Keypoint `json:"left_wrist,omitempty"`
	RightWrist     *Keypoint `json:"right_wrist,omitempty"`
}

// PoseDetector runs the pose/face model on one sampled frame.
type PoseDetector interface {
	DetectPose(ctx context.Context, frameJPEG []byte) (*PoseDetection, error)
}

type PoseClient struct {
	http *HTTP
	url  string
}

func NewPoseClient(http *HTTP, url string) *PoseClient {
	return &PoseClient{http: http, url: url}
}

func (p *PoseClient) DetectPose(ctx context.Context, frameJPEG []byte) (*PoseDetection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/detect", bytes.NewReader(frameJPEG))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := p.http.c.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusErr("pose", resp.StatusCode, resp.Status, string(body))
	}

	var out PoseDetection
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pose decode: %w", err)
	}
	return &out, nil
}
