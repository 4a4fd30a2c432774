package analysis

import (
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/clients"
	"github.com/gaimlab/teachlens/internal/models"
)

// SpeechAnalyzer turns the extracted audio track into a transcript with
// utterance timing and a filler-word tally. Utterance boundaries come from
// the STT model's voice activity detection and are taken as-is.
type SpeechAnalyzer struct {
	stt     clients.SpeechToText
	lexicon []string
}

func NewSpeechAnalyzer(stt clients.SpeechToText, fillerWords []string) *SpeechAnalyzer {
	lexicon := make([]string, 0, len(fillerWords))
	for _, w := range fillerWords {
		lexicon = append(lexicon, strings.ToLower(w))
	}
	return &SpeechAnalyzer{stt: stt, lexicon: lexicon}
}

// Transcribe runs speech-to-text on one mono audio file. The backend call
// is retried once on failure; a second failure fails the stage.
func (a *SpeechAnalyzer) Transcribe(ctx context.Context, audioPath string) (*models.TranscriptResult, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, stageErr("transcribing", fmt.Errorf("audio track not accessible: %w", err))
	}

	resp, err := retryOnce(ctx, func() (*clients.STTResponse, error) {
		return a.stt.Transcribe(ctx, audioPath)
	})
	if err != nil {
		return nil, stageErr("transcribing", err)
	}

	segments := make([]models.UtteranceSegment, 0, len(resp.Segments))
	parts := make([]string, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		segments = append(segments, models.UtteranceSegment{Start: s.Start, End: s.End, Text: text})
		if text != "" {
			parts = append(parts, text)
		}
	}

	fullText := strings.Join(parts, " ")
	result := &models.TranscriptResult{
		Segments:     segments,
		Text:         fullText,
		FillerCounts: a.tallyFillers(fullText),
	}

	log.Printf("Transcribed %d segments, %d chars, %d filler words",
		len(segments), len(fullText), result.TotalFillerCount())
	return result, nil
}

// tallyFillers counts case-insensitive exact token matches against the
// configured lexicon, one count per occurrence.
func (a *SpeechAnalyzer) tallyFillers(text string) map[string]int {
	counts := make(map[string]int)
	for _, raw := range strings.Fields(text) {
		token := strings.ToLower(strings.Trim(raw, ".,!?;:'\""))
		for _, filler := range a.lexicon {
			if token == filler {
				counts[filler]++
				break
			}
		}
	}
	return counts
}
