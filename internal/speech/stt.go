// Package speech wraps the speech-to-text and text-to-speech providers.
// Both directions degrade instead of failing: STT returns an empty
// transcript and TTS returns empty audio, with the condition logged. The
// caller decides what an empty result means for the turn.
package speech

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	vgotel "github.com/bankabc/voicegate/internal/otel"
)

var tracer = vgotel.Tracer("github.com/bankabc/voicegate/internal/speech")

const transcribeTimeout = 30 * time.Second

// Transcriber converts caller audio to text.
type Transcriber struct {
	client *openai.Client
	model  string
}

// NewTranscriber returns a transcriber talking to an OpenAI-compatible audio
// endpoint (Groq in production).
func NewTranscriber(apiKey, baseURL, model string) *Transcriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Transcriber{client: openai.NewClientWithConfig(cfg), model: model}
}

func newTranscriberWithClient(client *openai.Client, model string) *Transcriber {
	return &Transcriber{client: client, model: model}
}

// Transcribe returns the transcript for audio, or "" when transcription
// fails or yields nothing.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) string {
	ctx, span := tracer.Start(ctx, "speech.transcribe")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "turn.wav",
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		log.Warn().Err(err).Int("audio_bytes", len(audio)).Msg("stt_failed")
		return ""
	}
	return resp.Text
}
