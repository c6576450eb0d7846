package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const synthesizeTimeout = 30 * time.Second

// Synthesizer converts agent answers to speech through Deepgram's speak API.
type Synthesizer struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewSynthesizer returns a synthesizer for the given Deepgram voice model.
func NewSynthesizer(apiKey, baseURL, model string) *Synthesizer {
	return &Synthesizer{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: synthesizeTimeout},
	}
}

// Synthesize returns MP3 audio for text, or nil when synthesis fails. A
// failed synthesis never fails the turn; the caller delivers text only.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) []byte {
	ctx, span := tracer.Start(ctx, "speech.synthesize")
	defer span.End()

	if text == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil
	}
	endpoint := fmt.Sprintf("%s/v1/speak?model=%s&encoding=mp3", s.baseURL, url.QueryEscape(s.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		log.Warn().Err(err).Msg("tts_request_build_failed")
		return nil
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("tts_failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("tts_upstream_error")
		return nil
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn().Err(err).Msg("tts_read_failed")
		return nil
	}
	return audio
}
