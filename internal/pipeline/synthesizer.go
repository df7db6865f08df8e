package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AudioAsset is the result of a successful synthesis call.
type AudioAsset struct {
	Data            []byte
	Format          string
	DurationSeconds float64
}

// Synthesizer converts story text into timed narration audio. Implementations
// are treated as slow, failing remote operations; callers own timeout and
// retry policy.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*AudioAsset, error)
}

// SynthesizerOptions configures the TTS HTTP client.
type SynthesizerOptions struct {
	BaseURL    string
	SessionID  string
	HTTPClient *http.Client
}

// TTSSynthesizer calls a session-keyed text-to-speech endpoint that returns
// base64 mp3 plus a measured duration.
type TTSSynthesizer struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
}

// NewTTSSynthesizer validates options and builds the client.
func NewTTSSynthesizer(opts SynthesizerOptions) (*TTSSynthesizer, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("tts: base url is required")
	}
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, errors.New("tts: session id is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &TTSSynthesizer{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		sessionID:  opts.SessionID,
		httpClient: client,
	}, nil
}

type ttsResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Data       struct {
		VStr     string `json:"v_str"`
		Duration string `json:"duration"`
	} `json:"data"`
}

// Synthesize requests narration for the text in one call. Rate limiting and
// upstream 5xx responses are classified transient.
func (s *TTSSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (*AudioAsset, error) {
	endpoint := fmt.Sprintf("%s/?text_speaker=%s&req_text=%s&speaker_map_type=0&aid=1233",
		s.baseURL, url.QueryEscape(voiceID), url.QueryEscape(text))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("User-Agent", "com.zhiliaoapp.musically/2022600030")
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: s.sessionID})

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("tts: request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, Transient(fmt.Errorf("tts: upstream status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: upstream status %d", resp.StatusCode)
	}

	var payload ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("tts: decode response: %w", err)
	}
	if payload.StatusCode != 0 {
		return nil, fmt.Errorf("tts: synthesis rejected (code %d): %s", payload.StatusCode, payload.Message)
	}

	data, err := base64.StdEncoding.DecodeString(payload.Data.VStr)
	if err != nil {
		return nil, fmt.Errorf("tts: decode audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tts: empty audio payload")
	}

	durationMS, err := strconv.ParseFloat(strings.TrimSpace(payload.Data.Duration), 64)
	if err != nil || durationMS <= 0 {
		// The endpoint occasionally omits duration; estimate from text length.
		durationMS = estimateDurationSeconds(text) * 1000
	}

	return &AudioAsset{
		Data:            data,
		Format:          "audio/mpeg",
		DurationSeconds: durationMS / 1000,
	}, nil
}

var _ Synthesizer = (*TTSSynthesizer)(nil)

// StubSynthesizer produces deterministic synthetic narration. Used when no
// TTS session is configured and throughout the test suite.
type StubSynthesizer struct {
	// Err, when set, is returned by every call.
	Err error
}

// Synthesize returns placeholder audio whose duration is estimated from the
// word count at conversational pace.
func (s *StubSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (*AudioAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return &AudioAsset{
		Data:            []byte("synthetic-audio:" + voiceID),
		Format:          "audio/mpeg",
		DurationSeconds: estimateDurationSeconds(text),
	}, nil
}

var _ Synthesizer = (*StubSynthesizer)(nil)

// estimateDurationSeconds approximates narration length at ~150 words/minute.
func estimateDurationSeconds(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 1
	}
	return float64(words) / 2.5
}
