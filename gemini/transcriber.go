package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/room4-2/OrderDesk/transcribe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const transcribeInstruction = `Transcribe the speech in this audio verbatim in %s.
Return only the transcript text with normal punctuation. Do not add commentary, speaker labels or timestamps.
If there is no intelligible speech, return an empty response.`

// Transcriber implements transcribe.Transcriber with inline audio on generateContent
type Transcriber struct {
	client *genai.Client
	model  string
}

// NewTranscriber creates a batch speech-to-text adapter
func NewTranscriber(client *genai.Client, model string) *Transcriber {
	return &Transcriber{client: client, model: model}
}

// Transcribe sends the whole buffer and returns the transcript text
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, req transcribe.Request) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini.transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.Int("audio.bytes", len(audio)),
		attribute.String("audio.format", req.Format),
		attribute.String("audio.language", req.Language),
	)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(fmt.Sprintf(transcribeInstruction, languageName(req.Language))),
			genai.NewPartFromBytes(audio, MIMEType(req.Format)),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, config)
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// MIMEType maps a declared container format to an audio MIME type
func MIMEType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "wav", "wave":
		return "audio/wav"
	case "mp3", "mpeg":
		return "audio/mp3"
	case "ogg", "opus":
		return "audio/ogg"
	case "m4a", "mp4", "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "pcm", "pcm16", "linear16":
		return "audio/pcm;rate=16000"
	default:
		return "audio/webm"
	}
}

func languageName(code string) string {
	switch strings.ToLower(code) {
	case "", "en":
		return "English"
	case "ar":
		return "Arabic"
	case "es":
		return "Spanish"
	case "fr":
		return "French"
	case "de":
		return "German"
	default:
		return "the language with code " + code
	}
}
