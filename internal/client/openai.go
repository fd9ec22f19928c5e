package client

import (
	"bytes"
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient wraps the OpenAI API client for the three capabilities the
// exercise pipeline needs: transcription, chat and speech synthesis.
type OpenAIClient struct {
	client    *openai.Client
	chatModel string
	sttModel  string
	ttsModel  openai.SpeechModel
	voice     openai.SpeechVoice
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		client:    openai.NewClient(apiKey),
		chatModel: openai.GPT4oMini,
		sttModel:  openai.Whisper1,
		ttsModel:  openai.TTSModel1,
		voice:     openai.VoiceAlloy,
	}
}

// WithChatModel sets the chat model to use.
func (c *OpenAIClient) WithChatModel(model string) *OpenAIClient {
	c.chatModel = model
	return c
}

// Transcribe sends recorded audio to Whisper and returns the transcript.
// languageHint is an optional ISO-639-1 code; empty means auto-detect.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, languageHint string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.sttModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio.wav",
		Language: languageHint,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Converse sends a system prompt plus ordered conversation history and
// returns the next assistant utterance.
func (c *OpenAIClient) Converse(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Assistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Text,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Synthesize converts text to speech. MP3 is requested because every
// classroom device (browser audio element, tablets) can decode it.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.ttsModel,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	return io.ReadAll(resp)
}

// Message is one prior utterance passed to a chat provider. Assistant marks
// tutor turns; everything else is treated as the student.
type Message struct {
	Assistant bool
	Text      string
}
