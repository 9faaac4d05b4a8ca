package llm

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_MissingAPIKey(t *testing.T) {
	client, err := NewClient(context.Background(), DefaultConfig(), "")
	require.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Nil(t, client)
}

func TestNewClient_UnsupportedProvider(t *testing.T) {
	cfg := &Config{Provider: "other"}
	_, err := NewClient(context.Background(), cfg, "key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestExtractTextFromResponse(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr bool
	}{
		{name: "nil response", resp: nil, wantErr: true},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}, wantErr: true},
		{
			name:    "no content",
			resp:    &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}},
			wantErr: true,
		},
		{
			name: "joined text parts",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}},
			}}},
			want: `{"a":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractTextFromResponse(tt.resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChunkText_ToleratesEmptyChunks(t *testing.T) {
	assert.Equal(t, "", chunkText(nil))
	assert.Equal(t, "", chunkText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}))
}
