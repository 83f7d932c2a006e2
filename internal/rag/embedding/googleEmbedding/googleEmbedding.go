package googleEmbedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/rag/embedding"
	"github.com/akolanti/kbAPI/pkg/logger_i"
	"google.golang.org/genai"
)

var logger *logger_i.Logger
var once sync.Once
var embeddingClient *client
var dimension int32 = config.EmbeddingOutputDimensionality

type client struct {
	genAi *genai.Client
	model string
}

func newGoogleEmbedder(ctx context.Context, modelName string, apikey string) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apikey})
	if err != nil {
		logger.Error("Error creating Google Embedding client:", "error", err)
	}
	if c != nil {
		embeddingClient = &client{
			genAi: c,
			model: modelName,
		}
		logger.Debug("Google Embedding model name: " + modelName)
		logger.Info("Google Embedding client created")
	}
}

func GetGoogleEmbeddingClient(ctx context.Context, modelName string, apikey string) embedding.Embedder {
	once.Do(func() {
		logger = logger_i.NewLogger("google_embedding")
		newGoogleEmbedder(ctx, modelName, apikey)
	})

	//if init still fails
	if embeddingClient == nil {
		return nil
	}
	return &client{genAi: embeddingClient.genAi, model: embeddingClient.model}
}

func (c *client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	log := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	result, err := c.genAi.Models.EmbedContent(ctx, c.model, genai.Text(query),
		&genai.EmbedContentConfig{OutputDimensionality: &dimension, TaskType: "RETRIEVAL_QUERY"})
	if err != nil {
		log.Error("Error getting query embedding from Google", "error", err.Error())
		return nil, classify(err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", kbModel.ErrTransientIO)
	}
	return result.Embeddings[0].Values, nil
}

// EmbedBatch embeds one batch of chunk texts. Backoff and the attempt budget
// are the pipeline's business; this only classifies the failure.
func (c *client) EmbedBatch(ctx context.Context, chunks []string) ([][]float32, error) {
	log := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "batch size", len(chunks))

	res, err := c.genAi.Models.EmbedContent(ctx, c.model, getContent(chunks),
		&genai.EmbedContentConfig{OutputDimensionality: &dimension, TaskType: "RETRIEVAL_DOCUMENT"})
	if err != nil {
		log.Error("Error getting batch embeddings from Google", "error", err.Error())
		return nil, classify(err)
	}
	if len(res.Embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks",
			kbModel.ErrTransientIO, len(res.Embeddings), len(chunks))
	}

	vectors := make([][]float32, 0, len(res.Embeddings))
	for _, r := range res.Embeddings {
		vectors = append(vectors, r.Values)
	}
	return vectors, nil
}
