package googleEmbedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func getContent(chunks []string) []*genai.Content {
	contentsToSend := make([]*genai.Content, 0, len(chunks))

	for _, chunk := range chunks {
		contentsToSend = append(contentsToSend, &genai.Content{
			Parts: []*genai.Part{{Text: chunk}},
		})
	}
	return contentsToSend
}

// classify folds provider failures into the error taxonomy. Rate limits,
// unavailability and timeouts are transient; everything else is terminal for
// this attempt budget.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: embedding deadline: %v", kbModel.ErrTransientIO, err)
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return fmt.Errorf("%w: embedding: %v", kbModel.ErrTransientIO, err)
		}
	}
	return err
}
