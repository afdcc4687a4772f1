package client

import (
	"context"

	"github.com/menta2k/card-analyzer/pkg/types"
)

// VisionClient talks to a vision language model server.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectObjects(ctx context.Context, model, prompt, imgB64 string) (*types.ModelDetections, error)
}
