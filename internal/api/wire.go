package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/services"
)

// reviewRequestBody is the wire form of a single review. Confidence is a
// pointer so a missing value is rejected instead of read as zero.
type reviewRequestBody struct {
	Text           string   `json:"text"`
	PredictedLabel string   `json:"predicted_label"`
	Confidence     *float64 `json:"confidence"`
	SampleID       string   `json:"sample_id,omitempty"`
	Mode           string   `json:"mode,omitempty"`
}

func (b reviewRequestBody) toModel() (models.ReviewRequest, error) {
	if b.Confidence == nil {
		return models.ReviewRequest{}, fmt.Errorf("%w: confidence is required", services.ErrInvalidRequest)
	}
	return models.ReviewRequest{
		Text:           b.Text,
		PredictedLabel: b.PredictedLabel,
		Confidence:     *b.Confidence,
		SampleID:       b.SampleID,
		Mode:           b.Mode,
	}, nil
}

type invalidateResponse struct {
	CacheEnabled bool `json:"cache_enabled"`
}

type summaryRequestBody struct {
	PassID string `json:"pass_id"`
}

type historyRequestBody struct {
	SampleID string `json:"sample_id"`
	Limit    int    `json:"limit,omitempty"`
}

// decodeStruct converts a protobuf Struct into v through its JSON form.
func decodeStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", services.ErrInvalidRequest, err)
	}
	return nil
}

// encodeStruct converts v into a protobuf Struct through its JSON form.
func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// encodeList wraps a JSON array as {"items": [...]}.
func encodeList[T any](items []T) (*structpb.Struct, error) {
	return encodeStruct(map[string]any{"items": items})
}
