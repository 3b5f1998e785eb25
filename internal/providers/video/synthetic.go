package video

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SyntheticGenerator emits a deterministic placeholder clip so local and CI
// environments work without an API key.
type SyntheticGenerator struct{}

// NewSyntheticGenerator builds a placeholder video generator.
func NewSyntheticGenerator() *SyntheticGenerator {
	return &SyntheticGenerator{}
}

func (g *SyntheticGenerator) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s|%s|%s", req.City, req.Category, req.TimeOfDay)
	seed := hex.EncodeToString(hasher.Sum(nil))[:16]
	return []byte("SYNTHETIC-CLIP:" + seed), nil
}

var _ Generator = (*SyntheticGenerator)(nil)
