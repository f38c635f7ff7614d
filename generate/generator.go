package generate

import (
	"context"

	"github.com/medusavr/renderq/job"
)

// Spec is the per-image request sent to the generation backend.
type Spec struct {
	Prompt         string
	NegativePrompt string
	CharacterID    string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	Seed           *int64
	Model          string
	LoRAs          []string
	NSFW           bool
}

// Output is the backend's answer for a single image. OK false with a
// Reason is a recognized generation failure; a non-nil error from the
// Generator methods means the call itself broke (transport, contract).
// Both are treated the same way by the pipeline: try the next stage.
type Output struct {
	OK       bool
	ImageURL string
	Seed     *int64
	Reason   string
}

// Generator is the external compute collaborator. Implementations own
// their low-level retry/backoff; the pipeline only sequences stages.
type Generator interface {
	// CharacterConditioned generates an image biased toward a
	// character's learned visual identity.
	CharacterConditioned(ctx context.Context, spec Spec) (Output, error)

	// TextToImage generates an image from the prompt alone.
	TextToImage(ctx context.Context, spec Spec) (Output, error)
}

// PlaceholderFunc deterministically produces a substitute image URL
// from prompt and character metadata. index distinguishes the members
// of a batch. It must return a non-empty URL for any input.
type PlaceholderFunc func(req job.Request, index int) string

// specFromRequest builds the backend spec for batch member index.
// A caller-pinned seed is offset by the index so batch members differ.
func specFromRequest(req job.Request, index int) Spec {
	spec := Spec{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		CharacterID:    req.CharacterID,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		Model:          req.Model,
		LoRAs:          req.LoRAs,
		NSFW:           req.NSFW,
	}
	if req.Seed != nil {
		s := *req.Seed + int64(index)
		spec.Seed = &s
	}
	return spec
}
