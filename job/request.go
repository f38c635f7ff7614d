package job

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/medusavr/renderq"
)

// validate is the shared validator instance. validator.Validate caches
// struct metadata, so a single instance is reused across requests.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Request describes one image-generation request. It is immutable once
// a job is created from it.
type Request struct {
	Prompt         string `json:"prompt" validate:"required,min=1,max=2000"`
	NegativePrompt string `json:"negative_prompt,omitempty" validate:"max=2000"`

	// CharacterID selects character-conditioned generation when set.
	// CharacterName is carried for storage key and placeholder
	// construction; it is resolved by the caller, not looked up here.
	CharacterID   string `json:"character_id,omitempty"`
	CharacterName string `json:"character_name,omitempty" validate:"max=120"`

	Width         int     `json:"width" validate:"required,min=64,max=2048"`
	Height        int     `json:"height" validate:"required,min=64,max=2048"`
	Steps         int     `json:"steps" validate:"min=1,max=150"`
	GuidanceScale float64 `json:"guidance_scale" validate:"min=0,max=30"`
	Seed          *int64  `json:"seed,omitempty"`

	// Quantity is how many images to generate. Values above one fan
	// out into concurrent sub-generations.
	Quantity int `json:"quantity" validate:"min=1,max=8"`

	// Model selects the style/checkpoint on the generation backend.
	Model string `json:"model" validate:"required,max=120"`

	// LoRAs is an optional list of style adapters applied on top of
	// the base model.
	LoRAs []string `json:"loras,omitempty" validate:"max=5,dive,min=1,max=120"`

	NSFW bool `json:"nsfw"`
}

// Validate checks the request against its declared constraints. A
// request that fails validation is rejected before enqueue and never
// becomes a Job.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", renderq.ErrInvalidRequest, err)
	}
	return nil
}

// Conditioned reports whether the request asks for character-conditioned
// generation.
func (r *Request) Conditioned() bool { return r.CharacterID != "" }

func (r Request) clone() Request {
	cp := r
	if r.Seed != nil {
		s := *r.Seed
		cp.Seed = &s
	}
	if r.LoRAs != nil {
		cp.LoRAs = append([]string(nil), r.LoRAs...)
	}
	return cp
}
