package job

import "github.com/medusavr/renderq/id"

// Result is the outcome of a completed job. At least one image URL is
// always present; when the generation backend was degraded the URLs
// point at deterministic placeholder content rather than nothing.
type Result struct {
	// ImageID and ImageURL identify the primary image.
	ImageID  id.ImageID `json:"image_id"`
	ImageURL string     `json:"image_url"`

	// ImageURLs holds every successfully produced image in generation
	// order. Its length is at most the requested quantity and at
	// least one.
	ImageURLs []string `json:"image_urls"`

	// GeneratedCount is the number of sub-generations that actually
	// succeeded; it can be lower than the requested quantity.
	GeneratedCount int `json:"generated_count"`

	// UsedCharacterConditioning reports whether the result came from
	// the character-conditioned stage.
	UsedCharacterConditioning bool `json:"used_character_conditioning"`

	// Stage names the fallback stage that produced the images:
	// "character", "generic", or "placeholder".
	Stage string `json:"stage"`

	Seed *int64 `json:"seed,omitempty"`

	GenerationTimeSeconds float64 `json:"generation_time_seconds"`

	// SubFailures records per-sub-generation failure reasons for
	// diagnostics. They are never surfaced as job failure.
	SubFailures []string `json:"sub_failures,omitempty"`
}

func (r *Result) clone() *Result {
	cp := *r
	if r.Seed != nil {
		s := *r.Seed
		cp.Seed = &s
	}
	if r.ImageURLs != nil {
		cp.ImageURLs = append([]string(nil), r.ImageURLs...)
	}
	if r.SubFailures != nil {
		cp.SubFailures = append([]string(nil), r.SubFailures...)
	}
	return &cp
}
