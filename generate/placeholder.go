package generate

import (
	"fmt"
	"hash/fnv"

	"github.com/medusavr/renderq/job"
)

// DefaultPlaceholder derives a stable seeded image URL from the prompt
// and character metadata. The same request always maps to the same
// placeholder, so retried or duplicated jobs stay visually consistent
// for the user.
func DefaultPlaceholder(req job.Request, index int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", req.Prompt, req.CharacterID, index)
	return fmt.Sprintf("https://picsum.photos/seed/%x/%d/%d", h.Sum64(), req.Width, req.Height)
}
