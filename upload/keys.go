package upload

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// generalFolder is the destination folder for requests without a
// character reference.
const generalFolder = "general"

// DestinationKey builds the storage key prefix for an owner/character
// pair and the next free sequence index under it:
//
//	{ownerName}/{character-or-general}/{seq}.png
//
// The sequence index is computed by listing existing entries and
// taking max+1. Two concurrent uploads for the same owner/character
// can race here and compute the same index; exactly-once numbering
// would need an atomic counter in the storage/metadata layer itself.
func (p *Pipeline) DestinationKey(ctx context.Context, ownerID, characterName string) (string, error) {
	name := ownerID
	if p.owners != nil {
		resolved, err := p.owners.DisplayName(ctx, ownerID)
		if err != nil {
			p.logger.Debug("owner lookup failed, using raw id in key",
				slog.String("owner_id", ownerID),
				slog.String("error", err.Error()),
			)
		} else if resolved != "" {
			name = resolved
		}
	}

	folder := generalFolder
	if characterName != "" {
		folder = sanitize(characterName)
	}

	prefix := sanitize(name) + "/" + folder + "/"
	seq, err := p.nextSequence(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d.png", prefix, seq), nil
}

// nextSequence lists the prefix and returns max existing index + 1.
func (p *Pipeline) nextSequence(ctx context.Context, prefix string) (int, error) {
	keys, err := p.storage.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", prefix, err)
	}

	maxSeq := 0
	for _, key := range keys {
		base := strings.TrimPrefix(key, prefix)
		base = strings.TrimSuffix(base, ".png")
		n, convErr := strconv.Atoi(base)
		if convErr != nil {
			continue
		}
		if n > maxSeq {
			maxSeq = n
		}
	}
	return maxSeq + 1, nil
}

// sanitize lowers a path segment and replaces anything that is not a
// letter, digit, or dash.
func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
