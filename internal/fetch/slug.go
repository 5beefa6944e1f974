// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pdiddy/primary-preserver/pkg/types"
)

const maxSlugLen = 140

// Filename returns the storage filename stem for a candidate:
// "<year>_<slugified-title>", falling back to the slugified identifier when
// the title yields nothing usable.
func Filename(c types.Candidate) string {
	slug := Slug(c.Title)
	if slug == "" {
		slug = Slug(c.Identifier)
	}
	if slug == "" {
		slug = "untitled"
	}
	if c.Year > 0 {
		return strconv.Itoa(c.Year) + "_" + slug
	}
	return slug
}

// Slug reduces a string to a filesystem-safe stem: letters, digits, dashes
// and dots survive, runs of everything else collapse to a single underscore,
// capped at 140 characters.
func Slug(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_.")
	if len(out) > maxSlugLen {
		out = out[:maxSlugLen]
	}
	return out
}
