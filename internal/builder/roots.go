package builder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/biohub-dev/biohub/internal/huberrors"
)

// ResolveRoots expands a build config's root patterns against the full
// source list. Each pattern is a regular expression matched against
// source names; a leading "!" negates the whole pattern set instead of
// one entry, so root=["!a","!b"] means "every source except a and b",
// matching the original's merge-everyone-except semantics. Mixing
// negated and non-negated entries is rejected as a manifest-shaped
// validation error, since the two forms can't be combined
// unambiguously.
func ResolveRoots(allSources []string, rootPatterns []string) (map[string]bool, error) {
	if len(rootPatterns) == 0 {
		return map[string]bool{}, nil
	}

	negated, positive := false, false
	for _, p := range rootPatterns {
		if strings.HasPrefix(p, "!") {
			negated = true
		} else {
			positive = true
		}
	}
	if negated && positive {
		return nil, huberrors.NewPluginSpecError(huberrors.SubcategoryExclusive, "/build/root", "root entries cannot mix negated (!) and non-negated patterns")
	}

	matched := map[string]bool{}
	for _, p := range rootPatterns {
		pattern := strings.TrimPrefix(p, "!")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("builder: invalid root pattern %q: %w", p, err)
		}
		for _, s := range allSources {
			if re.MatchString(s) {
				matched[s] = true
			}
		}
	}

	if !negated {
		return matched, nil
	}

	roots := map[string]bool{}
	for _, s := range allSources {
		if !matched[s] {
			roots[s] = true
		}
	}
	return roots, nil
}

// orderSources returns sources split into root-first, non-root-second
// order, each half in its original relative order.
func orderSources(sources []string, roots map[string]bool) []string {
	ordered := make([]string, 0, len(sources))
	for _, s := range sources {
		if roots[s] {
			ordered = append(ordered, s)
		}
	}
	for _, s := range sources {
		if !roots[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}
