package scoring

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Signal weights for the breaking score formula. They sum to 1.0.
const (
	weightKeyword   = 0.35
	weightUniversal = 0.25
	weightRecency   = 0.25
	weightTitle     = 0.15
)

// Per-match contributions, capped at the owning signal's weight.
const (
	perKeywordScore   = 0.15
	perUniversalScore = 0.10
)

// Defaults. All of these are tunable per domain via configuration.
const (
	DefaultHalfLife          = 24 * time.Hour
	DefaultRecencyCutoff     = 6 * time.Hour
	DefaultBreakingThreshold = 0.5

	// veryFreshAge is the age under which the recency signal
	// contributes its full weight.
	veryFreshAge = 2 * time.Hour
)

// Freshness returns the exponential-decay recency score in [0, 1]:
// 0.5^(elapsed/halfLife). At elapsed == halfLife the result is exactly
// 0.5. A reference time in the future clamps to 1. A non-positive
// halfLife falls back to DefaultHalfLife.
func Freshness(ref, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	elapsed := now.Sub(ref)
	if elapsed <= 0 {
		return 1
	}
	return clamp01(math.Pow(0.5, float64(elapsed)/float64(halfLife)))
}

// Input holds everything the breaking score needs. Keywords are the
// domain-specific trigger set; Universal are cross-domain urgency
// keywords that apply to every partition.
type Input struct {
	Title     string
	Body      string
	Keywords  []string
	Universal []string

	// Reference is the published-or-ingested timestamp the recency
	// signal decays from.
	Reference time.Time

	// RecencyCutoff is the age past which the recency signal drops to
	// zero. Zero means DefaultRecencyCutoff.
	RecencyCutoff time.Duration
}

// Analysis is the result of one breaking-score evaluation.
type Analysis struct {
	// Score is the combined urgency score in [0, 1].
	Score float64

	// Matched holds the deduplicated, case-normalized keywords that were
	// found, in order of first occurrence in the text. Universal matches
	// carry an "[URGENT] " prefix.
	Matched []string

	// Signals maps each contributing signal name to its contribution.
	// Useful for per-signal breakdowns in diagnostics.
	Signals map[string]float64
}

// IsBreaking reports whether the score meets threshold. A non-positive
// threshold falls back to DefaultBreakingThreshold.
func (a Analysis) IsBreaking(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultBreakingThreshold
	}
	return a.Score >= threshold
}

// Breaking computes the urgency score for one item at the given time.
//
// The score combines four signals: domain keyword matches (0.15 each,
// capped at 0.35), universal urgency keyword matches (0.10 each, capped
// at 0.25), an age-recency boost (full weight under 2h, 75% under the
// cutoff, zero past it — a keyword match on month-old content is not
// breaking), and title urgency patterns (prefixes like "breaking:",
// trailing exclamations, shouting caps).
func Breaking(in Input, now time.Time) Analysis {
	signals := make(map[string]float64)
	total := 0.0

	text := strings.ToLower(in.Title + " " + in.Body)

	domainMatches := findMatches(text, in.Keywords)
	if n := len(domainMatches); n > 0 {
		s := math.Min(float64(n)*perKeywordScore, weightKeyword)
		signals["keyword_match"] = s
		total += s
	}

	universalMatches := findMatches(text, in.Universal)
	if n := len(universalMatches); n > 0 {
		s := math.Min(float64(n)*perUniversalScore, weightUniversal)
		signals["universal_keyword"] = s
		total += s
	}

	if s := recencyScore(in.Reference, now, in.RecencyCutoff); s > 0 {
		signals["recency"] = s
		total += s
	}

	if s := titleUrgency(in.Title); s > 0 {
		signals["title_urgency"] = s
		total += s
	}

	matched := make([]string, 0, len(domainMatches)+len(universalMatches))
	seen := make(map[string]struct{}, cap(matched))
	for _, m := range domainMatches {
		if _, ok := seen[m.keyword]; ok {
			continue
		}
		seen[m.keyword] = struct{}{}
		matched = append(matched, m.keyword)
	}
	for _, m := range universalMatches {
		if _, ok := seen[m.keyword]; ok {
			continue
		}
		seen[m.keyword] = struct{}{}
		matched = append(matched, "[URGENT] "+m.keyword)
	}

	return Analysis{
		Score:   clamp01(total),
		Matched: matched,
		Signals: signals,
	}
}

// match is one keyword hit together with its first occurrence offset.
type match struct {
	keyword string
	index   int
}

// findMatches returns the keywords found in text (already lowercased)
// with word-boundary matching, ordered by first occurrence.
func findMatches(text string, keywords []string) []match {
	var out []match
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if idx := boundaryIndex(text, kw); idx >= 0 {
			out = append(out, match{keyword: kw, index: idx})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// boundaryIndex returns the byte offset of the first occurrence of kw
// in text where both ends land on a word boundary, or -1.
func boundaryIndex(text, kw string) int {
	for from := 0; ; {
		rel := strings.Index(text[from:], kw)
		if rel < 0 {
			return -1
		}
		idx := from + rel
		if boundaryBefore(text, idx) && boundaryAfter(text, idx+len(kw)) {
			return idx
		}
		from = idx + 1
	}
}

func boundaryBefore(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:idx])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, idx int) bool {
	if idx >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[idx:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// recencyScore returns the recency signal contribution. Past the cutoff
// the contribution is zero regardless of keyword matches.
func recencyScore(ref, now time.Time, cutoff time.Duration) float64 {
	if ref.IsZero() {
		return 0
	}
	if cutoff <= 0 {
		cutoff = DefaultRecencyCutoff
	}
	age := now.Sub(ref)
	switch {
	case age < 0:
		return weightRecency
	case age < veryFreshAge:
		return weightRecency
	case age < cutoff:
		return weightRecency * 0.75
	default:
		return 0
	}
}

// urgencyPrefixes are title lead-ins that indicate urgency.
var urgencyPrefixes = []string{
	"breaking:", "urgent:", "alert:", "just in:", "developing:", "exclusive:",
}

// titleUrgency scores urgency patterns in the title: a recognized
// prefix or bracket tag, trailing exclamation, or shouting caps.
func titleUrgency(title string) float64 {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0
	}
	lower := strings.ToLower(title)
	score := 0.0

	patternHit := strings.Contains(lower, "[breaking]") ||
		strings.Contains(lower, "[urgent]") ||
		strings.HasSuffix(lower, "!") ||
		strings.Contains(lower, "!!!")
	if !patternHit {
		for _, p := range urgencyPrefixes {
			if strings.HasPrefix(lower, p) {
				patternHit = true
				break
			}
		}
	}
	if patternHit {
		score += weightTitle * 0.5
	}

	caps := 0
	for _, w := range strings.Fields(title) {
		if len(w) > 2 && w == strings.ToUpper(w) && w != strings.ToLower(w) {
			caps++
		}
	}
	if caps >= 2 {
		score += weightTitle * 0.3
	}

	return math.Min(score, weightTitle)
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
