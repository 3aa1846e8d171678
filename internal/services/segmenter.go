package services

import (
	"regexp"
	"strings"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
)

// SplitDelimiter marks a bubble boundary in model output.
const SplitDelimiter = "[SPLIT]"

const (
	spacingSlipChance = 0.3
	typoChance        = 0.2
)

var (
	particleSpacingPattern = regexp.MustCompile(`([가-힣])\s+(는|은|이|가|을|를|도|만|까지|부터|에서|에게|한테)`)
	commaBoundaryPattern   = regexp.MustCompile(`,\s*`)
	// \s+ can never match directly before a delimiter, so text that is
	// already split is left alone.
	exclaimBoundaryPattern = regexp.MustCompile(`([?!])\s+`)
	periodBoundaryPattern  = regexp.MustCompile(`([.。])\s+`)
)

var parentTypos = []struct {
	from string
	to   string
}{
	{"됐", "됬"},
	{"했", "햇"},
	{"있", "잇"},
	{"없", "업"},
	{"돼", "되"},
	{"웬", "왠"},
	{"뭐", "머"},
}

// SegmentRules is the persona-dependent part of segmentation.
type SegmentRules interface {
	CommaPattern(mbti models.MBTIType) CommaPattern
	KeepsPeriods(cfg models.ChatbotConfig) bool
	UsesTypos(rel models.Relationship) bool
}

// Segmenter turns one raw model reply into chat bubbles.
type Segmenter struct {
	rules SegmentRules
	rand  random.Source
}

func NewSegmenter(rules SegmentRules, src random.Source) *Segmenter {
	return &Segmenter{rules: rules, rand: src}
}

// Segment annotates text with delimiters and splits it. The result is empty
// only when text has no visible content at all.
func (s *Segmenter) Segment(text string, cfg models.ChatbotConfig) []string {
	segments := Split(s.Annotate(text, cfg))
	if len(segments) == 0 {
		if trimmed := strings.TrimSpace(strings.ReplaceAll(text, SplitDelimiter, "")); trimmed != "" {
			return []string{trimmed}
		}
	}
	return segments
}

// Annotate inserts bubble delimiters according to the persona rules.
func (s *Segmenter) Annotate(text string, cfg models.ChatbotConfig) string {
	if s.rules.UsesTypos(cfg.Relationship) {
		text = s.misspell(text)
	}

	pattern := s.rules.CommaPattern(cfg.MBTI)
	if !pattern.UseComma || s.rand.Float64() < pattern.SplitRatio {
		text = commaBoundaryPattern.ReplaceAllString(text, SplitDelimiter)
	}

	text = exclaimBoundaryPattern.ReplaceAllString(text, "${1}"+SplitDelimiter)

	if s.rules.KeepsPeriods(cfg) {
		text = periodBoundaryPattern.ReplaceAllString(text, "${1}"+SplitDelimiter)
	}
	return text
}

// misspell only touches letters and spaces inside a sentence, never the
// punctuation that decides bubble boundaries.
func (s *Segmenter) misspell(text string) string {
	text = particleSpacingPattern.ReplaceAllStringFunc(text, func(match string) string {
		if s.rand.Float64() >= spacingSlipChance {
			return match
		}
		groups := particleSpacingPattern.FindStringSubmatch(match)
		return groups[1] + groups[2]
	})

	for _, typo := range parentTypos {
		if s.rand.Float64() < typoChance {
			text = strings.ReplaceAll(text, typo.from, typo.to)
		}
	}
	return text
}

// Split cuts text at every delimiter, trims the pieces and drops empty ones.
func Split(text string) []string {
	parts := strings.Split(text, SplitDelimiter)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return segments
}

// SplitMarked splits text on the delimiters the author already placed,
// keeping the whole trimmed text when there are none.
func SplitMarked(text string) []string {
	if !strings.Contains(text, SplitDelimiter) {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}
	return Split(text)
}
