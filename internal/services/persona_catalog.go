package services

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed personas/personas.yaml
var builtinPersonas []byte

type CommaPattern struct {
	UseComma   bool    `yaml:"useComma" json:"useComma"`
	SplitRatio float64 `yaml:"splitRatio" json:"splitRatio"`
}

type MBTIProfile struct {
	Type               models.MBTIType     `yaml:"-" json:"type"`
	Name               string              `yaml:"name" json:"name"`
	Title              string              `yaml:"title" json:"title"`
	Description        string              `yaml:"description" json:"description"`
	Traits             []string            `yaml:"traits" json:"traits"`
	TalkingStyle       string              `yaml:"talkingStyle" json:"talkingStyle"`
	Emoji              string              `yaml:"emoji" json:"emoji"`
	CommaPattern       *CommaPattern       `yaml:"commaPattern" json:"-"`
	SilenceWaitSeconds int                 `yaml:"silenceWaitSeconds" json:"-"`
	SafetyRedirect     string              `yaml:"safetyRedirect" json:"-"`
	Welcome            map[string][]string `yaml:"welcome" json:"-"`
}

type RelationshipProfile struct {
	Type         models.Relationship `yaml:"-" json:"type"`
	Name         string              `yaml:"name" json:"name"`
	Description  string              `yaml:"description" json:"description"`
	TalkingStyle string              `yaml:"talkingStyle" json:"talkingStyle"`
	Emoji        string              `yaml:"emoji" json:"emoji"`
	Guide        string              `yaml:"guide" json:"-"`
	Examples     []string            `yaml:"examples" json:"examples"`
}

type SilenceFallbacks struct {
	Extravert        []string `yaml:"extravert"`
	Introvert        []string `yaml:"introvert"`
	BlockedExtravert string   `yaml:"blockedExtravert"`
	BlockedIntrovert string   `yaml:"blockedIntrovert"`
}

type personaDefaults struct {
	CommaPattern       CommaPattern `yaml:"commaPattern"`
	SilenceWaitSeconds int          `yaml:"silenceWaitSeconds"`
	SafetyRedirect     string       `yaml:"safetyRedirect"`
	Welcome            []string     `yaml:"welcome"`
}

type catalogFile struct {
	Defaults            personaDefaults                 `yaml:"defaults"`
	FormalTypes         []models.MBTIType               `yaml:"formalTypes"`
	FormalRelationships []models.Relationship           `yaml:"formalRelationships"`
	TypoRelationships   []models.Relationship           `yaml:"typoRelationships"`
	TimeGreetings       map[string][]string             `yaml:"timeGreetings"`
	SilenceFallbacks    SilenceFallbacks                `yaml:"silenceFallbacks"`
	Relationships       map[string]*RelationshipProfile `yaml:"relationships"`
	Types               map[string]*MBTIProfile         `yaml:"types"`
}

// PersonaCatalog holds every persona-dependent table: descriptions, comma
// and silence tables, canned redirects, welcome lines and fallbacks.
type PersonaCatalog struct {
	data       catalogFile
	personaDir string
	logger     zerolog.Logger
}

// LoadPersonaCatalog parses the built-in catalog. personaDir, when set, is
// searched for <MBTI>.md sheets that replace the rendered persona text.
func LoadPersonaCatalog(personaDir string, logger zerolog.Logger) (*PersonaCatalog, error) {
	pc, err := ParsePersonaCatalog(builtinPersonas)
	if err != nil {
		return nil, err
	}
	pc.personaDir = personaDir
	pc.logger = logger
	return pc, nil
}

func ParsePersonaCatalog(raw []byte) (*PersonaCatalog, error) {
	var data catalogFile
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse persona catalog: %w", err)
	}

	var errs []error
	for _, t := range models.MBTITypes {
		p, ok := data.Types[string(t)]
		if !ok {
			errs = append(errs, fmt.Errorf("missing persona %s", t))
			continue
		}
		p.Type = t
	}
	for _, r := range models.Relationships {
		p, ok := data.Relationships[string(r)]
		if !ok {
			errs = append(errs, fmt.Errorf("missing relationship %s", r))
			continue
		}
		p.Type = r
	}
	if len(data.SilenceFallbacks.Extravert) == 0 || len(data.SilenceFallbacks.Introvert) == 0 {
		errs = append(errs, errors.New("silence fallbacks must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid persona catalog: %w", err)
	}
	return &PersonaCatalog{data: data, logger: zerolog.Nop()}, nil
}

func (pc *PersonaCatalog) Profile(mbti models.MBTIType) (*MBTIProfile, bool) {
	p, ok := pc.data.Types[string(mbti)]
	return p, ok
}

func (pc *PersonaCatalog) Relationship(rel models.Relationship) (*RelationshipProfile, bool) {
	p, ok := pc.data.Relationships[string(rel)]
	return p, ok
}

// MBTIProfiles returns the personas in setup-wizard order.
func (pc *PersonaCatalog) MBTIProfiles() []MBTIProfile {
	out := make([]MBTIProfile, 0, len(models.MBTITypes))
	for _, t := range models.MBTITypes {
		out = append(out, *pc.data.Types[string(t)])
	}
	return out
}

func (pc *PersonaCatalog) RelationshipProfiles() []RelationshipProfile {
	out := make([]RelationshipProfile, 0, len(models.Relationships))
	for _, r := range models.Relationships {
		out = append(out, *pc.data.Relationships[string(r)])
	}
	return out
}

func (pc *PersonaCatalog) CommaPattern(mbti models.MBTIType) CommaPattern {
	if p, ok := pc.Profile(mbti); ok && p.CommaPattern != nil {
		return *p.CommaPattern
	}
	return pc.data.Defaults.CommaPattern
}

// KeepsPeriods reports whether sentence-final periods end a bubble.
func (pc *PersonaCatalog) KeepsPeriods(cfg models.ChatbotConfig) bool {
	for _, t := range pc.data.FormalTypes {
		if t == cfg.MBTI {
			return true
		}
	}
	for _, r := range pc.data.FormalRelationships {
		if r == cfg.Relationship {
			return true
		}
	}
	return false
}

// UsesTypos reports whether the relationship role writes with deliberate
// spacing mistakes and misspellings.
func (pc *PersonaCatalog) UsesTypos(rel models.Relationship) bool {
	for _, r := range pc.data.TypoRelationships {
		if r == rel {
			return true
		}
	}
	return false
}

// SilenceWait is the first silence follow-up delay for the persona.
func (pc *PersonaCatalog) SilenceWait(mbti models.MBTIType) time.Duration {
	seconds := pc.data.Defaults.SilenceWaitSeconds
	if p, ok := pc.Profile(mbti); ok && p.SilenceWaitSeconds > 0 {
		seconds = p.SilenceWaitSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (pc *PersonaCatalog) SafetyRedirect(mbti models.MBTIType) string {
	if p, ok := pc.Profile(mbti); ok && p.SafetyRedirect != "" {
		return p.SafetyRedirect
	}
	return pc.data.Defaults.SafetyRedirect
}

func (pc *PersonaCatalog) DefaultRedirect() string {
	return pc.data.Defaults.SafetyRedirect
}

// WelcomeLines returns the opener candidates. Introverts never open.
func (pc *PersonaCatalog) WelcomeLines(cfg models.ChatbotConfig) []string {
	if !cfg.MBTI.IsExtravert() {
		return nil
	}
	if p, ok := pc.Profile(cfg.MBTI); ok {
		if lines := p.Welcome[string(cfg.Relationship)]; len(lines) > 0 {
			return lines
		}
	}
	return pc.data.Defaults.Welcome
}

// TimeGreetings returns the greetings for "morning", "afternoon", "evening" or "night".
func (pc *PersonaCatalog) TimeGreetings(period string) []string {
	return pc.data.TimeGreetings[period]
}

// SilenceFallbacks returns the phrase pool used when a follow-up cannot be generated.
func (pc *PersonaCatalog) SilenceFallbacks(mbti models.MBTIType) []string {
	if mbti.IsExtravert() {
		return pc.data.SilenceFallbacks.Extravert
	}
	return pc.data.SilenceFallbacks.Introvert
}

// BlockedSilenceLine is the single line used when the model refuses a follow-up.
func (pc *PersonaCatalog) BlockedSilenceLine(mbti models.MBTIType) string {
	if mbti.IsExtravert() {
		return pc.data.SilenceFallbacks.BlockedExtravert
	}
	return pc.data.SilenceFallbacks.BlockedIntrovert
}

// Sheet returns the persona text placed in the system instruction.
func (pc *PersonaCatalog) Sheet(mbti models.MBTIType) (string, error) {
	if pc.personaDir != "" {
		path := filepath.Join(pc.personaDir, string(mbti)+".md")
		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			return string(content), nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("failed to read persona sheet %s: %w", path, err)
		}
		pc.logger.Debug().Str("path", path).Msg("Persona sheet not found, using built-in catalog")
	}

	p, ok := pc.Profile(mbti)
	if !ok {
		return "", fmt.Errorf("persona for %s not found", mbti)
	}
	return renderSheet(p), nil
}

func renderSheet(p *MBTIProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s - %s (%s)\n\n", p.Type, p.Name, p.Title)
	b.WriteString(p.Description)
	b.WriteString("\n\n## 핵심 특성\n")
	for _, trait := range p.Traits {
		fmt.Fprintf(&b, "- %s\n", trait)
	}
	b.WriteString("\n## 말투\n")
	b.WriteString(p.TalkingStyle)
	b.WriteString("\n")
	return b.String()
}
