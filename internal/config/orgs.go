package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// OrgConfig is the widget configuration one institution embeds with.
type OrgConfig struct {
	ID            string       `yaml:"id" json:"id"`
	OrgID         string       `yaml:"orgId" json:"orgId"`
	Brand         BrandConfig  `yaml:"brand" json:"brand"`
	Voice         VoiceConfig  `yaml:"voice" json:"voice"`
	AI            AIConfig     `yaml:"ai" json:"ai"`
	Features      Features     `yaml:"features" json:"features"`
	ContentPackID string       `yaml:"contentPackId" json:"contentPackId"`
	Policies      PolicyConfig `yaml:"policies" json:"policies"`
}

type BrandConfig struct {
	Name         string `yaml:"name" json:"name"`
	LogoURL      string `yaml:"logoUrl" json:"logoUrl"`
	PrimaryColor string `yaml:"primaryColor" json:"primaryColor"`
	AccentColor  string `yaml:"accentColor" json:"accentColor"`
	FontFamily   string `yaml:"fontFamily" json:"fontFamily"`
}

// VoiceConfig selects the TTS provider and voice. Rate and pitch are
// multipliers around 1.0; zero leaves the vendor default.
type VoiceConfig struct {
	Provider string  `yaml:"provider" json:"provider"`
	VoiceID  string  `yaml:"voiceId" json:"voiceId"`
	Rate     float64 `yaml:"rate" json:"rate"`
	Pitch    float64 `yaml:"pitch" json:"pitch"`
	Locale   string  `yaml:"locale" json:"locale,omitempty"`
}

type AIConfig struct {
	ChatModel string `yaml:"chatModel" json:"chatModel"`
	// Temperature is nil when the org leaves it to the server default; 0 is
	// a valid, deterministic setting.
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens   int      `yaml:"maxTokens" json:"maxTokens"`
	LLMProvider string   `yaml:"llmProvider" json:"llmProvider,omitempty"`
	STTProvider string   `yaml:"sttProvider" json:"sttProvider,omitempty"`
}

type Features struct {
	VoiceEnabled             bool `yaml:"voiceEnabled" json:"voiceEnabled"`
	SaveTranscriptsByDefault bool `yaml:"saveTranscriptsByDefault" json:"saveTranscriptsByDefault"`
	AllowGuestMode           bool `yaml:"allowGuestMode" json:"allowGuestMode"`
}

type PolicyConfig struct {
	GDPRRegion  string `yaml:"gdprRegion" json:"gdprRegion"`
	PIIAllowed  bool   `yaml:"piiAllowed" json:"piiAllowed"`
	RetainAudio bool   `yaml:"retainAudio" json:"retainAudio"`
}

var ErrOrgNotFound = errors.New("organization config not found")

// Validate checks the ranges a session can safely be created with.
func (c OrgConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(c.OrgID) == "" {
		errs = append(errs, errors.New("orgId is required"))
	}
	if t := c.AI.Temperature; t != nil && (*t < 0 || *t > 1) {
		errs = append(errs, fmt.Errorf("ai.temperature %.2f outside [0,1]", *t))
	}
	if c.AI.MaxTokens < 1 || c.AI.MaxTokens > 8192 {
		errs = append(errs, fmt.Errorf("ai.maxTokens %d outside [1,8192]", c.AI.MaxTokens))
	}
	if !multiplierOK(c.Voice.Rate) {
		errs = append(errs, fmt.Errorf("voice.rate %.2f outside [0.5,2]", c.Voice.Rate))
	}
	if !multiplierOK(c.Voice.Pitch) {
		errs = append(errs, fmt.Errorf("voice.pitch %.2f outside [0.5,2]", c.Voice.Pitch))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("org %q: %w", c.OrgID, err)
	}
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func multiplierOK(v float64) bool {
	return v == 0 || (v >= 0.5 && v <= 2)
}

// OrgCatalog resolves organization configs by org key or config id.
type OrgCatalog struct {
	byOrg map[string]OrgConfig
	byID  map[string]string
}

// DefaultOrgs returns the built-in organizations.
func DefaultOrgs() []OrgConfig {
	return []OrgConfig{
		{
			ID:    "durham-law-2025",
			OrgID: "durham",
			Brand: BrandConfig{
				Name:         "Durmah",
				LogoURL:      "https://durham.ac.uk/logo.svg",
				PrimaryColor: "#7C2855",
				AccentColor:  "#D4AF37",
				FontFamily:   "Inter, sans-serif",
			},
			Voice:         VoiceConfig{Provider: "elevenlabs", VoiceID: "Rachel", Rate: 1, Pitch: 1},
			AI:            AIConfig{ChatModel: "gpt-4o", Temperature: floatPtr(0.2), MaxTokens: 2048},
			Features:      Features{VoiceEnabled: true},
			ContentPackID: "durham-law-2025",
			Policies:      PolicyConfig{GDPRRegion: "UK"},
		},
		{
			ID:    "oxford-law-2025",
			OrgID: "oxford",
			Brand: BrandConfig{
				Name:         "Oxford Legal AI",
				LogoURL:      "https://oxford.ac.uk/logo.svg",
				PrimaryColor: "#002147",
				AccentColor:  "#CF7A30",
				FontFamily:   "Georgia, serif",
			},
			Voice:         VoiceConfig{Provider: "azure-tts", VoiceID: "en-GB-SoniaNeural", Rate: 1, Pitch: 1, Locale: "en-GB"},
			AI:            AIConfig{ChatModel: "gpt-4o", Temperature: floatPtr(0.2), MaxTokens: 2048},
			Features:      Features{VoiceEnabled: true, SaveTranscriptsByDefault: true},
			ContentPackID: "oxford-law-2025",
			Policies:      PolicyConfig{GDPRRegion: "UK"},
		},
	}
}

// NewOrgCatalog validates orgs and indexes them. Later entries replace
// earlier ones with the same org key.
func NewOrgCatalog(orgs ...OrgConfig) (*OrgCatalog, error) {
	c := &OrgCatalog{byOrg: make(map[string]OrgConfig), byID: make(map[string]string)}
	for _, org := range orgs {
		if err := org.Validate(); err != nil {
			return nil, err
		}
		if prev, ok := c.byOrg[org.OrgID]; ok {
			delete(c.byID, prev.ID)
		}
		if owner, ok := c.byID[org.ID]; ok && owner != org.OrgID {
			return nil, fmt.Errorf("config id %q used by both %q and %q", org.ID, owner, org.OrgID)
		}
		c.byOrg[org.OrgID] = org
		c.byID[org.ID] = org.OrgID
	}
	return c, nil
}

type orgFile struct {
	Orgs []OrgConfig `yaml:"orgs"`
}

// LoadOrgCatalog returns the built-in orgs overlaid with those in the YAML
// file at path. An empty path yields the built-ins only.
func LoadOrgCatalog(path string) (*OrgCatalog, error) {
	orgs := DefaultOrgs()
	if strings.TrimSpace(path) == "" {
		return NewOrgCatalog(orgs...)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read org config: %w", err)
	}
	extra, err := ParseOrgs(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewOrgCatalog(append(orgs, extra...)...)
}

// ParseOrgs decodes an `orgs:` YAML document. Unknown fields are rejected.
func ParseOrgs(raw []byte) ([]OrgConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var f orgFile
	if err := dec.Decode(&f); errors.Is(err, io.EOF) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("parse org config: %w", err)
	}
	return f.Orgs, nil
}

// Lookup finds an org by its key ("durham") or its config id
// ("durham-law-2025").
func (c *OrgCatalog) Lookup(key string) (OrgConfig, error) {
	if org, ok := c.byOrg[key]; ok {
		return org, nil
	}
	if orgID, ok := c.byID[key]; ok {
		return c.byOrg[orgID], nil
	}
	return OrgConfig{}, fmt.Errorf("%w: %s", ErrOrgNotFound, key)
}

// OrgIDs lists the known org keys in sorted order.
func (c *OrgCatalog) OrgIDs() []string {
	out := make([]string, 0, len(c.byOrg))
	for k := range c.byOrg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
