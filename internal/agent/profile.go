package agent

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Profile tunes the speech pipeline. It is loaded from YAML; missing keys keep defaults.
//
//	listen_model: nova-3
//	think_provider: open_ai
//	think_model: gpt-4o-mini
//	greetings:
//	  es: "Hola, ¿cómo está?"
//	voices: [aura-asteria-en, aura-luna-en]
type Profile struct {
	ListenModel   string            `yaml:"listen_model"`
	ThinkProvider string            `yaml:"think_provider"`
	ThinkModel    string            `yaml:"think_model"`
	Greetings     map[string]string `yaml:"greetings"`
	Voices        []string          `yaml:"voices"`
}

// DefaultVoice is used when a call names none.
const DefaultVoice = "aura-asteria-en"

func DefaultProfile() Profile {
	return Profile{
		ListenModel:   "nova-3",
		ThinkProvider: "open_ai",
		ThinkModel:    "gpt-4o-mini",
		Greetings: map[string]string{
			"es": "Hola, buenos días.",
			"en": "Hello, good day.",
		},
		Voices: []string{
			"aura-asteria-en",
			"aura-luna-en",
			"aura-stella-en",
			"aura-athena-en",
			"aura-hera-en",
			"aura-orion-en",
			"aura-arcas-en",
			"aura-perseus-en",
			"aura-angus-en",
			"aura-orpheus-en",
			"aura-helios-en",
			"aura-zeus-en",
		},
	}
}

// LoadProfile reads path over the defaults. An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("agent: read profile: %w", err)
	}

	var file Profile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Profile{}, fmt.Errorf("agent: parse profile: %w", err)
	}
	if file.ListenModel != "" {
		p.ListenModel = file.ListenModel
	}
	if file.ThinkProvider != "" {
		p.ThinkProvider = file.ThinkProvider
	}
	if file.ThinkModel != "" {
		p.ThinkModel = file.ThinkModel
	}
	for lang, g := range file.Greetings {
		p.Greetings[lang] = g
	}
	if len(file.Voices) > 0 {
		p.Voices = file.Voices
	}
	return p, nil
}

// Greeting returns the opening line for lang, falling back to English.
func (p Profile) Greeting(lang string) string {
	if g, ok := p.Greetings[lang]; ok {
		return g
	}
	return p.Greetings["en"]
}

func (p Profile) HasVoice(v string) bool {
	return slices.Contains(p.Voices, v)
}
