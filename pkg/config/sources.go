package config

import (
	"fmt"
	"os"

	syncdomain "commhub-backend/internal/sync/domain"

	"gopkg.in/yaml.v3"
)

type sourcesFile struct {
	Sources []syncdomain.Source `yaml:"sources"`
}

// LoadSources reads the monitored sources from a YAML file, expanding ${ENV} references
func LoadSources(path string) ([]syncdomain.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseSources([]byte(os.ExpandEnv(string(raw))))
}

func ParseSources(data []byte) ([]syncdomain.Source, error) {
	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	seen := make(map[string]bool, len(file.Sources))
	for i, src := range file.Sources {
		if src.ID == "" {
			return nil, fmt.Errorf("source #%d has no id", i+1)
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = true

		switch src.Channel {
		case syncdomain.ChannelEmail, syncdomain.ChannelChat, syncdomain.ChannelVoice:
		default:
			return nil, fmt.Errorf("source %q has unknown channel %q", src.ID, src.Channel)
		}
		if src.Provider == "" {
			return nil, fmt.Errorf("source %q has no provider", src.ID)
		}
	}
	return file.Sources, nil
}
