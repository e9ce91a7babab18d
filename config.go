package unitconv

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// SmallVolumeUnitIDs are offered as a group once any one of them is a candidate.
	SmallVolumeUnitIDs []int `yaml:"small_volume_unit_ids"`
	// FormUnitIDs lists suggested unit ids per form id.
	FormUnitIDs map[int][]int `yaml:"form_unit_ids"`
	// BridgeUnitIDs may join product layers in multi-product scopes, in
	// addition to every formless unit.
	BridgeUnitIDs []int `yaml:"bridge_unit_ids"`
	// ShadowGenericNamesakes drops a generic option when a product unit has the same name.
	ShadowGenericNamesakes bool   `yaml:"shadow_generic_namesakes"`
	SortLanguage           string `yaml:"sort_language"`
}

func DefaultConfig() Config {
	return Config{
		SmallVolumeUnitIDs: []int{2, 13, 30, 31, 33},
		FormUnitIDs: map[int][]int{
			1: {3, 5, 6},         // capsules
			2: {2, 8, 9, 13, 30}, // liquids
			3: {5, 17},           // solids
		},
		ShadowGenericNamesakes: true,
		SortLanguage:           "en",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs *multierror.Error
	for _, id := range c.SmallVolumeUnitIDs {
		if id <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("small_volume_unit_ids: invalid unit id %d", id))
		}
	}
	for formID, ids := range c.FormUnitIDs {
		if formID <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("form_unit_ids: invalid form id %d", formID))
		}
		for _, id := range ids {
			if id <= 0 {
				errs = multierror.Append(errs, fmt.Errorf("form_unit_ids[%d]: invalid unit id %d", formID, id))
			}
		}
	}
	for _, id := range c.BridgeUnitIDs {
		if id <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("bridge_unit_ids: invalid unit id %d", id))
		}
	}
	if c.SortLanguage != "" {
		if _, err := language.Parse(c.SortLanguage); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("sort_language: %w", err))
		}
	}
	return errs.ErrorOrNil()
}

func (c Config) sortTag() language.Tag {
	tag, err := language.Parse(c.SortLanguage)
	if err != nil {
		return language.English
	}
	return tag
}
