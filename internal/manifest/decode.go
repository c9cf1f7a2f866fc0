package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Format selects the manifest encoding.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a configuration value to a Format. Blank means auto.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown manifest format %q", s)
	}
}

// Decoder turns manifest bytes into channel records.
type Decoder struct {
	format Format
}

// NewDecoder returns a decoder for the given format.
func NewDecoder(format Format) *Decoder {
	if format == "" {
		format = FormatAuto
	}
	return &Decoder{format: format}
}

// Parse decodes data and checks that every required field is present.
// Either all records are returned or an error; never a partial list.
func (d *Decoder) Parse(data []byte) ([]ChannelRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty manifest")
	}

	format := d.format
	if format == FormatAuto {
		format = sniff(trimmed)
	}

	var doc Document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode json manifest: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}

	if doc.Channels == nil {
		return nil, fmt.Errorf("manifest has no channels field")
	}
	channels := *doc.Channels
	if err := validate(channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func sniff(data []byte) Format {
	if data[0] == '{' || data[0] == '[' {
		return FormatJSON
	}
	return FormatYAML
}

// validate reports every missing required field in one error.
func validate(channels []ChannelRecord) error {
	var problems *multierror.Error
	for i, ch := range channels {
		where := fmt.Sprintf("channels[%d]", i)
		if strings.TrimSpace(ch.Name) == "" {
			problems = multierror.Append(problems, fmt.Errorf("%s: missing name", where))
		} else {
			where = fmt.Sprintf("channel %q", ch.Name)
		}
		for j, v := range ch.Versions {
			if strings.TrimSpace(v.Version) == "" {
				problems = multierror.Append(problems, fmt.Errorf("%s versions[%d]: missing version", where, j))
			}
			if v.Date.IsZero() {
				problems = multierror.Append(problems, fmt.Errorf("%s versions[%d]: missing date", where, j))
			}
		}
		for j, e := range ch.Changelog {
			if strings.TrimSpace(e.Version) == "" {
				problems = multierror.Append(problems, fmt.Errorf("%s changelog[%d]: missing version", where, j))
			}
			if e.Date.IsZero() {
				problems = multierror.Append(problems, fmt.Errorf("%s changelog[%d]: missing date", where, j))
			}
		}
	}
	return problems.ErrorOrNil()
}
