// Package jobfile reads declarative job definitions from YAML.
//
// Example:
//
//	jobs:
//	  - name: news
//	    schedule: hourly
//	    urls: [https://example.com/news]
//	    selectors:
//	      headline: h1.title
//	  - name: prices
//	    schedule: "cron:0,9,*,*,1"
//	    timezone: Europe/Paris
//	    mode: dynamic
//	    urls: [https://example.com/prices]
package jobfile

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// File is the top-level document.
type File struct {
	Jobs []Definition `yaml:"jobs"`
}

// Definition describes one job as written by an operator.
type Definition struct {
	Name      string            `yaml:"name"`
	Schedule  string            `yaml:"schedule"`
	Timezone  string            `yaml:"timezone,omitempty"`
	Mode      string            `yaml:"mode,omitempty"` // static (default) or dynamic
	URLs      []string          `yaml:"urls"`
	Selectors map[string]string `yaml:"selectors,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (d Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Load reads and parses the file at path.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read job file %s", path)
	}
	defs, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "job file %s", path)
	}
	return defs, nil
}

// Parse decodes definitions from r. Unknown keys are rejected so typos
// surface instead of silently dropping settings.
func Parse(r io.Reader) ([]Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to parse job YAML")
	}

	seen := make(map[string]int, len(f.Jobs))
	for i, d := range f.Jobs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, errors.Newf("job %d: name is required", i+1)
		}
		if prev, ok := seen[name]; ok {
			return nil, errors.Newf("job %d: duplicate name %q (first at job %d)", i+1, name, prev+1)
		}
		seen[name] = i
		if strings.TrimSpace(d.Schedule) == "" {
			return nil, errors.Newf("job %q: schedule is required", name)
		}
		if len(d.URLs) == 0 {
			return nil, errors.Newf("job %q: at least one url is required", name)
		}
		f.Jobs[i].Name = name
	}
	return f.Jobs, nil
}
