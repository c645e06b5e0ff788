package storetest

import (
	"bytes"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"perch"
)

//go:embed testdata/*.yaml
var scenarioFS embed.FS

// Scenario is one scripted op sequence from testdata. Scripts share the
// store they run against, so each file keeps to its own key space.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Step is one scripted op. Value and Want hold text unless Base64 is set,
// in which case they hold base64-encoded bytes. Has is the expected
// presence on get and has steps.
type Step struct {
	Op     string `yaml:"op"`
	Key    string `yaml:"key,omitempty"`
	Value  string `yaml:"value,omitempty"`
	Want   string `yaml:"want,omitempty"`
	Has    *bool  `yaml:"has,omitempty"`
	Base64 bool   `yaml:"base64,omitempty"`
}

// LoadScenarios decodes and validates every embedded scenario file.
func LoadScenarios() ([]Scenario, error) {
	files, err := fs.Glob(scenarioFS, "testdata/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	out := make([]Scenario, 0, len(files))
	for _, name := range files {
		data, err := scenarioFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		var sc Scenario
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&sc); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		if err := sc.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// Scenarios runs every embedded scenario script against s.
func Scenarios(t *testing.T, s perch.Store) {
	scens, err := LoadScenarios()
	require.NoError(t, err)
	for _, sc := range scens {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) { sc.run(t, s) })
	}
}

func (sc Scenario) validate() error {
	if sc.Name == "" {
		return errors.New("scenario name must be non-empty")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", sc.Name)
	}

	open := false
	for i, st := range sc.Steps {
		switch st.Op {
		case "begin":
			if open {
				return fmt.Errorf("step %d: begin inside an open transaction", i+1)
			}
			open = true
		case "commit", "rollback":
			if !open {
				return fmt.Errorf("step %d: %s without a transaction", i+1, st.Op)
			}
			open = false
		case "put":
			if !open {
				return fmt.Errorf("step %d: put outside a transaction", i+1)
			}
			if st.Key == "" {
				return fmt.Errorf("step %d: put needs a key", i+1)
			}
		case "del":
			if !open {
				return fmt.Errorf("step %d: del outside a transaction", i+1)
			}
			if st.Key == "" {
				return fmt.Errorf("step %d: del needs a key", i+1)
			}
		case "get", "has":
			if st.Key == "" {
				return fmt.Errorf("step %d: %s needs a key", i+1, st.Op)
			}
			if st.Has == nil {
				return fmt.Errorf("step %d: %s needs a has expectation", i+1, st.Op)
			}
		default:
			return fmt.Errorf("step %d: unknown op %q", i+1, st.Op)
		}
	}
	if open {
		return fmt.Errorf("scenario %q leaves a transaction open", sc.Name)
	}
	return nil
}

func (sc Scenario) run(t *testing.T, s perch.Store) {
	t.Helper()
	var wt perch.Write
	defer func() {
		if wt != nil {
			wt.Release()
		}
	}()

	for i, st := range sc.Steps {
		step := fmt.Sprintf("step %d (%s %s)", i+1, st.Op, st.Key)
		switch st.Op {
		case "begin":
			w, err := s.Write()
			require.NoError(t, err, step)
			wt = w
		case "commit":
			require.NoError(t, wt.Commit(), step)
			wt = nil
		case "rollback":
			require.NoError(t, wt.Rollback(), step)
			wt = nil
		case "put":
			value, err := st.valueBytes()
			require.NoError(t, err, step)
			require.NoError(t, wt.Put(st.Key, value), step)
		case "del":
			require.NoError(t, wt.Del(st.Key), step)
		case "get":
			v, ok, err := sc.get(s, wt, st.Key)
			require.NoError(t, err, step)
			assert.Equal(t, *st.Has, ok, step)
			if *st.Has && ok {
				want, err := st.wantBytes()
				require.NoError(t, err, step)
				assert.Equal(t, want, v, step)
			}
		case "has":
			ok, err := sc.has(s, wt, st.Key)
			require.NoError(t, err, step)
			assert.Equal(t, *st.Has, ok, step)
		}
	}
}

// get routes through the open transaction when there is one, so scripts
// observe their own staged state.
func (Scenario) get(s perch.Store, wt perch.Write, key string) ([]byte, bool, error) {
	if wt != nil {
		return wt.Get(key)
	}
	return s.Get(key)
}

func (Scenario) has(s perch.Store, wt perch.Write, key string) (bool, error) {
	if wt != nil {
		return wt.Has(key)
	}
	return s.Has(key)
}

func (st Step) valueBytes() ([]byte, error) {
	if st.Base64 {
		return base64.StdEncoding.DecodeString(st.Value)
	}
	return []byte(st.Value), nil
}

func (st Step) wantBytes() ([]byte, error) {
	if st.Base64 {
		return base64.StdEncoding.DecodeString(st.Want)
	}
	return []byte(st.Want), nil
}
