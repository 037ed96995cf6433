package params

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a task file. The format is chosen by extension: .yaml and
// .yml are YAML, .hcl is HCL.
func LoadFile(path string) (*Params, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(bytes.NewReader(src))
	case ".hcl":
		return LoadHCL(filepath.Base(path), src)
	default:
		return nil, fmt.Errorf("%w: unsupported task file extension %q", ErrInvalidConfig, filepath.Ext(path))
	}
}

// LoadYAML decodes a single YAML task. Unknown keys and mistyped values are
// rejected.
func LoadYAML(r io.Reader) (*Params, error) {
	var p Params
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty task", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &p, nil
}

// LoadHCL decodes a single HCL task. filename is only used in diagnostics.
func LoadHCL(filename string, src []byte) (*Params, error) {
	var p Params
	if err := hclsimple.Decode(filename, src, nil, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &p, nil
}
