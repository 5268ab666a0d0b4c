package panel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// Load error codes.
const (
	ErrCodeRead    = "READ_FAILED"
	ErrCodeParse   = "PARSE_FAILED"
	ErrCodeFormat  = "UNSUPPORTED_FORMAT"
	ErrCodeInvalid = "INVALID_OPTIONS"
)

// LoadError describes why panel options could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Path    string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads panel options from a .yaml/.yml or .cue file and validates
// them. YAML is decoded strictly: unknown keys are errors.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeRead, Message: err.Error(), Path: path}
	}

	var opts *Options
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		opts, err = ParseYAML(data)
	case ".cue":
		opts, err = ParseCUE(path, data)
	default:
		return nil, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported extension %q", filepath.Ext(path)), Path: path}
	}
	if err != nil {
		if le, ok := err.(*LoadError); ok && le.Path == "" {
			le.Path = path
		}
		return nil, err
	}

	if err := opts.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Path: path}
	}
	return opts, nil
}

// ParseYAML decodes options from YAML without validating them.
func ParseYAML(data []byte) (*Options, error) {
	var opts Options
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: err.Error()}
	}
	return &opts, nil
}

// ParseCUE evaluates a CUE document and decodes the concrete result into
// options without validating them. The document may declare constraints
// of its own; they are checked by CUE before decoding.
func ParseCUE(filename string, data []byte) (*Options, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, cueLoadError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(err)
	}

	// Panel options live under a top-level "panel" field when present.
	if p := v.LookupPath(cue.ParsePath("panel")); p.Exists() {
		v = p
	}

	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, cueLoadError(err)
	}
	var opts Options
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: err.Error()}
	}
	return &opts, nil
}

func cueLoadError(err error) *LoadError {
	le := &LoadError{Code: ErrCodeParse, Message: err.Error()}
	for _, e := range cueerrors.Errors(err) {
		if p := e.Position(); p.IsValid() {
			le.Pos = p
			break
		}
	}
	return le
}
