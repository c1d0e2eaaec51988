package schemas

import "fmt"

// ParamKind is the wire type of an action parameter. Numbers arriving from
// JSON decode as float64; KindInt accepts those when they are integral.
type ParamKind string

const (
	KindString ParamKind = "string"
	KindInt    ParamKind = "integer"
	KindBool   ParamKind = "boolean"
)

// ParamSpec is the typed contract for a single action parameter.
type ParamSpec struct {
	Name        string    `json:"name"`
	Kind        ParamKind `json:"type"`
	Required    bool      `json:"required"`
	NonNegative bool      `json:"non_negative,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Description string    `json:"description"`
}

// ActionSpec is the published contract for one action in the vocabulary. The
// full catalog is sent to the backend on every inference call so it cannot
// request unsupported actions without detection.
type ActionSpec struct {
	Name        ActionName  `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"params"`
}

var actionCatalog = []ActionSpec{
	{
		Name:        ActionMovePointer,
		Description: "Move the mouse pointer to (x, y) in screenshot coordinates.",
		Params: []ParamSpec{
			{Name: "x", Kind: KindInt, Required: true, NonNegative: true, Description: "Horizontal position in the last screenshot."},
			{Name: "y", Kind: KindInt, Required: true, NonNegative: true, Description: "Vertical position in the last screenshot."},
		},
	},
	{
		Name:        ActionClick,
		Description: "Click the mouse at its current position.",
		Params: []ParamSpec{
			{Name: "button", Kind: KindString, Enum: []string{"left", "right", "middle"}, Description: "Mouse button, defaults to left."},
			{Name: "double", Kind: KindBool, Description: "Perform a double click."},
		},
	},
	{
		Name:        ActionKeyPress,
		Description: "Press a key or key combination, e.g. \"enter\" or \"ctrl+s\".",
		Params: []ParamSpec{
			{Name: "keys", Kind: KindString, Required: true, Description: "Key name, optionally with + separated modifiers."},
		},
	},
	{
		Name:        ActionTypeText,
		Description: "Type a string of text at the current focus.",
		Params: []ParamSpec{
			{Name: "text", Kind: KindString, Required: true, Description: "The text to type."},
		},
	},
	{
		Name:        ActionReadFile,
		Description: "Read a text file and return its contents.",
		Params: []ParamSpec{
			{Name: "path", Kind: KindString, Required: true, Description: "Path of the file to read."},
		},
	},
	{
		Name:        ActionWriteFile,
		Description: "Write text content to a file, replacing it if it exists.",
		Params: []ParamSpec{
			{Name: "path", Kind: KindString, Required: true, Description: "Path of the file to write."},
			{Name: "content", Kind: KindString, Required: true, Description: "Full file content."},
		},
	},
	{
		Name:        ActionRunCommand,
		Description: "Run a shell command and return stdout, stderr and the exit code.",
		Params: []ParamSpec{
			{Name: "command", Kind: KindString, Required: true, Description: "The command line to execute."},
			{Name: "cwd", Kind: KindString, Description: "Working directory, defaults to the current one."},
			{Name: "timeout", Kind: KindInt, NonNegative: true, Description: "Timeout in seconds, defaults to the configured command timeout."},
		},
	},
	{
		Name:        ActionCaptureScreen,
		Description: "Take a fresh screenshot and return it.",
		Params:      []ParamSpec{},
	},
}

// ActionCatalog returns the complete action vocabulary with parameter schemas.
func ActionCatalog() []ActionSpec {
	out := make([]ActionSpec, len(actionCatalog))
	copy(out, actionCatalog)
	return out
}

// SpecFor looks up the spec for a single action name.
func SpecFor(name ActionName) (ActionSpec, bool) {
	for _, spec := range actionCatalog {
		if spec.Name == name {
			return spec, true
		}
	}
	return ActionSpec{}, false
}

// ValidateParams checks a request's parameter map against the published spec
// for its action: required fields present, types correct, no unknown keys.
// A non-nil return is a denial reason, not a fatal condition.
func ValidateParams(req *ActionRequest) error {
	spec, ok := SpecFor(req.Name)
	if !ok {
		return fmt.Errorf("unknown action %q", req.Name)
	}

	known := make(map[string]ParamSpec, len(spec.Params))
	for _, p := range spec.Params {
		known[p.Name] = p
		if !p.Required {
			continue
		}
		if _, present := req.Params[p.Name]; !present {
			return fmt.Errorf("%s: missing required parameter %q", req.Name, p.Name)
		}
	}

	for key, val := range req.Params {
		p, ok := known[key]
		if !ok {
			return fmt.Errorf("%s: parameter %q is not accepted", req.Name, key)
		}
		if err := checkKind(p, val); err != nil {
			return fmt.Errorf("%s: %w", req.Name, err)
		}
	}
	return nil
}

func checkKind(p ParamSpec, val any) error {
	switch p.Kind {
	case KindString:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("parameter %q must be one of %v", p.Name, p.Enum)
		}
	case KindInt:
		n, err := intValue(val)
		if err != nil {
			return fmt.Errorf("parameter %q must be an integer", p.Name)
		}
		if p.NonNegative && n < 0 {
			return fmt.Errorf("parameter %q must be non-negative", p.Name)
		}
	case KindBool:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", p.Name)
		}
	}
	return nil
}

func intValue(val any) (int, error) {
	switch n := val.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not integral")
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number")
	}
}

// StringParam extracts a validated string parameter, with a default when the
// parameter is absent.
func StringParam(req *ActionRequest, key, def string) string {
	if v, ok := req.Params[key].(string); ok {
		return v
	}
	return def
}

// IntParam extracts a validated integer parameter.
func IntParam(req *ActionRequest, key string, def int) int {
	if v, ok := req.Params[key]; ok {
		if n, err := intValue(v); err == nil {
			return n
		}
	}
	return def
}

// BoolParam extracts a validated boolean parameter.
func BoolParam(req *ActionRequest, key string, def bool) bool {
	if v, ok := req.Params[key].(bool); ok {
		return v
	}
	return def
}
