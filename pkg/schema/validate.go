package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sync"
)

// Issue codes.
const (
	CodeRequired        = "REQUIRED"
	CodeTypeMismatch    = "TYPE_MISMATCH"
	CodeMinLength       = "MIN_LENGTH"
	CodeMaxLength       = "MAX_LENGTH"
	CodeInvalidPattern  = "INVALID_PATTERN"
	CodePatternMismatch = "PATTERN_MISMATCH"
	CodeFormatMismatch  = "FORMAT_MISMATCH"
	CodeUnknownFormat   = "UNKNOWN_FORMAT"
	CodeEnumMismatch    = "ENUM_MISMATCH"
	CodeMinValue        = "MIN_VALUE"
	CodeMaxValue        = "MAX_VALUE"
	CodeInvalidBase64   = "INVALID_BASE64"
	CodeMinItems        = "MIN_ITEMS"
	CodeMaxItems        = "MAX_ITEMS"
	CodeDuplicateItem   = "DUPLICATE_ITEM"
)

// Issue is one violation found by a Validator.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s", i.Path, i.Message) }

// Report is the outcome of validating one value.
type Report struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues,omitempty"`
}

// Validator checks values against fields. It is safe for concurrent use
// once all formats are registered.
type Validator struct {
	formats map[string]FormatFunc

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewValidator returns a validator knowing the email, uri, uuid, date and
// datetime formats.
func NewValidator() *Validator {
	return &Validator{
		formats:  builtinFormats(),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// RegisterFormat adds or replaces a named format.
func (v *Validator) RegisterFormat(name string, fn FormatFunc) {
	v.formats[name] = fn
}

// Validate checks data against f. Object members are visited in name
// order so the issue list is stable.
func (v *Validator) Validate(data any, f *Field) Report {
	issues := v.value(data, f, "root")
	return Report{Valid: len(issues) == 0, Issues: issues}
}

func (v *Validator) value(data any, f *Field, path string) []Issue {
	if data == nil {
		if f.Required {
			return []Issue{{Path: path, Message: "field is required", Code: CodeRequired}}
		}
		return nil
	}

	mismatch := func(want string) []Issue {
		return []Issue{{Path: path, Message: fmt.Sprintf("expected %s, got %T", want, data), Code: CodeTypeMismatch}}
	}

	switch f.Type {
	case TypeString, TypeDate, TypeDateTime:
		s, ok := data.(string)
		if !ok {
			return mismatch("string")
		}
		return v.str(s, f.Rules, path)
	case TypeNumber:
		n, ok := number(data)
		if !ok {
			return mismatch("number")
		}
		return numberIssues(n, f.Rules, path)
	case TypeBoolean:
		if _, ok := data.(bool); !ok {
			return mismatch("boolean")
		}
	case TypeByte:
		switch b := data.(type) {
		case string:
			return byteIssues(b, f.Rules, path)
		case []byte:
			return lengthIssues(len(b), f.Rules, path, "byte length")
		default:
			return mismatch("base64 string")
		}
	case TypeArray:
		arr, ok := data.([]any)
		if !ok {
			return mismatch("array")
		}
		return v.array(arr, f, path)
	case TypeObject:
		obj, ok := data.(map[string]any)
		if !ok {
			return mismatch("object")
		}
		return v.object(obj, f, path)
	}
	return nil
}

func (v *Validator) str(s string, r *Rules, path string) []Issue {
	if r == nil {
		return nil
	}
	issues := lengthIssues(len(s), r, path, "length")

	if r.Pattern != "" {
		re, err := v.pattern(r.Pattern)
		switch {
		case err != nil:
			issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("invalid pattern: %v", err), Code: CodeInvalidPattern})
		case !re.MatchString(s):
			issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("value does not match pattern %q", r.Pattern), Code: CodePatternMismatch})
		}
	}

	if r.Format != "" {
		fn, ok := v.formats[r.Format]
		switch {
		case !ok:
			issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("unknown format %q", r.Format), Code: CodeUnknownFormat})
		case !fn(s):
			issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("value does not match format %q", r.Format), Code: CodeFormatMismatch})
		}
	}

	if len(r.Enum) > 0 && !slices.Contains(r.Enum, s) {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("value %q not in %v", s, r.Enum), Code: CodeEnumMismatch})
	}
	return issues
}

func (v *Validator) pattern(expr string) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if re, ok := v.patterns[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	v.patterns[expr] = re
	return re, nil
}

func lengthIssues(n int, r *Rules, path, what string) []Issue {
	if r == nil {
		return nil
	}
	var issues []Issue
	if r.MinLength != nil && n < *r.MinLength {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("%s %d is less than minimum %d", what, n, *r.MinLength), Code: CodeMinLength})
	}
	if r.MaxLength != nil && n > *r.MaxLength {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("%s %d exceeds maximum %d", what, n, *r.MaxLength), Code: CodeMaxLength})
	}
	return issues
}

func byteIssues(s string, r *Rules, path string) []Issue {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if decoded, err = base64.URLEncoding.DecodeString(s); err != nil {
			return []Issue{{Path: path, Message: fmt.Sprintf("invalid base64: %v", err), Code: CodeInvalidBase64}}
		}
	}
	return lengthIssues(len(decoded), r, path, "byte length")
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func numberIssues(n float64, r *Rules, path string) []Issue {
	if r == nil {
		return nil
	}
	var issues []Issue
	if r.Minimum != nil && n < *r.Minimum {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("value %v is less than minimum %v", n, *r.Minimum), Code: CodeMinValue})
	}
	if r.Maximum != nil && n > *r.Maximum {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("value %v exceeds maximum %v", n, *r.Maximum), Code: CodeMaxValue})
	}
	return issues
}

func (v *Validator) array(arr []any, f *Field, path string) []Issue {
	var issues []Issue
	if r := f.Rules; r != nil {
		if r.MinItems != nil && len(arr) < *r.MinItems {
			issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("%d items, minimum is %d", len(arr), *r.MinItems), Code: CodeMinItems})
		}
		if r.MaxItems != nil && len(arr) > *r.MaxItems {
			issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("%d items, maximum is %d", len(arr), *r.MaxItems), Code: CodeMaxItems})
		}
		if r.UniqueItems {
			seen := make(map[string]bool, len(arr))
			for i, item := range arr {
				key := fmt.Sprintf("%T:%v", item, item)
				if seen[key] {
					issues = append(issues, Issue{Path: fmt.Sprintf("%s[%d]", path, i), Message: "duplicate item", Code: CodeDuplicateItem})
					break
				}
				seen[key] = true
			}
		}
	}
	if f.Items != nil {
		for i, item := range arr {
			issues = append(issues, v.value(item, f.Items, fmt.Sprintf("%s[%d]", path, i))...)
		}
	}
	return issues
}

func (v *Validator) object(obj map[string]any, f *Field, path string) []Issue {
	var issues []Issue
	for _, name := range slices.Sorted(maps.Keys(f.Fields)) {
		child := f.Fields[name]
		member := path + "." + name
		value, ok := obj[name]
		if !ok {
			if child.Required {
				issues = append(issues, Issue{Path: member, Message: "required field missing", Code: CodeRequired})
			}
			continue
		}
		issues = append(issues, v.value(value, child, member)...)
	}
	return issues
}
