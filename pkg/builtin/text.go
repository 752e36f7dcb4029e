// Package builtin provides ready-made processes that need no configuration.
package builtin

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
)

// TextFactoryID is the factory the text processes are registered in.
const TextFactoryID = "text"

var str = process.TypeOf[string]()

// TextProcesses returns the text processes. Every process reads its main
// argument from input "s" and, unless noted, writes output "text".
//
//	text.concat     parts, separator="" -> text
//	text.split      s, separator        -> parts
//	text.trim       s, cutset=""        -> text
//	text.replace    s, old, new, regex=false -> text
//	text.substring  s, start, end=0     -> text
//	text.upper / text.lower / text.title / text.capitalize
//	text.contains   s, sub, regex=false -> found
//	text.length     s                   -> length
//	text.extract    s, pattern          -> matches
//	text.format     template, data      -> text
//	text.base64_encode / text.base64_decode
//	text.url_encode / text.url_decode
//	text.normalize  s                   -> text (diacritics removed)
func TextProcesses() ([]*process.Process, error) {
	builders := []*process.Builder{
		text("concat", "Joins parts with a separator").
			Input("parts", process.TypeOf[[]any]()).
			OptionalInput("separator", "").
			Output("text", str).
			Func(concat),
		text("split", "Splits s around each separator").
			Input("s", str).Input("separator", str).
			Output("parts", nil).
			Func(func(s, sep string) []any {
				if s == "" {
					return []any{}
				}
				parts := strings.Split(s, sep)
				out := make([]any, len(parts))
				for i, p := range parts {
					out[i] = p
				}
				return out
			}),
		text("trim", "Removes the cutset, or white space, from both ends").
			Input("s", str).OptionalInput("cutset", "").
			Output("text", str).
			Func(func(s, cutset string) string {
				if cutset == "" {
					return strings.TrimSpace(s)
				}
				return strings.Trim(s, cutset)
			}),
		text("replace", "Replaces every occurrence of old, a pattern when regex is set").
			Input("s", str).Input("old", str).Input("new", str).
			OptionalInput("regex", false).
			Output("text", str).
			Func(replace),
		text("substring", "Returns the runes in [start, end); negative positions count from the end").
			Input("s", str).Input("start", process.TypeOf[int]()).
			OptionalInput("end", 0).
			Output("text", str).
			Func(substring),
		text("upper", "Upper-cases s").
			Input("s", str).Output("text", str).
			Func(func(s string) string { return cases.Upper(language.Und).String(s) }),
		text("lower", "Lower-cases s").
			Input("s", str).Output("text", str).
			Func(func(s string) string { return cases.Lower(language.Und).String(s) }),
		text("title", "Capitalizes every word").
			Input("s", str).Output("text", str).
			Func(func(s string) string { return cases.Title(language.Und).String(s) }),
		text("capitalize", "Upper-cases the first rune").
			Input("s", str).Output("text", str).
			Func(func(s string) string {
				r, size := utf8.DecodeRuneInString(s)
				if size == 0 {
					return s
				}
				return string(unicode.ToUpper(r)) + s[size:]
			}),
		text("contains", "Reports whether s contains sub, a pattern when regex is set").
			Input("s", str).Input("sub", str).
			OptionalInput("regex", false).
			Output("found", process.TypeOf[bool]()).
			Func(contains),
		text("length", "Counts the runes of s").
			Input("s", str).Output("length", process.TypeOf[int]()).
			Func(utf8.RuneCountInString),
		text("extract", "Returns every match of pattern with its groups").
			Input("s", str).Input("pattern", str).
			Output("matches", nil).
			Func(extract),
		text("format", "Substitutes {key} and ${key} placeholders from data").
			Input("template", str).Input("data", process.TypeOf[map[string]any]()).
			Output("text", str).
			Func(format),
		text("base64_encode", "Encodes s as standard base64").
			Input("s", str).Output("text", str).
			Func(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }),
		text("base64_decode", "Decodes standard base64").
			Input("s", str).Output("text", str).
			Func(func(s string) (string, error) {
				b, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return "", fmt.Errorf("invalid base64: %w", err)
				}
				return string(b), nil
			}),
		text("url_encode", "Escapes s for a URL query").
			Input("s", str).Output("text", str).
			Func(url.QueryEscape),
		text("url_decode", "Unescapes a URL query value").
			Input("s", str).Output("text", str).
			Func(url.QueryUnescape),
		text("normalize", "Removes diacritics").
			Input("s", str).Output("text", str).
			Func(removeDiacritics),
	}

	ps := make([]*process.Process, 0, len(builders))
	for _, b := range builders {
		p, err := b.Build()
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// RegisterText registers the text processes in f.
func RegisterText(f *registry.Factory) error {
	ps, err := TextProcesses()
	if err != nil {
		return err
	}
	for _, p := range ps {
		if err := f.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func text(name, description string) *process.Builder {
	return process.New(name).
		ID("text." + name).
		Description(description).
		Keywords("text")
}

func concat(parts []any, sep string) string {
	ss := make([]string, len(parts))
	for i, p := range parts {
		if s, ok := p.(string); ok {
			ss[i] = s
			continue
		}
		ss[i] = fmt.Sprint(p)
	}
	return strings.Join(ss, sep)
}

func replace(s, old, repl string, regex bool) (string, error) {
	if !regex {
		return strings.ReplaceAll(s, old, repl), nil
	}
	re, err := regexp.Compile(old)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	return re.ReplaceAllString(s, repl), nil
}

func substring(s string, start, end int) string {
	rs := []rune(s)
	n := len(rs)
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		return max(0, min(i, n))
	}
	start = clamp(start)
	if end <= 0 {
		end += n
	}
	end = clamp(end)
	if start > end {
		start, end = end, start
	}
	return string(rs[start:end])
}

func contains(s, sub string, regex bool) (bool, error) {
	if !regex {
		return strings.Contains(s, sub), nil
	}
	re, err := regexp.Compile(sub)
	if err != nil {
		return false, fmt.Errorf("invalid pattern: %w", err)
	}
	return re.MatchString(s), nil
}

func extract(s, pattern string) ([]any, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	matches := re.FindAllStringSubmatch(s, -1)
	out := make([]any, len(matches))
	for i, m := range matches {
		groups := make([]any, len(m))
		for j, g := range m {
			groups[j] = g
		}
		out[i] = groups
	}
	return out, nil
}

func format(template string, data map[string]any) string {
	pairs := make([]string, 0, len(data)*4)
	for k, v := range data {
		s := fmt.Sprint(v)
		pairs = append(pairs, "${"+k+"}", s, "{"+k+"}", s)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func removeDiacritics(s string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return "", fmt.Errorf("normalizing: %w", err)
	}
	return out, nil
}
