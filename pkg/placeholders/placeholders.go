package placeholders

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
)

var placeholderPattern = regexp.MustCompile(`{{(.*?)}}`)

// Extract returns the distinct placeholder names found in content, trimmed,
// in first-seen order.
func Extract(content string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Binding is the result of resolving a template against an input bag.
// Keys and Values are positionally paired and follow the template's
// variable order; they are what gets written to the ledger.
type Binding struct {
	Keys    []string
	Values  []string
	Content string
}

// Fields maps column or field names to raw values (strings or numbers).
type Fields map[string]any

// MissingError is returned by Bind when required fields are absent.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("missing the %s field", e.Names[0])
	}
	return fmt.Sprintf("missing the %s fields", strings.Join(e.Names, ", "))
}

// Bind requires every name in variables to be present in fields and
// substitutes each whitespace-tolerant placeholder occurrence in content.
// A missing name yields a validation error wrapping *MissingError.
func Bind(content string, variables []string, fields Fields) (*Binding, error) {
	var missing []string
	for _, name := range variables {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		merr := &MissingError{Names: missing}
		return nil, &apperrors.Error{
			Code:    apperrors.CodeValidation,
			Message: merr.Error(),
			Err:     merr,
			Details: map[string]string{"missing": strings.Join(missing, ",")},
		}
	}

	b := &Binding{
		Keys:    make([]string, 0, len(variables)),
		Values:  make([]string, 0, len(variables)),
		Content: content,
	}
	for _, name := range variables {
		value := Stringify(fields[name])
		b.Keys = append(b.Keys, name)
		b.Values = append(b.Values, value)
		b.Content = Substitute(b.Content, name, value)
	}
	return b, nil
}

// Substitute replaces every `{{ name }}` occurrence, tolerating whitespace
// inside the braces.
func Substitute(content, name, value string) string {
	re := regexp.MustCompile(`{{\s*` + regexp.QuoteMeta(name) + `\s*}}`)
	return re.ReplaceAllLiteralString(content, value)
}

// Stringify coerces a raw field value to its textual form.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Remaining reports whether content still contains placeholder syntax.
func Remaining(content string) bool {
	return placeholderPattern.MatchString(content)
}
