package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/ahrav/go-callqa/internal/domain"
)

// ErrEmptyContent is returned for blank model output.
var ErrEmptyContent = errors.New("empty model output")

var (
	fencedJSONRE   = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")
	inlineJSONRE   = regexp.MustCompile("(?s)`(\\{.*?\\})`")
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeysRE = regexp.MustCompile(`([{,])\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// DecodeResult parses model output into out and validates it. The output is
// tried as-is first. With repair enabled it is then extracted from markdown
// or surrounding prose, and finally patched for common syntax slips
// (trailing commas, unclosed braces, unquoted keys, single quotes).
func DecodeResult(content string, out domain.Result, repair bool) error {
	content = strings.TrimSpace(strings.TrimPrefix(content, "\ufeff"))
	if content == "" {
		return ErrEmptyContent
	}

	candidates := []string{content}
	if repair {
		extracted := extractJSON(content)
		if extracted != content {
			candidates = append(candidates, extracted)
		}
		if repaired := repairJSON(extracted); repaired != extracted {
			candidates = append(candidates, repaired)
		}
	}

	var lastErr error
	for _, candidate := range candidates {
		reflect.ValueOf(out).Elem().SetZero()
		if err := json.Unmarshal([]byte(candidate), out); err != nil {
			lastErr = fmt.Errorf("decode %s: %w", out.ShapeName(), err)
			continue
		}
		if err := out.Validate(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	reflect.ValueOf(out).Elem().SetZero()
	return lastErr
}

// extractJSON pulls a JSON object out of markdown code blocks, inline code
// or mixed text.
func extractJSON(content string) string {
	for _, re := range []*regexp.Regexp{fencedJSONRE, inlineJSONRE} {
		if m := re.FindStringSubmatch(content); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		return content[start : end+1]
	}
	if start != -1 {
		return content[start:]
	}
	return content
}

// repairJSON fixes common syntax errors in model output.
func repairJSON(content string) string {
	repaired := trailingComma.ReplaceAllString(content, "$1")

	if !strings.Contains(repaired, `"`) && strings.Contains(repaired, `'`) {
		repaired = strings.ReplaceAll(repaired, `'`, `"`)
	}

	repaired = unquotedKeysRE.ReplaceAllString(repaired, `$1"$2":`)

	openBrackets := strings.Count(repaired, "[") - strings.Count(repaired, "]")
	openBraces := strings.Count(repaired, "{") - strings.Count(repaired, "}")
	for range openBrackets {
		repaired += "]"
	}
	for range openBraces {
		repaired += "}"
	}

	return strings.TrimSpace(repaired)
}
