package vision

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
)

var (
	ErrUnparseable = apperr.New(apperr.ErrUnprocessable, "model output contains no parseable JSON object")
	ErrMissingKey  = apperr.New(apperr.ErrUnprocessable, "model output is missing required keys")
)

var (
	objectRe        = regexp.MustCompile(`(?s)\{.*\}`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// requiredKeys compiles a schema that only demands the listed keys exist.
// Value types are left to the tolerant accessors below.
func requiredKeys(name string, keys ...string) *jsonschema.Schema {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = strconv.Quote(k)
	}
	src := fmt.Sprintf(`{"type":"object","required":[%s]}`, strings.Join(quoted, ","))

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://waste-rewards.local/vision/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}

var (
	classifySchema = requiredKeys("classify", "wasteType", "quantity")
	verifySchema   = requiredKeys("verify", "wasteTypeMatch", "quantityMatch", "confidence")
)

// ExtractJSON pulls the first {...} span out of free-form model text and
// decodes it, retrying once after repairing common near-JSON mistakes
// (single quotes, bare keys, trailing commas). The result must satisfy
// schema. It never panics on arbitrary input.
func ExtractJSON(text string, schema *jsonschema.Schema) (map[string]any, error) {
	raw := objectRe.FindString(text)
	if raw == "" {
		return nil, ErrUnparseable
	}
	out, err := decodeObject(raw)
	if err != nil {
		if out, err = decodeObject(repair(raw)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
	}
	if schema != nil {
		if err := schema.Validate(out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingKey, err)
		}
	}
	return out, nil
}

func decodeObject(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("null object")
	}
	return out, nil
}

func repair(s string) string {
	s = strings.ReplaceAll(s, "'", `"`)
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// asConfidence reads a 0..1 confidence, accepting percentages ("85%", 85).
func asConfidence(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%")), 64)
		if err != nil {
			return 0
		}
		f = p
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	if f < 0 || f > 1 {
		return 0
	}
	return f
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}
