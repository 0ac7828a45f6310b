package enrichment

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// decodeFields decodes a JSON object keeping numbers as json.Number, so
// large integers and long decimals reach the parameters unchanged.
func decodeFields(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON object")
	}
	return fields, nil
}

// extract follows a dotted path through decoded JSON. Numeric segments
// index arrays. Null and missing values are reported as absent.
func extract(fields map[string]any, path string) (string, bool) {
	var cur any = fields
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return "", false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return "", false
			}
			cur = node[i]
		default:
			return "", false
		}
	}
	return stringify(cur)
}

func stringify(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// mapFields applies the aliases of one API to its decoded response.
func mapFields(fields map[string]any, aliases []domain.ParameterAlias) map[string]string {
	out := make(map[string]string, len(aliases))
	for _, a := range aliases {
		if v, ok := extract(fields, a.ResponseField); ok {
			out[a.ParameterName] = v
		}
	}
	return out
}
