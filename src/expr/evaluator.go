// Package expr evaluates the destination-side scalar expression text a
// transform rule carries, substituting the decoded value (and, for
// geometry sub-objects, the extracted wkb/srid fields) into its
// placeholders before the result is handed back to the DML/DDL emitters.
package expr

import (
	"strconv"
	"strings"
)

// Evaluate substitutes %d with value, %1 with wkb and %2 with srid (an
// empty wkb or srid substitutes the empty string), matching the
// "destination-side scalar expression with placeholders" contract of
// §4.C. Geometry sub-objects are detected by the caller (presence of a
// "wkb" key, per §4.A) and passed in split out.
func Evaluate(expression string, value string, wkb string, srid string) string {
	out := strings.ReplaceAll(expression, "%d", value)
	out = strings.ReplaceAll(out, "%1", wkb)
	out = strings.ReplaceAll(out, "%2", srid)
	return out
}

// IsGeometrySubObject detects the heuristic §4.A describes: a JSON value
// that decodes to an object carrying a "wkb" key.
func IsGeometrySubObject(v map[string]interface{}) (wkb string, srid string, ok bool) {
	rawWKB, hasWKB := v["wkb"]
	if !hasWKB {
		return "", "", false
	}
	wkbStr, _ := rawWKB.(string)
	sridStr := ""
	switch s := v["srid"].(type) {
	case string:
		sridStr = s
	case float64:
		sridStr = strconv.FormatFloat(s, 'f', -1, 64)
	}
	return wkbStr, sridStr, true
}
