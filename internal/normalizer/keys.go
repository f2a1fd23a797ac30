package normalizer

import (
	"strings"
	"unicode"
)

type typeMatcher struct {
	pattern string
	exact   bool
}

func (m typeMatcher) matches(ntype string) bool {
	if m.exact {
		return ntype == m.pattern
	}
	return strings.Contains(ntype, m.pattern)
}

// keyOverrides holds the semantic renames that generic snake-casing
// cannot derive, scoped by resource type so a rename for one service
// never leaks into another. Append-only; source-key spellings stay
// verbatim, both the template form and its snake-cased form, because
// either may reach the lookup depending on the source format.
var keyOverrides = []struct {
	match typeMatcher
	keys  map[string]string
}{
	{
		match: typeMatcher{pattern: "instance"},
		keys: map[string]string{
			"image_id": "ami",
			"ImageId":  "ami",
			"KeyName":  "key_name",
			"VPCId":    "vpc_id",
			"IAMRole":  "iam_instance_profile",
		},
	},
	{
		match: typeMatcher{pattern: "s3_bucket"},
		keys: map[string]string{
			"bucket_name": "bucket",
		},
	},
	{
		match: typeMatcher{pattern: "db_instance"},
		keys: map[string]string{
			"d_b_instance_class":      "instance_class",
			"d_b_instance_identifier": "identifier",
		},
	},
}

// NormalizeKey maps one top-level property key to its canonical form:
// snake_case plus the override table. The lookup tries the raw source
// key before the snake-cased one so both spellings of a known rename
// land on the same canonical key.
func NormalizeKey(ntype, key string) string {
	snake := SnakeCase(key)
	for _, row := range keyOverrides {
		if !row.match.matches(ntype) {
			continue
		}
		if to, ok := row.keys[key]; ok {
			return to
		}
		if to, ok := row.keys[snake]; ok {
			return to
		}
	}
	return snake
}

// SnakeCase inserts _ before an uppercase letter that is not first
// and immediately follows a lowercase letter, then lowercases the
// whole key. Idempotent on keys that are already snake_case. Runs of
// uppercase stay fused (VPCId comes out vpcid), which is what the
// override table exists to patch up.
func SnakeCase(key string) string {
	runes := []rune(key)
	var b strings.Builder
	b.Grow(len(key) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
