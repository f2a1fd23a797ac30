package normalizer

import (
	"strings"

	"github.com/planbridge/planbridge/pkg/model"
)

// Intrinsic marker keys recognized in property values. Only the first
// four have a resolution branch; the others are recognized shapes
// that deliberately take the generic path until someone needs them.
const (
	fnRef         = "Ref"
	fnGetAtt      = "Fn::GetAtt"
	fnSub         = "Fn::Sub"
	fnJoin        = "Fn::Join"
	fnImportValue = "Fn::ImportValue"
	fnSelect      = "Fn::Select"
	fnFindInMap   = "Fn::FindInMap"
	fnBase64      = "Fn::Base64"
)

// ResolveValue rewrites intrinsic calls into their plan-side string
// forms. It is total: a malformed intrinsic is never an error, it
// just recurses like any other object. Containers are rebuilt, so the
// result shares no mutable state with the input.
func ResolveValue(v model.Value) model.Value {
	switch val := v.(type) {
	case model.Object:
		if out, ok := resolveIntrinsic(val); ok {
			return out
		}
		obj := make(model.Object, len(val))
		for k, item := range val {
			obj[k] = ResolveValue(item)
		}
		return obj
	case model.Array:
		arr := make(model.Array, len(val))
		for i, item := range val {
			arr[i] = ResolveValue(item)
		}
		return arr
	default:
		return v
	}
}

// resolveIntrinsic handles the single-key objects that stand in for
// function calls. ok=false means the object is not a resolvable
// intrinsic and the caller recurses generically instead.
func resolveIntrinsic(obj model.Object) (model.Value, bool) {
	if len(obj) != 1 {
		return nil, false
	}
	for key, payload := range obj {
		switch key {
		case fnRef:
			if name, ok := payload.(model.String); ok {
				return model.String("${" + string(name) + "}"), true
			}
		case fnGetAtt:
			if parts, ok := payload.(model.Array); ok && len(parts) == 2 {
				res, okRes := parts[0].(model.String)
				attr, okAttr := parts[1].(model.String)
				if okRes && okAttr {
					return model.String("${" + string(res) + "." + string(attr) + "}"), true
				}
			}
		case fnSub:
			// A plain-string template already matches the target
			// interpolation syntax. The list payload does not resolve.
			if s, ok := payload.(model.String); ok {
				return s, true
			}
		case fnJoin:
			if out, ok := resolveJoin(payload); ok {
				return out, true
			}
		case fnImportValue, fnSelect, fnFindInMap, fnBase64:
			// Recognized, no resolution branch.
			return nil, false
		}
	}
	return nil, false
}

// resolveJoin joins the string parts of [delimiter, [parts...]].
// Non-string parts are dropped without being resolved first.
func resolveJoin(payload model.Value) (model.Value, bool) {
	args, ok := payload.(model.Array)
	if !ok || len(args) != 2 {
		return nil, false
	}
	delim, ok := args[0].(model.String)
	if !ok {
		return nil, false
	}
	parts, ok := args[1].(model.Array)
	if !ok {
		return nil, false
	}
	keep := make([]string, 0, len(parts))
	for _, p := range parts {
		if s, ok := p.(model.String); ok {
			keep = append(keep, string(s))
		}
	}
	return model.String(strings.Join(keep, string(delim))), true
}
