package policy

import "strings"

// score ranks a rule match. Kind dominates; length breaks ties within a kind.
type score struct {
	kind   matchKind
	length int
}

// none is lower than any real match.
var none = score{kind: kindRegex + 1, length: -1}

func (s score) beats(o score) bool {
	if s.kind != o.kind {
		return s.kind < o.kind
	}
	return s.length > o.length
}

// score returns how well r matches fullMethod, or none.
func (r *rule) score(fullMethod string) score {
	switch r.kind {
	case kindExact:
		if fullMethod != r.pattern {
			return none
		}
	case kindPrefix:
		if !strings.HasPrefix(fullMethod, r.pattern) {
			return none
		}
	case kindRegex:
		loc := r.re.FindStringIndex(fullMethod)
		if loc == nil {
			return none
		}
		return score{kind: kindRegex, length: loc[1] - loc[0]}
	}
	return score{kind: r.kind, length: len(r.pattern)}
}
