package model

import (
	"strconv"
	"strings"
)

// Path identifies a node of the blackboard tree. Paths are dotted segment
// lists starting at "root"; mapping keys and sequence indices are both
// segments. A literal '.' or '\' inside a key is escaped with a backslash so
// every node has exactly one path.
type Path string

// RootPath is the path of the blackboard root
const RootPath Path = "root"

// Child returns the path of a mapping entry below p
func (p Path) Child(key string) Path {
	return p + "." + Path(escapeSegment(key))
}

// Index returns the path of a sequence element below p
func (p Path) Index(i int) Path {
	return p + "." + Path(strconv.Itoa(i))
}

// Segments splits the path into unescaped segments, root included.
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	var (
		segs []string
		cur  strings.Builder
	)
	s := string(p)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case c == '.':
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(segs, cur.String())
}

// Depth is the number of segments below root. Root itself has depth 0.
func (p Path) Depth() int {
	n := len(p.Segments())
	if n == 0 {
		return 0
	}
	return n - 1
}

// Parent returns the enclosing path; false for root.
func (p Path) Parent() (Path, bool) {
	s := string(p)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != '.' {
			continue
		}
		// count preceding backslashes to tell an escaped dot from a separator
		bs := 0
		for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
			bs++
		}
		if bs%2 == 0 {
			return Path(s[:i]), true
		}
	}
	return "", false
}

// Last returns the final unescaped segment
func (p Path) Last() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

func escapeSegment(seg string) string {
	if !strings.ContainsAny(seg, `.\`) {
		return seg
	}
	var b strings.Builder
	b.Grow(len(seg) + 2)
	for i := 0; i < len(seg); i++ {
		if seg[i] == '.' || seg[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(seg[i])
	}
	return b.String()
}
