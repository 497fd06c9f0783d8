package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// pathSegment is one step of a dot-path: either an object key or a list index.
type pathSegment struct {
	key     string
	index   int
	isIndex bool
}

func (s pathSegment) String() string {
	if s.isIndex {
		return fmt.Sprintf("[%d]", s.index)
	}
	return s.key
}

// parsePath splits a dot-path such as "claims[0].lines[2].code" into segments.
// Bracketed segments must hold a non-negative integer.
func parsePath(path string) ([]pathSegment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}

		key := part
		rest := ""
		if open := strings.IndexByte(part, '['); open >= 0 {
			key = part[:open]
			rest = part[open:]
		}
		if key != "" {
			segs = append(segs, pathSegment{key: key})
		}

		for rest != "" {
			if rest[0] != '[' {
				return nil, fmt.Errorf("unexpected %q in path %q", rest, path)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in path %q", path)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index %q in path %q", rest[1:end], path)
			}
			segs = append(segs, pathSegment{index: idx, isIndex: true})
			rest = rest[end+1:]
		}
	}

	return segs, nil
}

// GetPath resolves a dot-path against root.
// Returns (nil, false) when any segment is missing or the path is malformed;
// a missing value is "undefined", never an error.
func GetPath(root Value, path string) (Value, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	return resolve(root, segs)
}

// resolve walks segs below root.
func resolve(root Value, segs []pathSegment) (Value, bool) {
	current := root
	for _, seg := range segs {
		switch container := current.(type) {
		case Object:
			if seg.isIndex {
				return nil, false
			}
			next, ok := container[seg.key]
			if !ok {
				return nil, false
			}
			current = next
		case List:
			idx := seg.index
			if !seg.isIndex {
				// "items.0" addresses a list element as well.
				n, convErr := strconv.Atoi(seg.key)
				if convErr != nil {
					return nil, false
				}
				idx = n
			}
			if idx < 0 || idx >= len(container) {
				return nil, false
			}
			current = container[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// Get is GetPath on an Object receiver.
func (obj Object) Get(path string) (Value, bool) {
	return GetPath(obj, path)
}

// SetPath writes v at path inside root, creating intermediate objects and
// lists as needed. Objects are mutated in place. Writing one past the end of
// a list appends; writing further past it is an error.
func SetPath(root Object, path string, v Value) error {
	if root == nil {
		return fmt.Errorf("set %q: nil object", path)
	}
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if segs[0].isIndex {
		return fmt.Errorf("set %q: path must start with a field name", path)
	}

	_, err = setIn(root, segs, v, path)
	return err
}

// DeletePath removes the object key at path. Returns false when the path
// does not resolve or ends in a list index; list elements are removed by
// writing a new list with SetPath.
func DeletePath(root Object, path string) bool {
	segs, err := parsePath(path)
	if err != nil || root == nil {
		return false
	}
	last := segs[len(segs)-1]
	if last.isIndex {
		return false
	}

	parent, ok := resolve(root, segs[:len(segs)-1])
	if !ok {
		return false
	}
	obj, ok := parent.(Object)
	if !ok {
		return false
	}
	if _, exists := obj[last.key]; !exists {
		return false
	}
	delete(obj, last.key)
	return true
}

// Set is SetPath on an Object receiver.
func (obj Object) Set(path string, v Value) error {
	return SetPath(obj, path, v)
}

// setIn writes v at segs below container and returns the (possibly new)
// container, so that list growth can be written back into the parent.
func setIn(container Value, segs []pathSegment, v Value, path string) (Value, error) {
	seg := segs[0]
	last := len(segs) == 1

	switch c := container.(type) {
	case Object:
		if seg.isIndex {
			return nil, fmt.Errorf("set %q: cannot index object with %s", path, seg)
		}
		if last {
			c[seg.key] = v
			return c, nil
		}
		child, err := setIn(childContainer(c[seg.key], segs[1]), segs[1:], v, path)
		if err != nil {
			return nil, err
		}
		c[seg.key] = child
		return c, nil

	case List:
		idx := seg.index
		if !seg.isIndex {
			n, convErr := strconv.Atoi(seg.key)
			if convErr != nil {
				return nil, fmt.Errorf("set %q: cannot use key %q on list", path, seg.key)
			}
			idx = n
		}
		if idx > len(c) {
			return nil, fmt.Errorf("set %q: index %d out of range (len %d)", path, idx, len(c))
		}
		if idx == len(c) {
			c = append(c, nil)
		}
		if last {
			c[idx] = v
			return c, nil
		}
		child, err := setIn(childContainer(c[idx], segs[1]), segs[1:], v, path)
		if err != nil {
			return nil, err
		}
		c[idx] = child
		return c, nil

	default:
		return nil, fmt.Errorf("set %q: cannot descend into %s at %s", path, KindOf(container), seg)
	}
}

// childContainer returns existing when it can hold next, otherwise a fresh
// container of the right shape. Scalars in the way are replaced.
func childContainer(existing Value, next pathSegment) Value {
	switch existing.(type) {
	case Object:
		if !next.isIndex {
			return existing
		}
	case List:
		return existing
	}
	if next.isIndex {
		return List{}
	}
	return Object{}
}
