package proto

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme of data items.
const Scheme = "wear"

// URI addresses a data item by owning node (authority) and path. An
// empty authority matches every node; an empty path matches every path.
type URI struct {
	Authority string
	Path      string
}

// ValidatePath checks that p is an absolute slash-separated path with no
// empty segments and no trailing slash (the root "/" excepted).
func ValidatePath(p string) error {
	if p == "" || p[0] != '/' {
		return fmt.Errorf("%w: %q must start with '/'", ErrInvalidPath, p)
	}
	if p == "/" {
		return nil
	}
	if strings.HasSuffix(p, "/") {
		return fmt.Errorf("%w: %q has a trailing '/'", ErrInvalidPath, p)
	}
	if strings.Contains(p, "//") {
		return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, p)
	}
	return nil
}

// JoinPath appends name as a new segment of path.
func JoinPath(path, name string) string {
	return strings.TrimSuffix(path, "/") + "/" + strings.Trim(name, "/")
}

func NewURI(authority, path string) (URI, error) {
	if err := ValidatePath(path); err != nil {
		return URI{}, err
	}
	return URI{Authority: authority, Path: path}, nil
}

// ParseURI parses "wear://authority/path". The authority may be empty;
// otherwise it must be a valid node id.
func ParseURI(s string) (URI, error) {
	u, err := url.Parse(s)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if u.Scheme != Scheme {
		return URI{}, fmt.Errorf("%w: scheme %q is not %q", ErrInvalidPath, u.Scheme, Scheme)
	}
	if u.Opaque != "" || u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || strings.Contains(s, "#") {
		return URI{}, fmt.Errorf("%w: %q is not of the form %s://authority/path", ErrInvalidPath, s, Scheme)
	}
	if u.Host != "" {
		if err := ValidateNodeID(u.Host); err != nil {
			return URI{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
	}
	if u.Path == "" {
		return URI{Authority: u.Host}, nil
	}
	return NewURI(u.Host, u.Path)
}

func (u URI) String() string {
	return Scheme + "://" + u.Authority + u.Path
}

func (u URI) IsZero() bool {
	return u.Authority == "" && u.Path == ""
}

// Matches reports whether item is selected by the filter u.
func (u URI) Matches(item URI) bool {
	if u.Authority != "" && u.Authority != item.Authority {
		return false
	}
	return u.Path == "" || u.Path == item.Path
}
