package olefs

import (
	"fmt"
	"path"
	"strings"
)

const MAX_NAME_LEN int = 31

type Ordering int

const (
	OrderLess Ordering = iota
	OrderEqual
	OrderGreater
)

func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}

	if strings.ContainsAny(name, "/\\:!") {
		return fmt.Errorf("name contains one of /\\:! characters: %v", name)
	}

	return nil
}

// CompareNames orders directory siblings the way the on-disk tree does:
// shorter names sort before longer names, names of equal length compare
// bytewise. This is not plain lexical order.
func CompareNames(nameLeft, nameRight string) Ordering {
	if len(nameLeft) < len(nameRight) {
		return OrderLess
	}
	if len(nameLeft) > len(nameRight) {
		return OrderGreater
	}

	switch strings.Compare(nameLeft, nameRight) {
	case -1:
		return OrderLess
	case 1:
		return OrderGreater
	default:
		return OrderEqual
	}
}

func NameChainFromPath(s string) []string {
	s = path.Clean(s)
	if s == "" || s == "." || s == "/" {
		return []string{}
	}

	if s[0] == '/' {
		s = s[1:]
	}

	if strings.HasPrefix(s, "..") {
		return []string{}
	}

	return strings.Split(s, "/")
}

func PathFromNameChain(names []string) string {
	return "/" + strings.Join(names, "/")
}

// parentPath strips the last component from a full name, leaving "/" for
// entries hanging directly off the root.
func parentPath(fullName string) string {
	name := fullName
	if name == "" || name == "/" {
		return "/"
	}

	if name[0] != '/' {
		name = "/" + name
	}
	name = strings.TrimSuffix(name, "/")

	lastSlash := strings.LastIndexByte(name, '/')
	if lastSlash <= 0 {
		return "/"
	}

	return name[:lastSlash]
}
