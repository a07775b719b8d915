package hosts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ExpandHostlist expands a SLURM compressed host list such as
// "c401-[001-003,007],c402-010" into individual host names, keeping the zero
// padding of each range. Several bracket groups in one name expand as a
// cartesian product, ex: "r[1-2]n[1-2]" gives r1n1 r1n2 r2n1 r2n2.
func ExpandHostlist(hostlist string) ([]string, error) {
	items, err := splitTopLevel(strings.TrimSpace(hostlist))
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, item := range items {
		if item == "" {
			continue
		}
		expanded, err := expandItem(item)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding %q", hostlist)
		}
		hosts = append(hosts, expanded...)
	}
	return hosts, nil
}

// Split on commas that are not inside brackets.
func splitTopLevel(s string) ([]string, error) {
	var items []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
			if depth > 1 {
				return nil, fmt.Errorf("nested bracket at %d in %q", i, s)
			}
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced bracket at %d in %q", i, s)
			}
		case ',':
			if depth == 0 {
				items = append(items, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unterminated bracket in %q", s)
	}
	return append(items, s[start:]), nil
}

func expandItem(item string) ([]string, error) {
	open := strings.Index(item, "[")
	if open < 0 {
		return []string{item}, nil
	}
	end := strings.Index(item[open:], "]")
	if end < 0 {
		return nil, fmt.Errorf("unterminated bracket in %q", item)
	}
	end += open
	prefix, body, rest := item[:open], item[open+1:end], item[end+1:]

	suffixes, err := expandItem(rest)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, part := range strings.Split(body, ",") {
		values, err := expandRange(part)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			for _, s := range suffixes {
				out = append(out, prefix+v+s)
			}
		}
	}
	return out, nil
}

// "7" gives [7]; "001-003" gives [001 002 003].
func expandRange(part string) ([]string, error) {
	bounds := strings.SplitN(part, "-", 2)
	lo, err := strconv.Atoi(bounds[0])
	if err != nil {
		return nil, fmt.Errorf("bad range bound %q", part)
	}
	if len(bounds) == 1 {
		return []string{bounds[0]}, nil
	}
	hi, err := strconv.Atoi(bounds[1])
	if err != nil || hi < lo {
		return nil, fmt.Errorf("bad range %q", part)
	}
	width := len(bounds[0])
	out := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, fmt.Sprintf("%0*d", width, i))
	}
	return out, nil
}
