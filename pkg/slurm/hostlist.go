// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package slurm

import (
	"fmt"
	"strconv"
	"strings"
)

// maxHosts bounds a single expansion so a typo like node[0-99999999] fails fast.
const maxHosts = 1 << 16

// ExpandHostList expands a Slurm hostlist expression such as "gpu[001-003,010],login1"
// into individual host names, in order. Numeric ranges keep the zero padding of their
// lower bound, and a name may hold several bracket groups, e.g. rack[1-2]-node[01-02].
func ExpandHostList(hostlist string) ([]string, error) {
	hostlist = strings.TrimSpace(hostlist)
	if hostlist == "" {
		return nil, nil
	}
	var hosts []string
	for _, expr := range splitTopLevel(hostlist) {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		expanded, err := expandHost(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid hostlist %q: %w", hostlist, err)
		}
		hosts = append(hosts, expanded...)
		if len(hosts) > maxHosts {
			return nil, fmt.Errorf("invalid hostlist %q: more than %d hosts", hostlist, maxHosts)
		}
	}
	return hosts, nil
}

// splitTopLevel splits on commas that are not inside brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func expandHost(expr string) ([]string, error) {
	open := strings.IndexByte(expr, '[')
	if open < 0 {
		if strings.ContainsRune(expr, ']') {
			return nil, fmt.Errorf("unmatched ']' in %q", expr)
		}
		return []string{expr}, nil
	}
	end := strings.IndexByte(expr[open:], ']')
	if end < 0 {
		return nil, fmt.Errorf("unmatched '[' in %q", expr)
	}
	end += open
	prefix, body, rest := expr[:open], expr[open+1:end], expr[end+1:]
	if strings.ContainsRune(body, '[') {
		return nil, fmt.Errorf("nested brackets in %q", expr)
	}

	ids, err := expandRanges(body)
	if err != nil {
		return nil, err
	}
	suffixes, err := expandHost(rest)
	if err != nil {
		return nil, err
	}
	if len(ids)*len(suffixes) > maxHosts {
		return nil, fmt.Errorf("more than %d hosts in %q", maxHosts, expr)
	}

	hosts := make([]string, 0, len(ids)*len(suffixes))
	for _, id := range ids {
		for _, suffix := range suffixes {
			hosts = append(hosts, prefix+id+suffix)
		}
	}
	return hosts, nil
}

func expandRanges(body string) ([]string, error) {
	var ids []string
	for _, r := range strings.Split(body, ",") {
		lo, hi, isRange := strings.Cut(r, "-")
		if !isDigits(lo) || (isRange && !isDigits(hi)) {
			return nil, fmt.Errorf("invalid range %q", r)
		}
		if !isRange {
			ids = append(ids, lo)
			continue
		}
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", r, err)
		}
		stop, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", r, err)
		}
		if stop < start {
			return nil, fmt.Errorf("reversed range %q", r)
		}
		if stop-start >= maxHosts {
			return nil, fmt.Errorf("range %q is larger than %d hosts", r, maxHosts)
		}
		width := len(lo)
		for i := start; i <= stop; i++ {
			ids = append(ids, fmt.Sprintf("%0*d", width, i))
		}
	}
	return ids, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// HostIndex returns the position of hostname in hosts, comparing short names so
// "gpu001.cluster" matches "gpu001". It returns -1 when the host is absent.
func HostIndex(hosts []string, hostname string) int {
	short := func(h string) string {
		name, _, _ := strings.Cut(h, ".")
		return name
	}
	for i, h := range hosts {
		if h == hostname || short(h) == short(hostname) {
			return i
		}
	}
	return -1
}
