package test

import (
	"bufio"
	"os"
	"regexp"
	"strings"
	"testing"
)

// TestGateway_DelegateMethodComplexity ensures that methods on Gateway in
// gateway.go stay below a maximum line count. Methods exceeding this
// threshold likely contain inline session logic that belongs in
// internal/flows/*.
//
// Exceptions must carry a reason and the flow file the logic should move
// to, so an exception cannot become permanent by accident.
func TestGateway_DelegateMethodComplexity(t *testing.T) {
	const maxLines = 30
	const filename = "../gateway.go"

	type delegateException struct {
		limit  int
		reason string
		target string
	}

	exceptions := map[string]delegateException{
		"Await": {40, "cross-replica adopt loop", "internal/flows/bootstrap.go"},
	}

	for name, exc := range exceptions {
		if exc.reason == "" {
			t.Errorf("exception %q missing reason", name)
		}
		if exc.target == "" {
			t.Errorf("exception %q missing target flow file", name)
		}
	}

	funcSig := regexp.MustCompile(`^func \(g \*Gateway\) ([A-Za-z]\w*)\(`)

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("open %s: %v", filename, err)
	}
	defer f.Close()

	type methodInfo struct {
		name  string
		start int
		depth int
	}

	scanner := bufio.NewScanner(f)
	lineNum := 0
	seen := 0
	var current *methodInfo

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if current == nil {
			if m := funcSig.FindStringSubmatch(line); m != nil {
				seen++
				current = &methodInfo{
					name:  m[1],
					start: lineNum,
					depth: strings.Count(line, "{") - strings.Count(line, "}"),
				}
				if current.depth <= 0 {
					current = nil
				}
			}
			continue
		}

		current.depth += strings.Count(line, "{") - strings.Count(line, "}")
		if current.depth <= 0 {
			length := lineNum - current.start + 1
			limit := maxLines
			if exc, ok := exceptions[current.name]; ok {
				limit = exc.limit
			}
			if length > limit {
				t.Errorf("%s:%d: method %s is %d lines (limit %d); move session logic to internal/flows/",
					filename, current.start, current.name, length, limit)
			}
			current = nil
		}
	}

	if err := scanner.Err(); err != nil {
		t.Fatalf("scan %s: %v", filename, err)
	}
	if seen == 0 {
		t.Fatalf("no Gateway methods found in %s", filename)
	}
}
