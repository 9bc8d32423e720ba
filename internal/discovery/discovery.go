// Package discovery probes which external tools are present and renders
// a prompt fragment that tells an LLM what it can use. The probe is
// best-effort: a missing tool is informational, never an error.
package discovery

import (
	"fmt"
	"os/exec"
	gopath "path"
	"sort"
	"strings"
)

// KnownTools maps tool names to short descriptions used in prompts.
var KnownTools = map[string]string{
	// Search and filter
	"grep": "Pattern matching and searching (regex support)",
	"find": "Locate files by pattern, name, or attributes",
	"ag":   "The Silver Searcher - fast code search",
	"rg":   "ripgrep - fast regex search",
	// Text processing
	"sed":  "Stream editor for substitution and transformation",
	"awk":  "Field-based processing and pattern scanning",
	"cut":  "Extract columns/fields by delimiter",
	"tr":   "Translate, squeeze, or delete characters",
	"sort": "Sort lines alphabetically/numerically",
	"uniq": "Remove duplicates or count occurrences",
	// File viewing
	"cat":  "View file contents",
	"head": "View first N lines of a file",
	"tail": "View last N lines of a file",
	"less": "Page through file contents",
	"wc":   "Count lines, words, characters",
	// Structured data
	"jq":  "Parse and manipulate JSON",
	"yq":  "Parse YAML, XML, TOML",
	"xsv": "Fast CSV processing",
	"mlr": "Miller - CSV/JSON processing",
	// Comparison
	"diff": "Compare files line by line",
	"comm": "Compare two sorted files",
	// Network
	"curl": "Transfer data from URLs",
	"wget": "Download files from URLs",
	// Programming
	"python3": "Python interpreter",
	"python":  "Python interpreter",
	"node":    "Node.js runtime",
	// Utilities
	"xargs": "Build commands from stdin",
	"tee":   "Split output to file and stdout",
	"ls":    "List directory contents",
	"tree":  "Display directory tree",
	"file":  "Determine file type",
	"stat":  "Display file status",
}

// formatHints recommends tools per file extension.
var formatHints = map[string][]string{
	".json":  {"jq", "python3"},
	".jsonl": {"jq", "python3"},
	".yaml":  {"yq"},
	".yml":   {"yq"},
	".csv":   {"awk", "cut", "xsv", "mlr"},
	".tsv":   {"awk", "cut"},
	".xml":   {"yq", "grep"},
	".html":  {"grep", "python3"},
	".md":    {"grep", "cat"},
	".py":    {"grep", "python3"},
	".js":    {"grep", "node"},
	".ts":    {"grep"},
}

// Set is the cached result of one probe.
type Set struct {
	available map[string]bool
}

// Probe checks every known tool against PATH. Performed once per
// toolkit session and cached for its lifetime.
func Probe() *Set {
	available := make(map[string]bool, len(KnownTools))
	for name := range KnownTools {
		if _, err := exec.LookPath(name); err == nil {
			available[name] = true
		}
	}
	return &Set{available: available}
}

// Has reports whether a tool was found.
func (s *Set) Has(name string) bool {
	return s.available[name]
}

// Names returns the available tool names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.available))
	for n := range s.available {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Prompt renders an LLM-oriented description of the available tools,
// with format-specific recommendations derived from the given file
// list and any extra instructions appended.
func (s *Set) Prompt(files []string, extra string) string {
	if len(s.available) == 0 {
		return extra
	}

	var lines []string

	var core []string
	for _, n := range []string{"awk", "cat", "find", "grep", "head", "ls", "sed", "tail"} {
		if s.Has(n) {
			core = append(core, n)
		}
	}
	if len(core) > 0 {
		lines = append(lines, fmt.Sprintf("Available tools: %s, and more", strings.Join(core, ", ")))
	}

	var special []string
	if s.Has("jq") {
		special = append(special, "jq for JSON")
	}
	if s.Has("yq") {
		special = append(special, "yq for YAML/XML")
	}
	switch {
	case s.Has("rg"):
		special = append(special, "rg for fast search")
	case s.Has("ag"):
		special = append(special, "ag for fast search")
	}
	if len(special) > 0 {
		lines = append(lines, "Special: "+strings.Join(special, ", "))
	}

	exts := make(map[string]bool)
	for _, f := range files {
		if ext := strings.ToLower(gopath.Ext(f)); ext != "" {
			exts[ext] = true
		}
	}
	sorted := make([]string, 0, len(exts))
	for ext := range exts {
		sorted = append(sorted, ext)
	}
	sort.Strings(sorted)
	for _, ext := range sorted {
		hints, ok := formatHints[ext]
		if !ok {
			continue
		}
		var usable []string
		for _, h := range hints {
			if s.Has(h) {
				usable = append(usable, h)
			}
		}
		if len(usable) > 0 {
			if len(usable) > 2 {
				usable = usable[:2]
			}
			lines = append(lines, fmt.Sprintf("For %s files: %s", ext, strings.Join(usable, ", ")))
		}
	}

	if extra != "" {
		lines = append(lines, "", extra)
	}
	return strings.Join(lines, "\n")
}
