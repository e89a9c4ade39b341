package manuscript

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// "- Title by Author (2019) - notes", "2. Title (2019)", "* **Title** by Author (2019)"
	compEntryRe = regexp.MustCompile(`^(\s*(?:[-*•]|\d+[.)])\s+)(.+?)\s*\((\d{4})\)`)
	trailingYr  = regexp.MustCompile(`\s*\((\d{4})\)\s*$`)
)

// CompEntry is one comparable-title slot in an analysis.
type CompEntry struct {
	Section string
	Line    int
	Key     string
	Year    int
	// Start and End are byte offsets of "Key (Year)" within the line.
	Start int
	End   int
}

// ParseCompEntries finds the list lines that cite a title with a year, tagged
// with the nearest heading above them.
func ParseCompEntries(analysis string) []CompEntry {
	var out []CompEntry
	section := ""
	for i, line := range strings.Split(analysis, "\n") {
		m := compEntryRe.FindStringSubmatchIndex(line)
		if m == nil {
			if h := headingOf(line); h != "" {
				section = h
			}
			continue
		}
		year, _ := strconv.Atoi(line[m[6]:m[7]])
		out = append(out, CompEntry{
			Section: section,
			Line:    i,
			Key:     strings.TrimSpace(line[m[4]:m[5]]),
			Year:    year,
			Start:   m[4],
			End:     m[1],
		})
	}
	return out
}

func headingOf(line string) string {
	t := strings.TrimSpace(line)
	if t == "" || strings.HasPrefix(t, "-") || strings.HasPrefix(t, "•") {
		return ""
	}
	if strings.HasPrefix(t, "* ") {
		return ""
	}
	t = strings.Trim(t, "#*_: ")
	return t
}

// ParsePatches reads REPLACE:/WITH: line pairs. A REPLACE line must be
// followed directly by its WITH line; anything else is skipped.
func ParsePatches(response string) []Patch {
	lines := strings.Split(strings.ReplaceAll(response, "\r\n", "\n"), "\n")
	var out []Patch
	for i := 0; i < len(lines); i++ {
		old, ok := cutDirective(lines[i], "REPLACE:")
		if !ok {
			continue
		}
		if i+1 >= len(lines) {
			break
		}
		repl, ok := cutDirective(lines[i+1], "WITH:")
		if !ok {
			continue
		}
		i++
		if old == "" || repl == "" {
			continue
		}
		out = append(out, Patch{Old: old, New: repl})
	}
	return out
}

func cutDirective(line, prefix string) (string, bool) {
	t := strings.TrimLeft(strings.TrimSpace(line), "-*• ")
	if !strings.HasPrefix(strings.ToUpper(t), prefix) {
		return "", false
	}
	v := strings.TrimSpace(t[len(prefix):])
	return strings.TrimSpace(strings.Trim(v, "*")), true
}

// titleKey splits the patch's old text into its title and, when present, its
// parenthesised year.
func titleKey(old string) (string, int) {
	old = strings.TrimSpace(old)
	year := 0
	if m := trailingYr.FindStringSubmatch(old); m != nil {
		year, _ = strconv.Atoi(m[1])
	}
	return strings.TrimSpace(trailingYr.ReplaceAllString(old, "")), year
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("*", "", "_", "", `"`, "", "“", "", "”", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ApplyPatches rewrites each comparable-title slot whose title matches a
// patch. A patch that matches no slot falls back to replacing every literal
// occurrence of its title text. It returns the new text and the number of
// patches that changed something.
func ApplyPatches(analysis string, patches []Patch) (string, int) {
	applied := 0
	for _, p := range patches {
		key, year := titleKey(p.Old)
		if key == "" {
			continue
		}
		next, ok := applySlotted(analysis, key, year, p.New)
		if !ok {
			next = literalPattern(key).ReplaceAllLiteralString(analysis, p.New)
		}
		if next != analysis {
			applied++
			analysis = next
		}
	}
	return analysis, applied
}

func literalPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(key) + `(\s*\(\d{4}\))?`)
}

// sameTitle reports whether an entry key names the patched title. A key
// without an author matches the entry's title part, the text before " by ";
// a key with an author must match the whole entry key.
func sameTitle(entryKey, want string) bool {
	got := normalizeKey(entryKey)
	if got == want {
		return true
	}
	if strings.Contains(want, " by ") {
		return false
	}
	title, _, ok := strings.Cut(got, " by ")
	return ok && title == want
}

func applySlotted(analysis, key string, year int, repl string) (string, bool) {
	want := normalizeKey(key)
	lines := strings.Split(analysis, "\n")
	matched := false
	for _, e := range ParseCompEntries(analysis) {
		if !sameTitle(e.Key, want) || (year != 0 && e.Year != year) {
			continue
		}
		line := lines[e.Line]
		matched = true
		lines[e.Line] = line[:e.Start] + repl + line[e.End:]
	}
	if !matched {
		return analysis, false
	}
	return strings.Join(lines, "\n"), true
}
