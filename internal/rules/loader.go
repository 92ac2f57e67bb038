package rules

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Rule is one parsed, uncompiled rule line.
type Rule struct {
	File   string
	Line   int
	Tokens []Token
}

// Loader reads .rules files from a directory, per §4.C11.
type Loader struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Loader {
	return &Loader{log: log.With().Str("component", "rules").Logger()}
}

// Load reads every *.rules file directly under dir, in sorted filename
// order (the convention udev-style rule directories rely on for
// deterministic override ordering), and returns their rules concatenated
// in file order.
func (l *Loader) Load(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("rules: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".rules") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var rules []Rule
	for _, name := range names {
		fileRules, err := l.loadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}
	l.log.Info().Int("files", len(names)).Int("rules", len(rules)).Str("dir", dir).Msg("rules loaded")
	return rules, nil
}

func (l *Loader) loadFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rules: open %s: %w", path, err)
	}
	defer f.Close()

	var rules []Rule
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens, err := tokenizeLine(line)
		if err != nil {
			return nil, fmt.Errorf("rules: %s:%d: %w", path, lineNo, err)
		}
		rules = append(rules, Rule{File: path, Line: lineNo, Tokens: tokens})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("rules: scan %s: %w", path, err)
	}
	return rules, nil
}
