package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestTokenizeLineBasic(t *testing.T) {
	tokens, err := tokenizeLine(`KERNEL=="sd*", ATTR{power/control}="auto", SYMLINK+="disk"`)
	require.NoError(t, err)
	require.Len(t, tokens, 3)

	require.Equal(t, Token{Key: "KERNEL", Op: OpMatch, Value: "sd*"}, tokens[0])
	require.Equal(t, Token{Key: "ATTR", Attr: "power/control", Op: OpAssign, Value: "auto"}, tokens[1])
	require.Equal(t, Token{Key: "SYMLINK", Op: OpAdd, Value: "disk"}, tokens[2])
}

func TestTokenizeLineAllOperators(t *testing.T) {
	tokens, err := tokenizeLine(`A=="1", B!="2", C="3", D+="4", E:="5", F-="6"`)
	require.NoError(t, err)
	require.Len(t, tokens, 6)
	want := []Operator{OpMatch, OpNomatch, OpAssign, OpAdd, OpAssignFinal, OpRemove}
	for i, op := range want {
		require.Equal(t, op, tokens[i].Op, "token %d", i)
	}
}

func TestTokenizeLineMalformed(t *testing.T) {
	_, err := tokenizeLine(`KERNEL sd*`)
	require.Error(t, err)
}

func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadConcatenatesFilesInSortedOrder(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "10-first.rules", "KERNEL==\"sda\", SYMLINK+=\"disk1\"\n")
	writeRuleFile(t, dir, "99-last.rules", "# a comment\n\nKERNEL==\"sdb\", SYMLINK+=\"disk2\"\n")
	writeRuleFile(t, dir, "ignored.conf", "KERNEL==\"sdz\", SYMLINK+=\"never\"\n")

	l := New(zerolog.Nop())
	rules, err := l.Load(dir)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "sda", rules[0].Tokens[0].Value)
	require.Equal(t, "sdb", rules[1].Tokens[0].Value)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "bad.rules", "not a valid rule line\n")

	l := New(zerolog.Nop())
	_, err := l.Load(dir)
	require.Error(t, err)
}

func TestRuleMatchesAndNomatch(t *testing.T) {
	tokens, err := tokenizeLine(`KERNEL=="sd*", SUBSYSTEM!="usb", SYMLINK+="disk"`)
	require.NoError(t, err)
	r := Rule{Tokens: tokens}

	require.True(t, r.Matches(map[string]string{"KERNEL": "sda", "SUBSYSTEM": "block"}))
	require.False(t, r.Matches(map[string]string{"KERNEL": "hda", "SUBSYSTEM": "block"}))
	require.False(t, r.Matches(map[string]string{"KERNEL": "sda", "SUBSYSTEM": "usb"}))
}

func TestRuleMatchMissingKeyFailsEquality(t *testing.T) {
	tokens, err := tokenizeLine(`ENV{ID_FOO}=="bar", SYMLINK+="x"`)
	require.NoError(t, err)
	r := Rule{Tokens: tokens}
	require.False(t, r.Matches(map[string]string{}))
}

func TestRuleActionsExcludesMatchTokens(t *testing.T) {
	tokens, err := tokenizeLine(`KERNEL=="sd*", SYMLINK+="disk", OWNER="root"`)
	require.NoError(t, err)
	r := Rule{Tokens: tokens}
	actions := r.Actions()
	require.Len(t, actions, 2)
	require.Equal(t, "SYMLINK", actions[0].Key)
	require.Equal(t, "OWNER", actions[1].Key)
}

func TestCompileEvaluateFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "10-a.rules", "KERNEL==\"sd*\", SYMLINK+=\"disk\"\n")
	writeRuleFile(t, dir, "20-b.rules", "KERNEL==\"sd*\", OWNER=\"storage\"\n")
	writeRuleFile(t, dir, "30-c.rules", "KERNEL==\"ttyUSB*\", OWNER=\"dialout\"\n")

	l := New(zerolog.Nop())
	loaded, err := l.Load(dir)
	require.NoError(t, err)

	c := Compile(loaded)
	actions := c.Evaluate(map[string]string{"KERNEL": "sda"})
	require.Len(t, actions, 2)
	require.Equal(t, "SYMLINK", actions[0].Key)
	require.Equal(t, "OWNER", actions[1].Key)
	require.Equal(t, "storage", actions[1].Value)
}
