package command

import (
	"strconv"
	"strings"
)

// Command is a parsed slash command. Name is lower-cased; Args keeps the
// original casing so names and labels survive.
type Command struct {
	Name string
	Args []string
	Raw  string
}

// Parse reads a "/name arg..." line. It reports false for input that does not
// start with a slash. A bare "/" parses to an empty Name.
func Parse(input string) (Command, bool) {
	rest, ok := strings.CutPrefix(strings.TrimLeft(input, " \t"), "/")
	if !ok {
		return Command{}, false
	}
	raw := strings.TrimSpace(rest)
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Command{Raw: raw}, true
	}
	return Command{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
		Raw:  raw,
	}, true
}

// Int parses argument i as a base-10 integer.
func (c Command) Int(i int) (int, error) {
	if i < 0 || i >= len(c.Args) {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(c.Args[i])
}

// Rest joins the arguments from i on with single spaces, for multi-word
// values such as confidence labels.
func (c Command) Rest(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}
