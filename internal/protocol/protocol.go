// Package protocol decodes the interpreter's stdout into its lexer, parser and
// evaluator sections.
//
// The interpreter writes its sections one after another, each followed by a
// line holding only Delimiter:
//
//	<token>,<token>,...        lexer section, one record per line
//	=================================
//	<header>                   parser section
//	<ast node>
//	=================================
//	<header>                   evaluator section
//	<program output line>
package protocol

import (
	"fmt"
	"strings"

	"github.com/rvrun/rvrun/internal/types"
)

// Delimiter separates the sections of the interpreter's output
const Delimiter = "================================="

// Section names, in stream order
const (
	SectionLexer     = "lexer"
	SectionParser    = "parser"
	SectionEvaluator = "evaluator"
)

var sectionNames = []string{SectionLexer, SectionParser, SectionEvaluator}

// ParseError reports interpreter output that does not follow the section protocol
type ParseError struct {
	Section string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed interpreter output: %s section %s", e.Section, e.Reason)
}

// Parse splits stdout into its three sections and decodes each of them.
// No partial result is returned on error.
func Parse(stdout string) (*types.ParsedResult, error) {
	sections := splitSections(stdout)
	if len(sections) < len(sectionNames) {
		return nil, &ParseError{Section: sectionNames[len(sections)], Reason: "is missing"}
	}

	return &types.ParsedResult{
		Tokens:        parseLexer(sections[0]),
		ASTSequence:   sliceBody(sections[1]),
		ProgramOutput: sliceBody(sections[2]),
	}, nil
}

// splitSections cuts stdout at the first two delimiter lines. Later delimiter
// lines stay inside the evaluator section since programs may print them.
func splitSections(stdout string) []string {
	var (
		sections []string
		current  strings.Builder
	)

	rest := stdout
	for rest != "" {
		line := rest
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		rest = rest[len(line):]

		if len(sections) < len(sectionNames)-1 && isDelimiter(line) {
			sections = append(sections, current.String())
			current.Reset()
			continue
		}
		current.WriteString(line)
	}

	return append(sections, current.String())
}

func isDelimiter(line string) bool {
	return strings.TrimRight(line, "\r\n") == Delimiter
}

// parseLexer drops the trailing blank line and splits every remaining line
// into trimmed comma-separated fields
func parseLexer(section string) [][]string {
	lines := strings.Split(section, "\n")
	lines = lines[:len(lines)-1]

	tokens := make([][]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, ",")
		for i, field := range fields {
			fields[i] = strings.TrimSpace(field)
		}
		tokens = append(tokens, fields)
	}
	return tokens
}

// sliceBody drops the header line and the trailing blank line. Whitespace in
// the remaining lines is preserved.
func sliceBody(section string) []string {
	lines := strings.Split(section, "\n")
	if len(lines) <= 2 {
		return []string{}
	}

	body := make([]string, len(lines)-2)
	copy(body, lines[1:len(lines)-1])
	return body
}

// ParseChunks decodes the single-line layout used by the first frontend:
// the first line holds every token, the last line holds the program output
// and the lines in between are AST nodes. It does not recognise section
// delimiters and disagrees with Parse on any multi-line program output.
//
// Deprecated: the interpreter emits delimited sections; use Parse.
func ParseChunks(stdout string) *types.ParsedResult {
	result := &types.ParsedResult{
		Tokens:        [][]string{},
		ASTSequence:   []string{},
		ProgramOutput: []string{},
	}

	chunks := strings.Split(stdout, "\n")
	chunks = chunks[:len(chunks)-1]
	if len(chunks) == 0 {
		return result
	}

	result.Tokens = [][]string{strings.Split(chunks[0], ",")}
	if len(chunks) > 2 {
		result.ASTSequence = append(result.ASTSequence, chunks[1:len(chunks)-1]...)
	}
	if len(chunks) > 1 {
		result.ProgramOutput = []string{chunks[len(chunks)-1]}
	}
	return result
}
