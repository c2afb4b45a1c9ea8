package dict

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	headwordPrefix   = "W:"
	definitionPrefix = "D:"
	resourcePrefix   = "R:"
	separator        = "---"
)

type state int

const (
	seeking state = iota
	readingHeadwords
	readingDefinition
)

// Record is one glossary entry: the words it answers to, its definition text
// and the names of resource files that accompany it.
type Record struct {
	Headwords  []string
	Definition string
	Resources  []string
}

// ParseFile reads a glossary file from the given path and extracts all records.
func ParseFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads glossary text from r. A record starts with one or more W: lines,
// followed by D: definition lines (continuation lines belong to the definition)
// and optional R: resource lines. Records end at "---" or at the next W: line
// that follows a definition. Text before the first W: line is ignored.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []Record
	var current Record
	var definition []string
	currentState := seeking

	finishRecord := func() {
		current.Definition = strings.TrimSpace(strings.Join(definition, "\n"))
		if len(current.Headwords) > 0 {
			records = append(records, current)
		}
		current = Record{}
		definition = nil
		currentState = seeking
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == separator:
			finishRecord()

		case strings.HasPrefix(line, headwordPrefix):
			if currentState == readingDefinition {
				finishRecord()
			}
			if word := strings.TrimSpace(field(line, headwordPrefix)); word != "" {
				current.Headwords = append(current.Headwords, word)
			}
			currentState = readingHeadwords

		case strings.HasPrefix(line, definitionPrefix):
			if currentState == seeking {
				continue
			}
			currentState = readingDefinition
			definition = append(definition, field(line, definitionPrefix))

		case strings.HasPrefix(line, resourcePrefix):
			if currentState == seeking {
				continue
			}
			if name := strings.TrimSpace(field(line, resourcePrefix)); name != "" {
				current.Resources = append(current.Resources, name)
			}

		case currentState == readingDefinition:
			definition = append(definition, line)
		}
	}

	finishRecord() // Finish the very last record in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// field strips prefix and a single following space.
func field(line, prefix string) string {
	content := line[len(prefix):]
	if strings.HasPrefix(content, " ") {
		content = content[1:]
	}
	return content
}
