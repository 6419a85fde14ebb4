package normalizer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// VocabularyParseOptions selects which columns of a CSV/TSV vocabulary file
// hold the concept fields. Empty fields are auto-detected from the header;
// explicit values may name a header column or use 1-based "#n" indices.
type VocabularyParseOptions struct {
	IDColumn       string
	NameColumn     string
	SynonymsColumn string
}

// MentionParseOptions selects the columns of a batch mention file.
type MentionParseOptions struct {
	SurfaceColumn  string
	ContextColumn  string
	TypeHintColumn string
}

var (
	idColumnCandidates       = []string{"id", "concept_id", "cui", "identifier"}
	nameColumnCandidates     = []string{"name", "canonical", "canonical_name", "preferred_term", "term"}
	synonymsColumnCandidates = []string{"synonyms", "aliases", "alternate_names"}

	surfaceColumnCandidates = []string{"mention", "surface", "text"}
	contextColumnCandidates = []string{"context", "sentence"}
	typeColumnCandidates    = []string{"type", "type_hint", "entity_type"}
)

// splitSynonyms splits a synonym cell. Pipe is the conventional separator in
// vocabulary distributions; semicolons are accepted too.
func splitSynonyms(cell string) []string {
	raw := strings.FieldsFunc(cell, func(r rune) bool { return r == '|' || r == ';' })
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{})
	for _, syn := range raw {
		syn = strings.TrimSpace(syn)
		if syn == "" {
			continue
		}
		key := NormalizeText(syn)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, syn)
	}
	return out
}

// ParseVocabulary reads a concept vocabulary from a CSV/TSV file with
// columns for identifier, canonical name, and optional pipe-separated
// synonyms. Duplicate identifiers abort the parse with a *ResourceError.
func ParseVocabulary(path string, opts VocabularyParseOptions) ([]Concept, error) {
	rows, err := readDelimited(path)
	if err != nil {
		return nil, err
	}
	header := cleanHeader(rows[0])

	idCol, idFromHeader, err := resolveColumn(header, opts.IDColumn, idColumnCandidates)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "resolve id column", Err: err}
	}
	nameCol, nameFromHeader, err := resolveColumn(header, opts.NameColumn, nameColumnCandidates)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "resolve name column", Err: err}
	}
	synCol, synFromHeader, err := resolveColumn(header, opts.SynonymsColumn, synonymsColumnCandidates)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "resolve synonyms column", Err: err}
	}
	if idCol < 0 || nameCol < 0 {
		// Headerless two/three-column layout: id, name[, synonyms].
		if len(header) < 2 {
			return nil, resourceErrorf(path, "cannot locate id and name columns")
		}
		idCol, nameCol = 0, 1
		if synCol < 0 && len(header) > 2 {
			synCol = 2
		}
		idFromHeader, nameFromHeader, synFromHeader = false, false, false
	}

	start := 0
	if idFromHeader || nameFromHeader || synFromHeader {
		start = 1
	}
	concepts := make([]Concept, 0, len(rows)-start)
	seen := make(map[string]int)
	for n, row := range rows[start:] {
		if idCol >= len(row) || nameCol >= len(row) {
			continue
		}
		id := cleanCell(row[idCol])
		name := cleanCell(row[nameCol])
		if id == "" && name == "" {
			continue
		}
		if id == "" {
			return nil, resourceErrorf(path, "row %d has a name but no identifier", start+n+1)
		}
		if prev, dup := seen[id]; dup {
			return nil, resourceErrorf(path, "duplicate concept identifier %q (rows %d and %d)", id, prev, start+n+1)
		}
		seen[id] = start + n + 1
		c := Concept{ID: id, Name: name}
		if synCol >= 0 && synCol < len(row) {
			c.Synonyms = splitSynonyms(row[synCol])
		}
		concepts = append(concepts, c)
	}
	if len(concepts) == 0 {
		return nil, resourceErrorf(path, "vocabulary contains no concepts")
	}
	return concepts, nil
}

// ParseMentions reads a batch of mentions from a CSV/TSV file, or one
// mention per line from any other file type.
func ParseMentions(path string, opts MentionParseOptions) ([]Mention, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".tsv" {
		return parsePlainMentions(path)
	}
	rows, err := readDelimited(path)
	if err != nil {
		return nil, err
	}
	header := cleanHeader(rows[0])

	surfCol, surfFromHeader, err := resolveColumn(header, opts.SurfaceColumn, surfaceColumnCandidates)
	if err != nil {
		return nil, fmt.Errorf("resolve mention column: %w", err)
	}
	ctxCol, ctxFromHeader, err := resolveColumn(header, opts.ContextColumn, contextColumnCandidates)
	if err != nil {
		return nil, fmt.Errorf("resolve context column: %w", err)
	}
	typeCol, typeFromHeader, err := resolveColumn(header, opts.TypeHintColumn, typeColumnCandidates)
	if err != nil {
		return nil, fmt.Errorf("resolve type column: %w", err)
	}
	if surfCol < 0 {
		surfCol = 0
		surfFromHeader = false
	}
	start := 0
	if surfFromHeader || ctxFromHeader || typeFromHeader {
		start = 1
	}
	mentions := make([]Mention, 0, len(rows)-start)
	for _, row := range rows[start:] {
		if surfCol >= len(row) {
			continue
		}
		m := Mention{Surface: cleanCell(row[surfCol])}
		if m.Surface == "" {
			continue
		}
		if ctxCol >= 0 && ctxCol < len(row) {
			m.Context = cleanCell(row[ctxCol])
		}
		if typeCol >= 0 && typeCol < len(row) {
			m.TypeHint = cleanCell(row[typeCol])
		}
		mentions = append(mentions, m)
	}
	return mentions, nil
}

func parsePlainMentions(path string) ([]Mention, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mention file: %w", err)
	}
	var out []Mention
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		line = cleanCell(line)
		if line == "" {
			continue
		}
		out = append(out, Mention{Surface: line})
	}
	return out, nil
}

func readDelimited(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "open file", Err: err}
	}
	defer f.Close()
	reader := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "read rows", Err: err}
	}
	if len(rows) == 0 {
		return nil, resourceErrorf(path, "file is empty")
	}
	return rows, nil
}

func cleanHeader(row []string) []string {
	header := make([]string, len(row))
	for i, cell := range row {
		header[i] = cleanCell(cell)
	}
	return header
}

func cleanCell(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "\uFEFF")
	return v
}

// resolveColumn returns the column index for an explicit selection or a
// header candidate match. fromHeader reports whether the first row is a
// header that must be skipped. Index -1 means the column is absent.
func resolveColumn(header []string, explicit string, candidates []string) (int, bool, error) {
	trimmed := strings.TrimSpace(explicit)
	if trimmed != "" {
		for i, col := range header {
			if strings.EqualFold(col, trimmed) {
				return i, true, nil
			}
		}
		if strings.HasPrefix(trimmed, "#") {
			idx, err := parseColumnIndex(trimmed)
			if err != nil {
				return -1, false, err
			}
			if idx >= len(header) {
				return -1, false, fmt.Errorf("column index %s is out of range", trimmed)
			}
			return idx, false, nil
		}
		return -1, false, fmt.Errorf("column %q not found", explicit)
	}
	for i, col := range header {
		for _, cand := range candidates {
			if strings.EqualFold(col, cand) {
				return i, true, nil
			}
		}
	}
	return -1, false, nil
}

func parseColumnIndex(token string) (int, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(token, "#"))
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return -1, fmt.Errorf("invalid column index %q", token)
	}
	if idx <= 0 {
		return -1, fmt.Errorf("column indices are 1-based: %q", token)
	}
	return idx - 1, nil
}
