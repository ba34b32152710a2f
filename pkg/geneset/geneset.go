// Package geneset loads the externally supplied gene identifier lists
// (protein-coding, housekeeping, reference DEGs) used as filters and lookups.
package geneset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Set is an immutable set of gene identifiers that remembers file order.
type Set struct {
	Name  string
	ids   []string
	index map[string]struct{}
}

func New(name string, ids []string) Set {
	s := Set{Name: name, index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.index[id]; ok {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

func (s Set) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s Set) Len() int { return len(s.ids) }

// IDs returns the identifiers in the order they were first seen.
func (s Set) IDs() []string { return append([]string(nil), s.ids...) }

// Sorted returns the identifiers sorted lexically.
func (s Set) Sorted() []string {
	out := s.IDs()
	sort.Strings(out)
	return out
}

// Intersect keeps the identifiers of s that are also in o, in s order.
func (s Set) Intersect(o Set) Set {
	var ids []string
	for _, id := range s.ids {
		if o.Has(id) {
			ids = append(ids, id)
		}
	}
	return New(s.Name+"∩"+o.Name, ids)
}

// commonHeaders are first-line tokens that mark a header rather than a gene.
// Anything else on the first line is read as a gene, so symbol lists without
// a header keep their first entry.
var commonHeaders = map[string]bool{
	"x": true, "id": true, "gene": true, "genes": true, "gene_id": true, "geneid": true,
	"ensembl": true, "ensembl_id": true, "ensembl_gene_id": true, "symbol": true,
	"gene_name": true, "gene_symbol": true, "entrez": true, "entrez_id": true,
}

func isHeader(tok string) bool {
	return commonHeaders[strings.ToLower(tok)]
}

func fields(line string) []string {
	line = strings.TrimRight(line, "\r")
	sep := "\t"
	if !strings.Contains(line, "\t") && strings.Contains(line, ",") {
		sep = ","
	}
	parts := strings.Split(line, sep)
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"`)
	}
	return parts
}

// Read parses a gene list: one identifier per line (extra columns ignored),
// optional header line, blank lines skipped.
func Read(r io.Reader, name string) (Set, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		f := fields(sc.Text())
		if len(f) == 0 || f[0] == "" {
			continue
		}
		if first {
			first = false
			if isHeader(f[0]) {
				continue
			}
		}
		ids = append(ids, f[0])
	}
	if err := sc.Err(); err != nil {
		return Set{}, fmt.Errorf("read gene list %s: %w", name, err)
	}
	return New(name, ids), nil
}

func Load(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, fmt.Errorf("open gene list: %w", err)
	}
	defer f.Close()
	return Read(f, path)
}

// SymbolTable maps gene identifiers to gene symbols for labelling.
type SymbolTable struct {
	Set
	symbols map[string]string
}

func (t SymbolTable) Symbol(id string) string {
	if s, ok := t.symbols[id]; ok && s != "" {
		return s
	}
	return id
}

// ReadSymbols parses a tab-delimited identifier/symbol table with optional header.
func ReadSymbols(r io.Reader, name string) (SymbolTable, error) {
	var ids []string
	symbols := map[string]string{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		f := fields(sc.Text())
		if len(f) == 0 || f[0] == "" {
			continue
		}
		if line == 1 && isHeader(f[0]) {
			continue
		}
		if len(f) < 2 {
			return SymbolTable{}, fmt.Errorf("%s:%d: expected gene id and symbol", name, line)
		}
		ids = append(ids, f[0])
		symbols[f[0]] = f[1]
	}
	if err := sc.Err(); err != nil {
		return SymbolTable{}, fmt.Errorf("read symbol table %s: %w", name, err)
	}
	return SymbolTable{Set: New(name, ids), symbols: symbols}, nil
}

func LoadSymbols(path string) (SymbolTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return SymbolTable{}, fmt.Errorf("open symbol table: %w", err)
	}
	defer f.Close()
	return ReadSymbols(f, path)
}
