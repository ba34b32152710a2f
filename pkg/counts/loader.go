package counts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yumyai/stat3deg/logger"
	"github.com/yumyai/stat3deg/pkg/config"
)

// SummaryRows is the number of trailing alignment-summary pseudo-genes
// (ambiguous, multi-mapped, no feature, unmapped) every count file ends with.
const SummaryRows = 4

var ErrMalformed = errors.New("malformed count file")

type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrMalformed }

// Entry is one gene/count pair of a count file.
type Entry struct {
	Gene  string
	Count int
}

// ReadCountFile parses a two-column tab-delimited gene/count file and drops
// the trailing summary rows.
func ReadCountFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open count file: %w", err)
	}
	defer f.Close()
	return ParseCounts(f, path)
}

// ParseCounts reads count records from r. name is only used in error messages.
func ParseCounts(r io.Reader, name string) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]int)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 2 {
			return nil, &ParseError{File: name, Line: line, Msg: fmt.Sprintf("expected 2 columns, got %d", len(fields))}
		}
		n, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || n < 0 {
			return nil, &ParseError{File: name, Line: line, Msg: fmt.Sprintf("bad count %q", fields[1])}
		}
		gene := strings.TrimSpace(fields[0])
		if prev, dup := seen[gene]; dup {
			return nil, &ParseError{File: name, Line: line, Msg: fmt.Sprintf("gene %q already seen on line %d", gene, prev)}
		}
		seen[gene] = line
		entries = append(entries, Entry{Gene: gene, Count: n})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(entries) < SummaryRows {
		return nil, &ParseError{File: name, Line: line, Msg: fmt.Sprintf("only %d rows, need at least %d summary rows", len(entries), SummaryRows)}
	}
	for _, e := range entries[len(entries)-SummaryRows:] {
		logger.Debug("Dropping summary row", zap.String("file", name), zap.String("row", e.Gene), zap.Int("count", e.Count))
	}
	return entries[:len(entries)-SummaryRows], nil
}

// Discover lists count files in dir matching pattern, sorted by name.
func Discover(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.txt"
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(files)
	return files, nil
}

// Load reads every sample's count file from dir concurrently and outer-merges
// them on gene identifier. Columns follow the order of samples, rows are sorted
// by gene identifier, so the result does not depend on file read order.
// Genes missing from a file count as zero.
func Load(ctx context.Context, dir string, samples []config.Sample) (*Matrix, error) {
	if len(samples) == 0 {
		return nil, config.ErrNoSamples
	}
	perSample := make([][]Entry, len(samples))

	g, ctx := errgroup.WithContext(ctx)
	for j, s := range samples {
		j, s := j, s
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := s.File
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			entries, err := ReadCountFile(path)
			if err != nil {
				return fmt.Errorf("sample %s: %w", s.Name, err)
			}
			perSample[j] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(samples, perSample)
}

// Merge outer-joins per-sample entries on gene identifier.
func Merge(samples []config.Sample, perSample [][]Entry) (*Matrix, error) {
	if len(samples) != len(perSample) {
		return nil, fmt.Errorf("counts: %d samples but %d count tables", len(samples), len(perSample))
	}
	byGene := make(map[string][]int)
	for j, entries := range perSample {
		for _, e := range entries {
			row, ok := byGene[e.Gene]
			if !ok {
				row = make([]int, len(samples))
				byGene[e.Gene] = row
			}
			row[j] = e.Count
		}
	}
	genes := make([]string, 0, len(byGene))
	for g := range byGene {
		genes = append(genes, g)
	}
	sort.Strings(genes)
	rows := make([][]int, len(genes))
	for i, g := range genes {
		rows[i] = byGene[g]
	}
	return NewMatrix(genes, samples, rows)
}
