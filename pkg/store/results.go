package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/yumyai/stat3deg/pkg/deseq"
	"github.com/yumyai/stat3deg/pkg/overlap"
)

// SaveResult stores one contrast's table in a single transaction.
func (s *Store) SaveResult(ctx context.Context, runID string, res *deseq.Result) error {
	samples, err := json.Marshal(res.Samples)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO contrasts (run_id, name, treatment, reference, alpha, filter_threshold, samples) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, res.Contrast.Name, res.Contrast.Treatment, res.Contrast.Reference, res.Alpha,
			nullFloat(res.FilterThreshold), string(samples)); err != nil {
			return fmt.Errorf("insert contrast: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM de_results WHERE run_id = ? AND contrast = ?`, runID, res.Contrast.Name); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO de_results
			(run_id, contrast, gene, base_mean, log2_fc, lfc_se, stat, pvalue, padj, dispersion, converged, cooks_outlier, filtered)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range res.Rows {
			if _, err := stmt.ExecContext(ctx, runID, res.Contrast.Name, r.Gene,
				nullFloat(r.BaseMean), nullFloat(r.Log2FoldChange), nullFloat(r.LfcSE), nullFloat(r.Stat),
				nullFloat(r.PValue), nullFloat(r.PAdj), nullFloat(r.Dispersion),
				boolInt(r.Converged), boolInt(r.CooksOutlier), boolInt(r.Filtered)); err != nil {
				return fmt.Errorf("insert %s: %w", r.Gene, err)
			}
		}
		return nil
	})
}

// Contrasts lists the contrast names stored for a run.
func (s *Store) Contrasts(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM contrasts WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("select contrasts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// LoadResult reads a contrast's table back in the order it was written.
func (s *Store) LoadResult(ctx context.Context, runID, contrast string) (*deseq.Result, error) {
	res := &deseq.Result{}
	var thr sql.NullFloat64
	var samples string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, treatment, reference, alpha, filter_threshold, samples FROM contrasts WHERE run_id = ? AND name = ?`,
		runID, contrast).Scan(&res.Contrast.Name, &res.Contrast.Treatment, &res.Contrast.Reference, &res.Alpha, &thr, &samples)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: contrast %q in run %s", ErrRunNotFound, contrast, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("select contrast: %w", err)
	}
	res.FilterThreshold = fromNull(thr)
	if err := json.Unmarshal([]byte(samples), &res.Samples); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT gene, base_mean, log2_fc, lfc_se, stat, pvalue, padj, dispersion,
		converged, cooks_outlier, filtered FROM de_results WHERE run_id = ? AND contrast = ? ORDER BY rowid`, runID, contrast)
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var r deseq.Row
		var bm, lfc, se, st, p, padj, disp sql.NullFloat64
		var conv, cooks, filt int
		if err := rows.Scan(&r.Gene, &bm, &lfc, &se, &st, &p, &padj, &disp, &conv, &cooks, &filt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.BaseMean, r.Log2FoldChange, r.LfcSE, r.Stat = fromNull(bm), fromNull(lfc), fromNull(se), fromNull(st)
		r.PValue, r.PAdj, r.Dispersion = fromNull(p), fromNull(padj), fromNull(disp)
		r.Converged, r.CooksOutlier, r.Filtered = conv == 1, cooks == 1, filt == 1
		res.Rows = append(res.Rows, r)
	}
	return res, rows.Err()
}

// SignificantGenes returns the sorted IDs with padj below the contrast's alpha.
func (s *Store) SignificantGenes(ctx context.Context, runID, contrast string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT d.gene FROM de_results d
		JOIN contrasts c ON c.run_id = d.run_id AND c.name = d.contrast
		WHERE d.run_id = ? AND d.contrast = ? AND d.padj IS NOT NULL AND d.padj < c.alpha`, runID, contrast)
	if err != nil {
		return nil, fmt.Errorf("select significant: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	sort.Strings(out)
	return out, rows.Err()
}

// SaveOverlaps replaces the overlap tests of a run.
func (s *Store) SaveOverlaps(ctx context.Context, runID string, results []overlap.Result) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM overlaps WHERE run_id = ?`, runID); err != nil {
			return err
		}
		for _, r := range results {
			genes, err := json.Marshal(r.Genes)
			if err != nil {
				return err
			}
			odds := r.OddsRatio
			if math.IsInf(odds, 1) {
				// OddsRatio is never NaN, so NULL stands for +Inf.
				odds = math.NaN()
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO overlaps
				(run_id, set_a, set_b, size_a, size_b, intersection, background, pvalue, odds_ratio, jaccard, enrichment, genes)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, r.NameA, r.NameB, r.SizeA, r.SizeB, r.Intersection, r.Background,
				nullFloat(r.PValue), nullFloat(odds), nullFloat(r.Jaccard), nullFloat(r.Enrichment), string(genes)); err != nil {
				return fmt.Errorf("insert overlap %s/%s: %w", r.NameA, r.NameB, err)
			}
		}
		return nil
	})
}

// LoadOverlaps returns a run's overlap tests.
func (s *Store) LoadOverlaps(ctx context.Context, runID string) ([]overlap.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT set_a, set_b, size_a, size_b, intersection, background,
		pvalue, odds_ratio, jaccard, enrichment, genes FROM overlaps WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("select overlaps: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []overlap.Result
	for rows.Next() {
		var r overlap.Result
		var p, odds, jac, enr sql.NullFloat64
		var genes string
		if err := rows.Scan(&r.NameA, &r.NameB, &r.SizeA, &r.SizeB, &r.Intersection, &r.Background,
			&p, &odds, &jac, &enr, &genes); err != nil {
			return nil, fmt.Errorf("scan overlap: %w", err)
		}
		r.PValue, r.Jaccard, r.Enrichment = fromNull(p), fromNull(jac), fromNull(enr)
		r.OddsRatio = fromNull(odds)
		if !odds.Valid && r.Intersection > 0 {
			r.OddsRatio = math.Inf(1)
		}
		if err := json.Unmarshal([]byte(genes), &r.Genes); err != nil {
			return nil, fmt.Errorf("decode overlap genes: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
