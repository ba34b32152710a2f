package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/yumyai/stat3deg/internal/util"
	"github.com/yumyai/stat3deg/logger"
	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/geneset"
)

// GeneSets are the external gene lists of one experiment. A list whose file
// is not configured stays empty and the step that needs it is skipped.
type GeneSets struct {
	ProteinCoding    geneset.Set
	Housekeeping     geneset.Set
	ReferenceDEGs    geneset.Set
	ExternalUniverse geneset.Set
	Literature       geneset.SymbolTable

	hasProteinCoding, hasReference, hasUniverse bool
}

// LoadGeneSets reads every configured gene list from the data dir.
func LoadGeneSets(cfg *config.Config) (*GeneSets, error) {
	gs := &GeneSets{}
	var err error
	if gs.ProteinCoding, gs.hasProteinCoding, err = loadOptional(cfg, "protein_coding", cfg.GeneSets.ProteinCoding); err != nil {
		return nil, err
	}
	if gs.Housekeeping, _, err = loadOptional(cfg, "housekeeping", cfg.GeneSets.Housekeeping); err != nil {
		return nil, err
	}
	if gs.ReferenceDEGs, gs.hasReference, err = loadOptional(cfg, "reference", cfg.GeneSets.ReferenceDEGs); err != nil {
		return nil, err
	}
	if gs.ExternalUniverse, gs.hasUniverse, err = loadOptional(cfg, "external_universe", cfg.GeneSets.ExternalUniverse); err != nil {
		return nil, err
	}
	if f := cfg.GeneSets.LiteratureDEGs; f != "" {
		if gs.Literature, err = geneset.LoadSymbols(cfg.GeneSetPath(f)); err != nil {
			return nil, err
		}
		logger.Debug("Loaded symbol table", zap.String("file", f), zap.Int("genes", gs.Literature.Len()))
	}
	return gs, nil
}

func loadOptional(cfg *config.Config, name, file string) (geneset.Set, bool, error) {
	if file == "" {
		logger.Warn("Gene list not configured", zap.String("list", name))
		return geneset.New(name, nil), false, nil
	}
	s, err := geneset.Load(cfg.GeneSetPath(file))
	if err != nil {
		return geneset.Set{}, false, err
	}
	s.Name = name
	logger.Debug("Loaded gene list", zap.String("list", name), zap.String("file", file), zap.Int("genes", s.Len()))
	return s, true, nil
}

// Symbol labels a gene with its literature symbol when one is known.
func (g *GeneSets) Symbol(id string) string {
	return g.Literature.Symbol(id)
}

// ResolveSamples returns the configured samples, or derives them from the
// count file names when the experiment lists none. Contrasts are re-checked
// against the resulting treatments.
func ResolveSamples(cfg *config.Config) ([]config.Sample, error) {
	if len(cfg.Samples) > 0 {
		return cfg.Samples, nil
	}
	if !util.DirExists(cfg.CountPath()) {
		return nil, fmt.Errorf("%w: count dir %s does not exist", config.ErrNoSamples, cfg.CountPath())
	}
	files, err := counts.Discover(cfg.CountPath(), cfg.CountPattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: nothing matches %s in %s", config.ErrNoSamples, cfg.CountPattern, cfg.CountPath())
	}
	samples := make([]config.Sample, len(files))
	for i, f := range files {
		samples[i] = config.SampleFromFile(f)
	}
	cfg.Samples = samples
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("Discovered samples", zap.Int("samples", len(samples)), zap.Strings("treatments", cfg.Treatments()))
	return samples, nil
}
