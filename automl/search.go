package automl

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
	"github.com/YuminosukeSato/mltrack/sklearn/model_selection"
)

// Stop reasons reported in SearchResult.
const (
	StopGenerations = "generations"
	StopEarly       = "early_stop"
	StopMaxTime     = "max_time"
)

// Individual is an evaluated genome. Fitness is the cross-validated score,
// negated for metrics where lower is better, and -Inf when evaluation failed.
type Individual struct {
	Genome     Genome
	Fitness    float64
	Generation int
	Err        error `yaml:"-"`
}

// Failed reports whether the individual could not be evaluated.
func (ind Individual) Failed() bool { return math.IsInf(ind.Fitness, -1) }

// Progress is sent after each generation when a progress channel is set.
type Progress struct {
	Generation  int
	Generations int
	Best        Individual
	Evaluated   int
	Elapsed     time.Duration
}

// SearchResult summarises a finished search. Population is sorted best
// first.
type SearchResult struct {
	Best        Individual
	Population  []Individual
	Generations int
	Evaluated   int
	StopReason  string
	Elapsed     time.Duration
}

type searcher struct {
	cfg      Config
	space    *SearchSpace
	X        *mat.Dense
	y        *mat.VecDense
	folds    []model_selection.Fold
	rng      *rand.Rand
	fs       afero.Fs
	logger   log.Logger
	now      func() time.Time
	progress chan<- Progress

	mu        sync.Mutex
	cache     map[string]float64
	evaluated int
}

func newSearcher(cfg Config, X *mat.Dense, y *mat.VecDense) (*searcher, error) {
	n, _ := X.Dims()
	if y.Len() != n {
		return nil, errors.NewDimensionError("automl.search", n, y.Len(), 0)
	}
	var (
		folds []model_selection.Fold
		err   error
	)
	if cfg.Task == Classification {
		folds, err = model_selection.StratifiedKFold(y, cfg.CV, cfg.RandomState)
	} else {
		folds, err = model_selection.KFold(n, cfg.CV, true, cfg.RandomState)
	}
	if err != nil {
		return nil, err
	}
	return &searcher{
		cfg:    cfg,
		space:  cfg.space(),
		X:      X,
		y:      y,
		folds:  folds,
		rng:    rand.New(rand.NewSource(cfg.RandomState)),
		fs:     afero.NewOsFs(),
		logger: log.GetLoggerWithName("automl"),
		now:    time.Now,
		cache:  make(map[string]float64),
	}, nil
}

// run performs a mu+lambda evolution: each generation breeds offspring by
// mutation, crossover or reproduction and the best PopulationSize distinct
// individuals of parents and offspring survive.
func (s *searcher) run(ctx context.Context) (*SearchResult, error) {
	start := s.now()
	result := &SearchResult{StopReason: StopGenerations}

	pop := make([]Individual, s.cfg.PopulationSize)
	for i := range pop {
		pop[i] = Individual{Genome: s.space.Random(s.rng)}
	}
	if err := s.evaluate(ctx, pop); err != nil {
		return nil, err
	}
	pop = s.survivors(pop)
	best := pop[0]
	s.checkpoint(best)
	stale := 0

	for gen := 1; gen <= s.cfg.Generations; gen++ {
		if s.cfg.MaxTime > 0 && s.now().Sub(start) >= s.cfg.MaxTime {
			result.StopReason = StopMaxTime
			break
		}

		offspring := s.breed(pop, gen)
		if err := s.evaluate(ctx, offspring); err != nil {
			return nil, err
		}
		pop = s.survivors(append(pop, offspring...))
		result.Generations = gen

		if better(pop[0], best) {
			best = pop[0]
			stale = 0
			s.checkpoint(best)
		} else {
			stale++
		}
		s.report(gen, best, s.now().Sub(start))

		if s.cfg.EarlyStop > 0 && stale >= s.cfg.EarlyStop {
			result.StopReason = StopEarly
			break
		}
	}

	if best.Failed() {
		return nil, errors.NewModelError("automl.search", "no candidate pipeline could be fitted", best.Err)
	}
	result.Best = best
	result.Population = pop
	result.Evaluated = s.evaluatedCount()
	result.Elapsed = s.now().Sub(start)
	return result, nil
}

func (s *searcher) breed(pop []Individual, gen int) []Individual {
	out := make([]Individual, s.cfg.offspring())
	for i := range out {
		r := s.rng.Float64()
		var g Genome
		switch {
		case r < s.cfg.MutationRate:
			g = s.space.Mutate(s.tournament(pop).Genome, s.rng)
		case r < s.cfg.MutationRate+s.cfg.CrossoverRate:
			g = s.space.Crossover(s.tournament(pop).Genome, s.tournament(pop).Genome, s.rng)
		default:
			g = s.tournament(pop).Genome.Clone()
		}
		out[i] = Individual{Genome: g, Generation: gen}
	}
	return out
}

func (s *searcher) tournament(pop []Individual) Individual {
	a, b := pop[s.rng.Intn(len(pop))], pop[s.rng.Intn(len(pop))]
	if better(b, a) {
		return b
	}
	return a
}

// better orders by fitness, then by age, then by genome key so selection
// does not depend on evaluation order.
func better(a, b Individual) bool {
	return compareIndividuals(a, b) < 0
}

func compareIndividuals(a, b Individual) int {
	if c := cmp.Compare(b.Fitness, a.Fitness); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Generation, b.Generation); c != 0 {
		return c
	}
	return cmp.Compare(a.Genome.Key(), b.Genome.Key())
}

// survivors keeps the best PopulationSize individuals, preferring distinct
// genomes and topping up with duplicates only when there are too few.
func (s *searcher) survivors(all []Individual) []Individual {
	slices.SortStableFunc(all, compareIndividuals)
	size := s.cfg.PopulationSize
	out := make([]Individual, 0, size)
	var dups []Individual
	seen := make(map[string]bool, len(all))
	for _, ind := range all {
		key := ind.Genome.Key()
		if seen[key] {
			dups = append(dups, ind)
			continue
		}
		seen[key] = true
		if len(out) < size {
			out = append(out, ind)
		}
	}
	for _, ind := range dups {
		if len(out) >= size {
			break
		}
		out = append(out, ind)
	}
	return out
}

// evaluate fills in Fitness for every individual, NJobs at a time.
// Failures are penalised rather than returned; only cancellation of ctx
// aborts the search.
func (s *searcher) evaluate(ctx context.Context, inds []Individual) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.jobs())
	for i := range inds {
		i := i
		g.Go(func() error {
			fitness, err := s.fitness(gctx, inds[i].Genome)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			inds[i].Fitness, inds[i].Err = fitness, err
			return nil
		})
	}
	return g.Wait()
}

func (s *searcher) fitness(ctx context.Context, g Genome) (float64, error) {
	key := g.Key()
	s.mu.Lock()
	if f, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	fitness, err := s.evaluateWithTimeout(ctx, g)
	if err != nil {
		s.logger.Debug("pipeline evaluation failed", err, log.PipelineKey, g.String())
		fitness = math.Inf(-1)
	}
	// Results cut short by a cancelled search are not cached.
	if ctx.Err() == nil {
		s.mu.Lock()
		s.cache[key] = fitness
		s.evaluated++
		s.mu.Unlock()
	}
	return fitness, err
}

type evalResult struct {
	score float64
	err   error
}

// evaluateWithTimeout gives up on a candidate after MaxEvalTime. The fit
// itself cannot be interrupted; cross-validation stops at the next fold.
func (s *searcher) evaluateWithTimeout(ctx context.Context, g Genome) (float64, error) {
	if s.cfg.MaxEvalTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MaxEvalTime)
		defer cancel()
	}
	done := make(chan evalResult, 1)
	go func() {
		score, err := s.crossValidate(ctx, g)
		done <- evalResult{score, err}
	}()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-done:
		return r.score, r.err
	}
}

func (s *searcher) crossValidate(ctx context.Context, g Genome) (float64, error) {
	scoring := s.cfg.scoring()
	total := 0.0
	for k, fold := range s.folds {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var score float64
		err := errors.SafeExecute("automl.crossValidate", func() error {
			p, err := NewPipeline(g, s.cfg.Task, s.cfg.RandomState)
			if err != nil {
				return err
			}
			yTrain := mat.NewVecDense(len(fold.Train), nil)
			for i, row := range fold.Train {
				yTrain.SetVec(i, s.y.AtVec(row))
			}
			if err := p.Fit(model_selection.SelectRows(s.X, fold.Train), yTrain); err != nil {
				return err
			}
			yTest := mat.NewVecDense(len(fold.Test), nil)
			for i, row := range fold.Test {
				yTest.SetVec(i, s.y.AtVec(row))
			}
			score, err = p.Score(model_selection.SelectRows(s.X, fold.Test), yTest, scoring)
			return err
		})
		if err != nil {
			return 0, err
		}
		if err := errors.CheckScalar("automl.crossValidate."+scoring, score, k); err != nil {
			return 0, err
		}
		total += score
	}
	mean := total / float64(len(s.folds))
	if lowerIsBetter[scoring] {
		return -mean, nil
	}
	return mean, nil
}

func (s *searcher) evaluatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluated
}

func (s *searcher) report(gen int, best Individual, elapsed time.Duration) {
	evaluated := s.evaluatedCount()
	fields := []any{
		log.GenerationKey, gen,
		log.ScoreKey, best.Fitness,
		log.PipelineKey, best.Genome.String(),
		log.EvaluatedKey, evaluated,
	}
	if s.cfg.Verbosity > 0 {
		s.logger.Info("generation finished", fields...)
	} else {
		s.logger.Debug("generation finished", fields...)
	}
	if s.progress == nil {
		return
	}
	select {
	case s.progress <- Progress{Generation: gen, Generations: s.cfg.Generations, Best: best, Evaluated: evaluated, Elapsed: elapsed}:
	default:
	}
}

// checkpoint writes the current best pipeline to the checkpoint folder.
// Failures are logged; a checkpoint never stops the search.
func (s *searcher) checkpoint(best Individual) {
	if s.cfg.CheckpointFolder == "" || best.Failed() {
		return
	}
	path := filepath.Join(s.cfg.CheckpointFolder, fmt.Sprintf("pipeline_gen_%d.yaml", best.Generation))
	spec := newPipelineSpec(s.cfg, best, s.evaluatedCount())
	if err := writeSpecFile(s.fs, path, spec); err != nil {
		s.logger.Warn("checkpoint failed", err, log.ArtifactPathKey, path)
		return
	}
	s.logger.Debug("checkpoint written", log.ArtifactPathKey, path, log.GenerationKey, best.Generation)
}
