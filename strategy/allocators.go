package strategy

import (
	"fmt"
	"math"
	"slices"

	"github.com/dimdimlv/mt-project/core"
)

// OracleAllocator knows the true item embeddings and sees the unmasked context,
// so its estimates equal the true CTRs.
type OracleAllocator struct {
	embeddings [][]float64
}

// NewOracleAllocator creates an oracle over embeddings of width EmbeddingSize+1.
func NewOracleAllocator(embeddings [][]float64) (*OracleAllocator, error) {
	if err := checkEmbeddings(embeddings); err != nil {
		return nil, err
	}
	return &OracleAllocator{embeddings: cloneRows(embeddings)}, nil
}

func (a *OracleAllocator) EstimateCTR(context []float64, _ bool) []float64 {
	return logistic(a.embeddings, context)
}

func (a *OracleAllocator) Update(core.AllocatorBatch, int) error { return nil }

func (a *OracleAllocator) UsesTrueContext() bool { return true }

// NoisyOracleAllocator perturbs the true embeddings with Gaussian noise when
// asked to sample. The unsampled estimate is exact, which makes it a posterior
// mean for Thompson sampling.
type NoisyOracleAllocator struct {
	embeddings [][]float64
	noiseStd   float64
	rand       core.RandSource
}

// NewNoisyOracleAllocator creates a sampling oracle. randSource is owned by the
// allocator and must not be the auction's stream.
func NewNoisyOracleAllocator(embeddings [][]float64, noiseStd float64, randSource core.RandSource) (*NoisyOracleAllocator, error) {
	if err := checkEmbeddings(embeddings); err != nil {
		return nil, err
	}
	if noiseStd < 0 {
		return nil, fmt.Errorf("%w: noise std must be non-negative, got %.4f", core.ErrInvalidConfig, noiseStd)
	}
	if randSource == nil {
		return nil, fmt.Errorf("%w: noisy oracle needs a random source", core.ErrInvalidConfig)
	}
	return &NoisyOracleAllocator{
		embeddings: cloneRows(embeddings),
		noiseStd:   noiseStd,
		rand:       randSource,
	}, nil
}

func (a *NoisyOracleAllocator) EstimateCTR(context []float64, sample bool) []float64 {
	if !sample || a.noiseStd == 0 {
		return logistic(a.embeddings, context)
	}
	noisy := make([][]float64, len(a.embeddings))
	for i, row := range a.embeddings {
		noisy[i] = make([]float64, len(row))
		for j, w := range row {
			noisy[i][j] = w + a.rand.NormFloat64()*a.noiseStd
		}
	}
	return logistic(noisy, context)
}

func (a *NoisyOracleAllocator) Update(core.AllocatorBatch, int) error { return nil }

func (a *NoisyOracleAllocator) ThompsonSampling() bool { return true }

func (a *NoisyOracleAllocator) UsesTrueContext() bool { return true }

// ProjectedAllocator keeps only the observable part of each true embedding
// (the first obsSize weights plus the bias) and scores the masked context.
type ProjectedAllocator struct {
	embeddings [][]float64
}

// NewProjectedAllocator projects embeddings of width EmbeddingSize+1 onto
// obsSize+1 weights.
func NewProjectedAllocator(embeddings [][]float64, obsSize int) (*ProjectedAllocator, error) {
	if err := checkEmbeddings(embeddings); err != nil {
		return nil, err
	}
	width := len(embeddings[0])
	if obsSize < 0 || obsSize >= width {
		return nil, fmt.Errorf("%w: observable size %d must be within [0, %d]",
			core.ErrInvalidConfig, obsSize, width-1)
	}

	projected := make([][]float64, len(embeddings))
	for i, row := range embeddings {
		p := make([]float64, obsSize+1)
		copy(p, row[:obsSize])
		p[obsSize] = row[width-1]
		projected[i] = p
	}
	return &ProjectedAllocator{embeddings: projected}, nil
}

func (a *ProjectedAllocator) EstimateCTR(context []float64, _ bool) []float64 {
	return logistic(a.embeddings, context)
}

func (a *ProjectedAllocator) Update(core.AllocatorBatch, int) error { return nil }

// StaticAllocator returns the same CTR per item regardless of context.
type StaticAllocator struct {
	ctrs []float64
}

func NewStaticAllocator(ctrs []float64) (*StaticAllocator, error) {
	if len(ctrs) == 0 {
		return nil, fmt.Errorf("%w: static allocator needs at least one CTR", core.ErrInvalidConfig)
	}
	for i, ctr := range ctrs {
		if ctr < 0 || ctr > 1 {
			return nil, fmt.Errorf("%w: CTR %d is %.4f, must be within [0, 1]", core.ErrInvalidConfig, i, ctr)
		}
	}
	return &StaticAllocator{ctrs: slices.Clone(ctrs)}, nil
}

func (a *StaticAllocator) EstimateCTR([]float64, bool) []float64 {
	return slices.Clone(a.ctrs)
}

func (a *StaticAllocator) Update(core.AllocatorBatch, int) error { return nil }

func checkEmbeddings(embeddings [][]float64) error {
	if len(embeddings) == 0 {
		return fmt.Errorf("%w: allocator needs at least one item embedding", core.ErrInvalidConfig)
	}
	width := len(embeddings[0])
	if width == 0 {
		return fmt.Errorf("%w: item embeddings must include a bias weight", core.ErrInvalidConfig)
	}
	for i, row := range embeddings {
		if len(row) != width {
			return fmt.Errorf("%w: item %d embedding has width %d, want %d",
				core.ErrInvalidConfig, i, len(row), width)
		}
	}
	return nil
}

func cloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = slices.Clone(row)
	}
	return out
}

// logistic scores every row against context. Extra context entries are ignored.
func logistic(rows [][]float64, context []float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		z := 0.0
		for j := 0; j < len(row) && j < len(context); j++ {
			z += row[j] * context[j]
		}
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out
}
