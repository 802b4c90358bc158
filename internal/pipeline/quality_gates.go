package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/digest"
	"lloydsdigest/internal/quality"
)

// QualityGate represents a validation checkpoint at the end of a run
type QualityGate interface {
	// Validate checks if the run output meets quality requirements
	Validate(ctx context.Context) error

	// Name returns the gate name for logging
	Name() string

	// IsBlocking returns whether failure should fail the run
	IsBlocking() bool
}

// QualityGateConfig holds configuration for quality gates
type QualityGateConfig struct {
	EnableCoverageGate bool    // Validate extraction coverage
	EnableDigestGate   bool    // Validate the assembled digest
	MinCoverage        float64 // Minimum extracted/candidates ratio
	MinGrade           string  // Worst acceptable digest grade (A-D)
	BlockOnFailure     bool    // Fail the run on gate failure
}

// DefaultQualityGateConfig returns default configuration
func DefaultQualityGateConfig() QualityGateConfig {
	return QualityGateConfig{
		EnableCoverageGate: true,
		EnableDigestGate:   true,
		MinCoverage:        0.3,
		MinGrade:           "C",
		BlockOnFailure:     false, // warn only
	}
}

// CoverageQualityGate checks how many candidates produced an article
type CoverageQualityGate struct {
	config  QualityGateConfig
	summary quality.RunSummary
	out     io.Writer
}

// NewCoverageQualityGate creates a new coverage gate
func NewCoverageQualityGate(config QualityGateConfig, summary quality.RunSummary, out io.Writer) *CoverageQualityGate {
	return &CoverageQualityGate{config: config, summary: summary, out: out}
}

// Name returns the gate name
func (g *CoverageQualityGate) Name() string {
	return "Coverage Quality Gate"
}

// IsBlocking returns whether this gate blocks the run
func (g *CoverageQualityGate) IsBlocking() bool {
	return g.config.BlockOnFailure
}

// Validate fails when coverage is below the configured minimum. A run with
// no candidates passes; there was nothing to cover.
func (g *CoverageQualityGate) Validate(ctx context.Context) error {
	fmt.Fprintf(g.out, "   🔍 %s\n", g.Name())
	if g.summary.TotalCandidates == 0 {
		fmt.Fprintf(g.out, "   ✓ No candidates to cover\n")
		return nil
	}

	fmt.Fprintf(g.out, "      Coverage: %.0f%% (%d/%d candidates)\n",
		g.summary.Coverage*100, g.summary.Extracted, g.summary.TotalCandidates)

	if g.summary.Coverage < g.config.MinCoverage {
		err := fmt.Errorf("low extraction coverage: %.2f (min: %.2f)", g.summary.Coverage, g.config.MinCoverage)
		g.report(err)
		return err
	}
	fmt.Fprintf(g.out, "   ✓ Coverage meets target\n")
	return nil
}

func (g *CoverageQualityGate) report(err error) {
	if g.IsBlocking() {
		fmt.Fprintf(g.out, "   ❌ GATE FAILED (blocking): %v\n", err)
		return
	}
	fmt.Fprintf(g.out, "   ⚠️  GATE WARNING (non-blocking): %v\n", err)
}

// DigestQualityGate grades the assembled digest
type DigestQualityGate struct {
	config      QualityGateConfig
	items       []core.DigestItem
	out         io.Writer
	lastMetrics *quality.DigestQuality
}

// NewDigestQualityGate creates a new digest quality gate
func NewDigestQualityGate(config QualityGateConfig, items []core.DigestItem, out io.Writer) *DigestQualityGate {
	return &DigestQualityGate{config: config, items: items, out: out}
}

// Name returns the gate name
func (g *DigestQualityGate) Name() string {
	return "Digest Quality Gate"
}

// IsBlocking returns whether this gate blocks the run
func (g *DigestQualityGate) IsBlocking() bool {
	return g.config.BlockOnFailure
}

// LastMetrics returns the metrics from the last validation, or nil
func (g *DigestQualityGate) LastMetrics() *quality.DigestQuality {
	return g.lastMetrics
}

// Validate grades the digest and fails when the grade is worse than MinGrade
func (g *DigestQualityGate) Validate(ctx context.Context) error {
	fmt.Fprintf(g.out, "   🔍 %s\n", g.Name())

	metrics := quality.EvaluateDigest(g.items, digest.Domain)
	g.lastMetrics = &metrics

	fmt.Fprintf(g.out, "   📊 Quality Metrics:\n")
	fmt.Fprintf(g.out, "      Items: %d across %d domains\n", metrics.ItemCount, metrics.DomainCount)
	fmt.Fprintf(g.out, "      Scored: %.0f%%\n", metrics.ScoredPct*100)
	fmt.Fprintf(g.out, "      Vagueness: %d phrases\n", metrics.VaguePhrases)
	fmt.Fprintf(g.out, "      Grade: %s\n", metrics.Grade)
	for _, w := range metrics.Warnings {
		fmt.Fprintf(g.out, "      • %s\n", w)
	}

	minGrade := strings.ToUpper(strings.TrimSpace(g.config.MinGrade))
	if minGrade != "" && metrics.Grade > minGrade {
		err := fmt.Errorf("digest failed quality gate: grade %s (min: %s)", metrics.Grade, minGrade)
		if g.IsBlocking() {
			fmt.Fprintf(g.out, "   ❌ GATE FAILED (blocking): %v\n", err)
		} else {
			fmt.Fprintf(g.out, "   ⚠️  Digest quality below target but continuing (non-blocking)\n")
		}
		return err
	}

	fmt.Fprintf(g.out, "   ✓ Digest meets quality standards\n")
	return nil
}

// QualityGateRunner executes a series of quality gates
type QualityGateRunner struct {
	gates    []QualityGate
	out      io.Writer
	warnings []string
}

// NewQualityGateRunner creates a new gate runner
func NewQualityGateRunner(out io.Writer) *QualityGateRunner {
	if out == nil {
		out = io.Discard
	}
	return &QualityGateRunner{out: out}
}

// AddGate adds a quality gate to the runner
func (r *QualityGateRunner) AddGate(gate QualityGate) {
	r.gates = append(r.gates, gate)
}

// Warnings returns the failures of non-blocking gates from the last RunGates
func (r *QualityGateRunner) Warnings() []string {
	return r.warnings
}

// RunGates executes all gates in sequence. The first blocking failure stops
// the sequence and is returned.
func (r *QualityGateRunner) RunGates(ctx context.Context) error {
	r.warnings = nil
	if len(r.gates) == 0 {
		return nil
	}

	fmt.Fprintf(r.out, "\n🚦 Running %d quality gates...\n", len(r.gates))

	passedCount := 0
	for _, gate := range r.gates {
		err := gate.Validate(ctx)
		if err == nil {
			passedCount++
			continue
		}
		if gate.IsBlocking() {
			fmt.Fprintf(r.out, "\n❌ Run stopped at: %s\n", gate.Name())
			return fmt.Errorf("%s: %w", gate.Name(), err)
		}
		r.warnings = append(r.warnings, fmt.Sprintf("%s: %v", gate.Name(), err))
	}

	fmt.Fprintf(r.out, "\n✅ Quality gates complete: %d passed", passedCount)
	if len(r.warnings) > 0 {
		fmt.Fprintf(r.out, ", %d warnings", len(r.warnings))
	}
	fmt.Fprintln(r.out)
	return nil
}
