package experiment

import (
	"context"
	"errors"
	"math/rand"
	"net/url"

	"github.com/splitpage/splitpage/internal/page"
	"github.com/splitpage/splitpage/internal/report"
	"github.com/splitpage/splitpage/internal/store"
	"go.uber.org/zap"
)

// Engine resolves and applies variants for one configured set of
// experiments. A single instance is constructed at startup and passed by
// reference to every collaborator that reports conversions.
type Engine struct {
	experiments []Experiment
	byName      map[string]Experiment
	routes      map[string]Route

	store    store.Store // nil means storage unavailable
	prefix   string
	reporter *report.Dispatcher
	log      *zap.Logger
	draw     func(n int) int
}

// Options carries the engine's collaborators. Zero values degrade safely:
// a nil Store re-buckets every load, a nil Reporter suppresses emission.
type Options struct {
	Store    store.Store
	Prefix   string
	Reporter *report.Dispatcher
	Logger   *zap.Logger
	Draw     func(n int) int // uniform draw over [0,n), defaults to math/rand
}

func New(experiments []Experiment, routes []Route, opts Options) *Engine {
	if opts.Prefix == "" {
		opts.Prefix = "ab_"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Reporter == nil {
		opts.Reporter = report.NewDispatcher(false, opts.Logger)
	}
	if opts.Draw == nil {
		opts.Draw = rand.Intn
	}

	byName := make(map[string]Experiment, len(experiments))
	for _, exp := range experiments {
		byName[exp.Name] = exp
	}
	byControl := make(map[string]Route, len(routes))
	for _, r := range routes {
		byControl[r.Control] = r
	}

	return &Engine{
		experiments: experiments,
		byName:      byName,
		routes:      byControl,
		store:       opts.Store,
		prefix:      opts.Prefix,
		reporter:    opts.Reporter,
		log:         opts.Logger,
		draw:        opts.Draw,
	}
}

// Experiments returns the definitions in configured order.
func (g *Engine) Experiments() []Experiment {
	return g.experiments
}

// Reporter exposes the dispatcher so collaborators can emit their own
// events through the same collector fan-out.
func (g *Engine) Reporter() *report.Dispatcher {
	return g.reporter
}

// Preview is the forced test/variant pair of a preview session. It exists
// only for the request that carried valid preview parameters.
type Preview struct {
	Test    string
	Variant string
}

// Resolution holds the variants chosen for one visitor on one request:
// exactly one entry per configured experiment, each a member of its
// experiment's allowed set.
type Resolution struct {
	VisitorID   string
	Assignments map[string]string
	Preview     *Preview
}

// Resolve picks a variant for every configured experiment. Per experiment,
// first applicable wins: valid persisted choice, valid URL override
// (persisted), uniform random draw (persisted). A persisted value outside
// the current allowed set is discarded and treated as absent. A completed
// experiment resolves to its winner for everyone.
//
// Storage failures are treated as "no stored value" and never surface to
// the caller; the visitor is simply re-bucketed on the next load.
func (g *Engine) Resolve(ctx context.Context, visitorID string, query url.Values) Resolution {
	res := Resolution{
		VisitorID:   visitorID,
		Assignments: make(map[string]string, len(g.experiments)),
	}

	res.Preview = g.previewFromQuery(ctx, visitorID, query)

	for _, exp := range g.experiments {
		res.Assignments[exp.Name] = g.resolveOne(ctx, visitorID, exp, query, res.Preview)
	}

	return res
}

func (g *Engine) resolveOne(ctx context.Context, visitorID string, exp Experiment, query url.Values, pv *Preview) string {
	if pv != nil && pv.Test == exp.Name {
		return pv.Variant
	}

	if winner := g.completedWinner(ctx, exp); winner != "" {
		return winner
	}

	if stored := g.storedVariant(ctx, visitorID, exp); stored != "" {
		return stored
	}

	if override := query.Get(exp.OverrideParam()); override != "" && exp.Has(override) {
		g.persist(ctx, visitorID, exp.Name, override)
		return override
	}

	variant := exp.Variants[g.draw(len(exp.Variants))]
	g.persist(ctx, visitorID, exp.Name, variant)
	return variant
}

// previewFromQuery enters preview mode only when the named test is
// configured and the requested variant is in its allowed set; anything less
// falls through to normal resolution with no side effects.
func (g *Engine) previewFromQuery(ctx context.Context, visitorID string, query url.Values) *Preview {
	test := query.Get(PreviewParam)
	if test == "" {
		return nil
	}
	exp, ok := g.byName[test]
	if !ok {
		g.log.Debug("preview requested for unknown experiment", zap.String("test", test))
		return nil
	}
	variant := query.Get(PreviewVariantParam)
	if !exp.Has(variant) {
		g.log.Debug("preview requested with invalid variant",
			zap.String("test", test), zap.String("variant", variant))
		return nil
	}

	g.persist(ctx, visitorID, test, variant)
	return &Preview{Test: test, Variant: variant}
}

func (g *Engine) completedWinner(ctx context.Context, exp Experiment) string {
	if g.store == nil {
		return ""
	}
	rec, err := g.store.GetExperiment(ctx, exp.Name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.log.Debug("experiment lookup failed", zap.String("test", exp.Name), zap.Error(err))
		}
		return ""
	}
	if rec.State != store.StateCompleted || rec.WinnerVariant == nil {
		return ""
	}
	if !exp.Has(*rec.WinnerVariant) {
		return ""
	}
	return *rec.WinnerVariant
}

func (g *Engine) storedVariant(ctx context.Context, visitorID string, exp Experiment) string {
	if g.store == nil {
		return ""
	}
	variant, err := g.store.GetAssignment(ctx, visitorID, g.key(exp.Name))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.log.Debug("assignment read failed", zap.String("test", exp.Name), zap.Error(err))
		}
		return ""
	}
	if !exp.Has(variant) {
		// Configuration changed since this visitor was bucketed;
		// the stale label must never surface.
		g.log.Debug("discarding stored variant outside allowed set",
			zap.String("test", exp.Name), zap.String("variant", variant))
		return ""
	}
	return variant
}

func (g *Engine) persist(ctx context.Context, visitorID, testName, variant string) {
	if g.store == nil {
		return
	}
	if err := g.store.PutAssignment(ctx, visitorID, g.key(testName), variant); err != nil {
		g.log.Warn("assignment write failed", zap.String("test", testName), zap.Error(err))
	}
}

func (g *Engine) key(testName string) string {
	return g.prefix + testName
}

// Apply mutates the document per resolved variant, in configured experiment
// order. Experiments without a mutation, variants without a configured
// value, and pages without the slot are all skipped silently. In preview
// mode the indicator badge is injected after all mutations.
func (g *Engine) Apply(doc *page.Document, res Resolution) {
	for _, exp := range g.experiments {
		variant, ok := res.Assignments[exp.Name]
		if !ok || exp.Mutation == nil {
			continue
		}
		exp.Mutation.Apply(doc, variant)
	}

	if res.Preview != nil {
		doc.InjectPreviewBadge(res.Preview.Test, res.Preview.Variant, g.DismissURL(res))
	}
}

// DismissURL is the endpoint the preview badge's dismiss control targets:
// it removes the forced test's persisted choice only.
func (g *Engine) DismissURL(res Resolution) string {
	if res.Preview == nil {
		return ""
	}
	return "/api/assignments/" + url.PathEscape(res.Preview.Test) + "?vid=" + url.QueryEscape(res.VisitorID)
}

// EmitImpressions reports exactly one impression per resolved experiment,
// fired once all variants are resolved and applied.
func (g *Engine) EmitImpressions(ctx context.Context, res Resolution) {
	for _, exp := range g.experiments {
		variant, ok := res.Assignments[exp.Name]
		if !ok {
			continue
		}
		g.reporter.Track(ctx, report.EventImpression, map[string]string{
			"test":       exp.Name,
			"variant":    variant,
			"visitor_id": res.VisitorID,
		})
	}
}

// TrackConversion reports a conversion for the visitor's persisted variant.
// No-op when the experiment is unknown or the visitor has no resolved
// assignment for it.
func (g *Engine) TrackConversion(ctx context.Context, visitorID, testName, kind string) {
	exp, ok := g.byName[testName]
	if !ok {
		g.log.Debug("conversion for unknown experiment", zap.String("test", testName))
		return
	}
	variant := g.storedVariant(ctx, visitorID, exp)
	if variant == "" {
		g.log.Debug("conversion with no resolved variant",
			zap.String("test", testName), zap.String("visitor_id", visitorID))
		return
	}

	g.reporter.Track(ctx, report.EventConversion, map[string]string{
		"test":       testName,
		"variant":    variant,
		"kind":       kind,
		"visitor_id": visitorID,
	})
}

// RouteConversion maps a control identifier through the configured routing
// table. Unknown controls are ignored; reports whether a route matched.
func (g *Engine) RouteConversion(ctx context.Context, visitorID, control string) bool {
	route, ok := g.routes[control]
	if !ok {
		g.log.Debug("click on unrouted control", zap.String("control", control))
		return false
	}
	g.TrackConversion(ctx, visitorID, route.Test, route.Kind)
	return true
}

// Dismiss removes the persisted choice for one experiment only, returning
// the visitor to fresh random assignment on their next load.
func (g *Engine) Dismiss(ctx context.Context, visitorID, testName string) error {
	if g.store == nil {
		return nil
	}
	return g.store.RemoveAssignment(ctx, visitorID, g.key(testName))
}

// EnsureExperiments syncs the configured definitions into the store so the
// stats and dashboard surfaces know about them before the first event.
func (g *Engine) EnsureExperiments(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	for _, exp := range g.experiments {
		if _, _, err := g.store.GetOrCreateExperiment(ctx, exp.Name, exp.Variants); err != nil {
			return err
		}
	}
	return nil
}
