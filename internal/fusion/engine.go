package fusion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/external"
	"github.com/address-normalizer/internal/normalizer"
	"github.com/address-normalizer/internal/resolver"
	"github.com/address-normalizer/internal/taxonomy"
)

// ErrorKindTranslation is reported for failed translations.
const ErrorKindTranslation = "translation"

// Config holds engine settings.
type Config struct {
	TargetLanguage string        // translation target, "en" by default
	CountryHint    string        // used when nothing else names a country
	CallTimeout    time.Duration // bound on a started translation, DefaultCallTimeout by default
}

// Outcome is one resolved address plus what it took to get there.
type Outcome struct {
	Address     *models.NormalizedAddress
	Segments    normalizer.Segments
	Dispatch    DispatchResult
	Translation string
	// Candidates are the rejected taxonomy candidates of unresolved levels.
	Candidates []models.ReviewCandidate
	// TranslationErr is set when the translator failed for this address.
	TranslationErr error
	Cancelled      bool
}

// ErrorKinds lists the error kinds seen, one entry per failure.
func (o Outcome) ErrorKinds() []string {
	var kinds []string
	if o.TranslationErr != nil {
		kinds = append(kinds, ErrorKindTranslation)
	}
	for _, e := range o.Dispatch.Errors {
		kinds = append(kinds, string(e.Kind))
	}
	return kinds
}

// Complete reports whether the address ran to the end and may be cached.
func (o Outcome) Complete() bool {
	return !o.Cancelled && o.Address != nil
}

// Engine reconciles extraction, translation, geocoding and the taxonomy into
// one NormalizedAddress.
type Engine struct {
	resolver   atomic.Pointer[resolver.Resolver]
	extractor  *normalizer.SegmentExtractor
	text       *normalizer.TextNormalizer
	translator external.Translator
	dispatcher *Dispatcher
	cfg        Config
	logger     *zap.Logger
}

// NewEngine wires an engine. translator and dispatcher may be nil for
// offline runs.
func NewEngine(res *resolver.Resolver, extractor *normalizer.SegmentExtractor, translator external.Translator, dispatcher *Dispatcher, cfg Config, logger *zap.Logger) *Engine {
	if extractor == nil {
		extractor = normalizer.NewSegmentExtractor(nil)
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "en"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		extractor:  extractor,
		text:       normalizer.NewTextNormalizer(),
		translator: translator,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
	e.resolver.Store(res)
	return e
}

// Resolver returns the resolver in use.
func (e *Engine) Resolver() *resolver.Resolver { return e.resolver.Load() }

// Taxonomy returns the taxonomy in use.
func (e *Engine) Taxonomy() *taxonomy.Taxonomy { return e.Resolver().Taxonomy() }

// SwapTaxonomy atomically replaces the taxonomy. Addresses already being
// fused keep the old one.
func (e *Engine) SwapTaxonomy(tx *taxonomy.Taxonomy) {
	old := e.resolver.Load()
	e.resolver.Store(old.WithTaxonomy(tx))
	e.logger.Info("Taxonomy swapped",
		zap.String("from", old.Taxonomy().Version()),
		zap.String("to", tx.Version()))
}

// Dispatcher returns the geocoder dispatcher, possibly nil.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Translator returns the translator, possibly nil.
func (e *Engine) Translator() external.Translator { return e.translator }

// TargetLanguage is the translation target.
func (e *Engine) TargetLanguage() string { return e.cfg.TargetLanguage }

// Resolve runs one address end to end. A non-nil translation skips the
// translator. Per-address failures are recorded on the outcome; the error is
// only set when ctx was done before anything ran.
//
// Cancelling ctx afterwards lets calls already sent finish. The outcome is
// only Cancelled when the geocoder chain was cut before it was done; such a
// record is Failed whatever its fields say, and must not be cached.
func (e *Engine) Resolve(ctx context.Context, raw models.RawAddress, translation *string) (Outcome, error) {
	var pre *external.TranslationOutcome
	if translation != nil {
		pre = &external.TranslationOutcome{Text: *translation}
	}
	return e.ResolveTranslated(ctx, raw, pre)
}

// ResolveTranslated is Resolve with a translation obtained earlier, failed
// or not. A nil pre leaves translation to the engine.
func (e *Engine) ResolveTranslated(ctx context.Context, raw models.RawAddress, pre *external.TranslationOutcome) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	text := normalizer.CollapseWhitespace(raw.Text)
	nonEnglish := normalizer.IsNonEnglish(text)

	var (
		out Outcome
		seg normalizer.Segments
		g   errgroup.Group
	)
	if pre != nil {
		out.Translation, out.TranslationErr = pre.Text, pre.Err
	} else if e.translator != nil && nonEnglish {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
			defer cancel()
			res := e.translator.TranslateBatch(tctx, []string{text}, e.cfg.TargetLanguage)
			if len(res) == 1 {
				out.Translation, out.TranslationErr = res[0].Text, res[0].Err
			}
			return nil
		})
	}
	g.Go(func() error {
		seg = e.extractor.Extract(text)
		return nil
	})
	_ = g.Wait()

	if nonEnglish && out.Translation != "" {
		seg = mergeSegments(seg, e.extractor.Extract(out.Translation))
	}

	if e.dispatcher != nil {
		out.Dispatch = e.dispatcher.Geocode(ctx, text, out.Translation)
	}

	na, h := e.fuse(raw, seg, out.Translation, out.Dispatch.Results)
	out.Candidates = h.reviewCandidates(na)
	if out.TranslationErr != nil {
		na.AddFlag(models.FlagTranslationError)
		na.Errors = append(na.Errors, out.TranslationErr.Error())
	}
	if len(out.Dispatch.Errors) > 0 && len(out.Dispatch.Results) == 0 {
		na.AddFlag(models.FlagGeocoderError)
	}
	for _, de := range out.Dispatch.Errors {
		na.Errors = append(na.Errors, fmt.Sprintf("%s: %s", de.Adapter, de.Kind))
	}
	if out.Dispatch.Cancelled {
		out.Cancelled = true
		na.AddFlag(models.FlagCancelled)
		na.Status = models.StatusFailed
	}
	na.ResolvedAt = time.Now().UTC()

	out.Address = na
	out.Segments = seg
	return out, nil
}

// mergeSegments keeps native values and fills gaps from the translation,
// whose residual is the useful one.
func mergeSegments(native, translated normalizer.Segments) normalizer.Segments {
	for c, v := range translated.Values {
		if native.Values[c] == "" {
			native.Values[c] = v
			native.Rules[c] = translated.Rules[c]
		}
	}
	native.Residual = translated.Residual
	return native
}

var reStreetWord = regexp.MustCompile(`(?i)\b(street|avenue|highway|road|ave|str?)\b`)

// geocodedComponents are taken from the top geocode result when still unset.
var geocodedComponents = []models.Component{
	models.ComponentStreet,
	models.ComponentBuildingCode,
	models.ComponentStreetNumber,
	models.ComponentBlock,
	models.ComponentLane,
}

// Fuse reconciles the evidence for one address. It is pure: the same inputs
// and taxonomy always give the same record.
//
// Precedence per component: regex extraction, then a taxonomy match, then
// the top geocode result. Hierarchy fields, the neighbourhood included, only
// hold taxonomy nodes; regex and geocoder text for them is only resolver
// input.
func (e *Engine) Fuse(raw models.RawAddress, seg normalizer.Segments, translation string, geocodes []models.GeocodeResult) *models.NormalizedAddress {
	na, _ := e.fuse(raw, seg, translation, geocodes)
	return na
}

func (e *Engine) fuse(raw models.RawAddress, seg normalizer.Segments, translation string, geocodes []models.GeocodeResult) (*models.NormalizedAddress, hierarchy) {
	r := e.Resolver()
	tx := r.Taxonomy()

	na := models.NewNormalizedAddress(normalizer.CacheKey(raw.Text), raw.Text)
	na.Translated = translation
	na.TaxonomyVersion = tx.Version()

	for _, c := range models.Components {
		if c == models.ComponentNeighbourhood {
			continue
		}
		if v := seg.Values[c]; v != "" {
			na.Set(c, models.Field{Value: v, Source: models.SourceRegex, Confidence: 1})
		}
	}

	texts := []string{raw.Text}
	if translation != "" {
		texts = append(texts, translation)
	}
	if seg.Residual != "" {
		texts = append(texts, seg.Residual)
	}
	if v := seg.Values[models.ComponentNeighbourhood]; v != "" {
		texts = append(texts, v)
	}
	h := resolveHierarchy(r, collectFragments(geocodes, texts...))
	h.apply(na)

	var top *models.GeocodeResult
	if len(geocodes) > 0 {
		top = &geocodes[0]
	}
	if top != nil {
		conf := 0.0
		if top.Confidence != nil {
			conf = *top.Confidence
		}
		src := models.GeocoderSource(top.Adapter)
		for _, c := range geocodedComponents {
			if na.Has(c) {
				continue
			}
			v := e.clean(top.Components[c])
			if c == models.ComponentStreet {
				v = normalizer.FixGenericStreet(v, e.regions(na)...)
			}
			if v != "" {
				na.Set(c, models.Field{Value: v, Source: src, Confidence: conf})
			}
		}
		na.Latitude, na.Longitude = top.Latitude, top.Longitude
	}

	if !na.Has(models.ComponentStreet) {
		e.streetFromResidual(na, seg.Residual)
	}

	switch {
	case h.resolved():
		na.Set(models.ComponentCountry, models.Field{Value: tx.Root().Name, Source: models.SourceTaxonomy, Confidence: 1})
	case top != nil && top.Components[models.ComponentCountry] != "":
		conf := 0.0
		if top.Confidence != nil {
			conf = *top.Confidence
		}
		na.Set(models.ComponentCountry, models.Field{
			Value:      e.clean(top.Components[models.ComponentCountry]),
			Source:     models.GeocoderSource(top.Adapter),
			Confidence: conf,
		})
	case !na.IsEmpty():
		if hint := firstNonEmpty(raw.CountryHint, e.cfg.CountryHint); hint != "" {
			na.Set(models.ComponentCountry, models.Field{Value: hint, Source: models.SourceCountryHint})
		}
	}

	if h.anyCross() {
		na.AddFlag(models.FlagCrossHierarchy)
	}
	na.Status = status(na, h)
	if na.Status == models.StatusNeedsReview {
		na.AddFlag(models.FlagAmbiguous)
	}
	return na, h
}

// clean normalizes a geocoder label, keeping it as is when it is not English.
func (e *Engine) clean(v string) string {
	v = normalizer.CollapseWhitespace(v)
	if v == "" {
		return ""
	}
	if n := e.text.NormalizeAddressParts(v); n != "" {
		return n
	}
	return v
}

func (e *Engine) regions(na *models.NormalizedAddress) []string {
	return []string{
		na.Value(models.ComponentTown),
		na.Value(models.ComponentVillage),
		na.Value(models.ComponentAdministrativeUnit),
		na.Value(models.ComponentProvince),
	}
}

// streetFromResidual takes the first leftover part naming a street.
func (e *Engine) streetFromResidual(na *models.NormalizedAddress, residual string) {
	for _, part := range strings.Split(residual, ",") {
		if !reStreetWord.MatchString(part) {
			continue
		}
		v := normalizer.FixGenericStreet(e.clean(part), e.regions(na)...)
		if v != "" {
			na.Set(models.ComponentStreet, models.Field{Value: v, Source: models.SourceRegex, Confidence: 0.5})
			return
		}
	}
}

// status applies the resolution rules. Mandatory components are Country,
// Province and one of Town or Village.
func status(na *models.NormalizedAddress, h hierarchy) models.Status {
	if na.IsEmpty() {
		return models.StatusFailed
	}
	hasProvince := na.Has(models.ComponentProvince)
	hasSettlement := na.Has(models.ComponentTown) || na.Has(models.ComponentVillage)
	hasCountry := na.Has(models.ComponentCountry)

	if (!hasProvince && h.province.ambiguous) || (!hasSettlement && h.settlement.ambiguous) {
		return models.StatusNeedsReview
	}
	optionalRejected := !na.Has(models.ComponentAdministrativeUnit) && h.admin.ambiguous
	if hasProvince && hasSettlement && hasCountry && !optionalRejected && !h.anyCross() {
		return models.StatusResolved
	}
	return models.StatusPartiallyResolved
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
