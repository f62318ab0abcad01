package serving

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"bristolhouse/geo"
	"bristolhouse/ml"
	"bristolhouse/monitoring"
)

const (
	StatusLoaded    = "loaded"
	StatusNotLoaded = "not_loaded"
)

// Options configures a Service. Zero values mean lenient validation, no
// cache and Bristol bounds for strict checks.
type Options struct {
	// Strict rejects unknown codes, out-of-bounds coordinates and years
	// outside [YearMin, YearMax].
	Strict    bool
	Bounds    geo.BoundingBox
	YearMin   int
	YearMax   int
	CacheSize int
	Logger    *zap.Logger
	Metrics   *monitoring.MetricsCollector
}

// Installed describes the model currently in service.
type Installed struct {
	Model    ml.Model
	LoadedAt time.Time
}

// Service validates, encodes and prices requests against a model that is
// installed at most once.
type Service struct {
	opts     Options
	encoder  ml.Encoder
	validate *validator.Validate
	cache    *lru.Cache[string, float64]
	logger   *zap.Logger
	metrics  *monitoring.MetricsCollector

	installed atomic.Pointer[Installed]
}

func New(opts Options) (*Service, error) {
	if opts.Bounds == (geo.BoundingBox{}) {
		opts.Bounds = geo.Bristol
	}
	if err := opts.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("serving bounds: %w", err)
	}
	if opts.YearMin == 0 && opts.YearMax == 0 {
		opts.YearMin, opts.YearMax = 2000, 2025
	}
	if opts.YearMin > opts.YearMax {
		return nil, fmt.Errorf("year range %d..%d is empty", opts.YearMin, opts.YearMax)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Service{
		opts:     opts,
		encoder:  ml.Encoder{Strict: opts.Strict},
		validate: newValidator(),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, float64](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Install performs the single Unloaded -> Loaded transition.
func (s *Service) Install(model ml.Model) error {
	if model == nil {
		return errors.New("nil model")
	}
	if !s.installed.CompareAndSwap(nil, &Installed{Model: model, LoadedAt: time.Now().UTC()}) {
		return ErrAlreadyLoaded
	}
	s.metrics.SetGauge("model_loaded", 1, nil)
	s.logger.Info("model installed", zap.String("version", model.ModelVersion()))
	return nil
}

func (s *Service) Ready() bool { return s.installed.Load() != nil }

func (s *Service) Status() string {
	if s.Ready() {
		return StatusLoaded
	}
	return StatusNotLoaded
}

// Installed returns the model in service, or nil.
func (s *Service) Installed() *Installed { return s.installed.Load() }

func (s *Service) Strict() bool { return s.opts.Strict }

// Predict prices one request. Errors are always *Error.
func (s *Service) Predict(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := s.predict(ctx, req)
	if err != nil {
		s.metrics.IncrCounter("predictions_failed_total", 1, map[string]string{"kind": KindOf(err).String()})
		return nil, err
	}
	s.metrics.IncrCounter("predictions_total", 1, nil)
	s.metrics.ObserveDuration("predict_latency_ms", time.Since(start), nil)
	return resp, nil
}

func (s *Service) predict(ctx context.Context, req Request) (*Response, error) {
	installed := s.installed.Load()
	if installed == nil {
		return nil, ModelUnavailable()
	}
	if err := ctx.Err(); err != nil {
		return nil, BadRequest("request cancelled", err)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, BadRequest(describeValidation(err), err)
	}

	in := req.Input()
	if err := s.checkStrict(in); err != nil {
		return nil, err
	}
	row, err := s.encoder.Encode(in)
	if err != nil {
		return nil, BadRequest(err.Error(), err)
	}

	price, err := s.infer(installed.Model, row)
	if err != nil {
		s.logger.Warn("prediction failed", zap.Error(err))
		return nil, PredictionError(err)
	}

	return &Response{
		PredictedPrice: price,
		FormattedPrice: FormatPrice(price),
		Location:       Location{Latitude: in.Latitude, Longitude: in.Longitude},
		InputsUsed: InputsUsed{
			PropertyType: row.Categorical[ml.ColPropertyType],
			NewBuild:     row.Categorical[ml.ColNewBuild],
			Tenure:       row.Categorical[ml.ColTenure],
			Year:         in.Year,
		},
	}, nil
}

func (s *Service) checkStrict(in ml.Input) error {
	if !s.opts.Strict {
		return nil
	}
	if !s.opts.Bounds.Contains(in.Latitude, in.Longitude) {
		return BadRequest(fmt.Sprintf("location (%g, %g) is outside %s", in.Latitude, in.Longitude, s.opts.Bounds), nil)
	}
	if in.Year < s.opts.YearMin || in.Year > s.opts.YearMax {
		return BadRequest(fmt.Sprintf("year %d is outside %d-%d", in.Year, s.opts.YearMin, s.opts.YearMax), nil)
	}
	return nil
}

func (s *Service) infer(model ml.Model, row ml.Row) (float64, error) {
	var key string
	if s.cache != nil {
		key = model.ModelVersion() + "|" + row.Key()
		if price, ok := s.cache.Get(key); ok {
			s.metrics.IncrCounter("prediction_cache_hits_total", 1, nil)
			return price, nil
		}
	}

	price, err := safePredict(model, row)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("model returned non-finite value %v", price)
	}
	if s.cache != nil {
		s.cache.Add(key, price)
	}
	return price, nil
}

func safePredict(model ml.Model, row ml.Row) (price float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()
	return model.Predict(row)
}

// ModelColumns reports the loaded model's input schema, or nil.
func (s *Service) ModelColumns() []string {
	installed := s.installed.Load()
	if installed == nil {
		return nil
	}
	return installed.Model.Columns()
}

// CheckSchema confirms the model expects exactly the encoder's columns.
func CheckSchema(model ml.Model) error {
	want := ml.FeatureColumns()
	got := model.Columns()
	if len(got) != len(want) {
		return fmt.Errorf("%w: model expects [%s], encoder produces [%s]", ml.ErrSchemaMismatch, strings.Join(got, ", "), strings.Join(want, ", "))
	}
	seen := make(map[string]bool, len(got))
	for _, c := range got {
		seen[c] = true
	}
	for _, c := range want {
		if !seen[c] {
			return fmt.Errorf("%w: model does not use column %q", ml.ErrSchemaMismatch, c)
		}
	}
	return nil
}
