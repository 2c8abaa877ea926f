package app

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/detection"
	"github.com/teslashibe/go-emotion/pkg/emotion"
	"github.com/teslashibe/go-emotion/pkg/models"
)

// Artifacts fetches model artifacts. *models.Fetcher implements it.
type Artifacts interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Materialize(ctx context.Context, ref string) (string, error)
}

var _ Artifacts = (*models.Fetcher)(nil)

// detectorLoader returns the session's detector loader. The pigo cascade is
// read into memory; YuNet needs a file on disk.
func detectorLoader(cfg Config, art Artifacts) func(ctx context.Context) (detection.Detector, error) {
	ref := cfg.detectorModel()
	return func(ctx context.Context) (detection.Detector, error) {
		log.Info("loading face detector", "backend", cfg.Detector, "model", ref)
		switch cfg.Detector {
		case DetectorYuNet:
			path, err := art.Materialize(ctx, ref)
			if err != nil {
				return nil, err
			}
			dc := detection.DefaultConfig()
			dc.ModelPath = path
			d, err := detection.NewYuNet(dc)
			if err != nil {
				return nil, err
			}
			return d, nil
		case DetectorPigo:
			cascade, err := art.Fetch(ctx, ref)
			if err != nil {
				return nil, err
			}
			dc := detection.PigoConfig()
			dc.ModelPath = ref
			d, err := detection.NewPigo(cascade, dc)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
		return nil, fmt.Errorf("unknown detector %q", cfg.Detector)
	}
}

// classifierLoader returns the session's classifier loader, or nil when no
// model is configured so the session starts in demo mode.
func classifierLoader(cfg Config, art Artifacts) func(ctx context.Context) (emotion.Classifier, error) {
	if cfg.ClassifierModel == "" {
		return nil
	}
	ref := cfg.ClassifierModel
	return func(ctx context.Context) (emotion.Classifier, error) {
		log.Info("loading emotion classifier", "model", ref)
		model, err := art.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		c, err := emotion.NewONNX(model, emotion.DefaultONNXConfig())
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
