package serving

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"bristolhouse/ml"
)

// Fetcher retrieves the artifact from a remote store into dest.
type Fetcher interface {
	Fetch(ctx context.Context, dest string) error
}

// Loader resolves the artifact: the local path first, then the fetcher when
// the file is absent.
type Loader struct {
	Path    string
	Fetcher Fetcher
	Logger  *zap.Logger
}

func (l *Loader) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func (l *Loader) Load(ctx context.Context) (*ml.Artifact, error) {
	artifact, err := ml.LoadModel(l.Path)
	if err != nil && errors.Is(err, fs.ErrNotExist) && l.Fetcher != nil {
		l.logger().Info("model artifact missing locally, fetching from remote", zap.String("path", l.Path))
		if ferr := l.Fetcher.Fetch(ctx, l.Path); ferr != nil {
			return nil, fmt.Errorf("fetch artifact: %w", ferr)
		}
		artifact, err = ml.LoadModel(l.Path)
	}
	if err != nil {
		return nil, err
	}
	if err := CheckSchema(artifact); err != nil {
		return nil, &ml.LoadError{Path: l.Path, Err: fmt.Errorf("%w: %v", ml.ErrCorruptArtifact, err)}
	}
	return artifact, nil
}

// Missing reports whether nothing exists at the local path, whatever the
// remote fetch did.
func (l *Loader) Missing() bool {
	_, err := os.Stat(l.Path)
	return errors.Is(err, fs.ErrNotExist)
}

// LoadInto loads the artifact and installs it into svc. Failures leave svc
// unloaded.
func (l *Loader) LoadInto(ctx context.Context, svc *Service) error {
	artifact, err := l.Load(ctx)
	if err != nil {
		l.logger().Error("model load failed", zap.String("path", l.Path), zap.Error(err))
		return err
	}
	if err := svc.Install(artifact); err != nil {
		return err
	}
	l.logger().Info("model loaded",
		zap.String("path", l.Path),
		zap.String("version", artifact.ShortVersion()),
		zap.Int("trees", len(artifact.Booster.Trees)),
	)
	return nil
}
