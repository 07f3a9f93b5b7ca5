package source

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// MoveOutcome is the result class of moving a file between folders.
type MoveOutcome int

const (
	// MoveOK means the file now lives in the target folder.
	MoveOK MoveOutcome = iota
	// MoveRecovered means the move failed, was logged, and processing goes on.
	MoveRecovered
	// MoveFatal means the move failed and the caller must treat the file as failed.
	MoveFatal
)

// String returns the outcome name.
func (o MoveOutcome) String() string {
	switch o {
	case MoveOK:
		return "ok"
	case MoveRecovered:
		return "recovered"
	case MoveFatal:
		return "fatal"
	default:
		return fmt.Sprintf("MoveOutcome(%d)", int(o))
	}
}

// MoveResult describes a finished move attempt.
type MoveResult struct {
	Outcome     MoveOutcome
	Destination string
	Err         error
}

// Mover relocates input files into the completed and error folders without
// ever replacing an existing file. A name collision is resolved once by
// appending a random suffix; a second collision is a duplicate-file failure.
type Mover struct {
	fs     storage.FileSystem
	logger *slog.Logger
	suffix func() string
}

// NewMover creates a mover over fs.
func NewMover(fs storage.FileSystem, logger *slog.Logger) *Mover {
	return &Mover{
		fs:     fs,
		logger: logger,
		suffix: uuid.NewString,
	}
}

// Move moves p into folder. Any failure is MoveFatal.
func (m *Mover) Move(ctx context.Context, p, folder string) MoveResult {
	dst, err := m.move(ctx, p, folder)
	if err != nil {
		return MoveResult{Outcome: MoveFatal, Destination: dst, Err: err}
	}
	return MoveResult{Outcome: MoveOK, Destination: dst}
}

// MoveBestEffort moves p into folder. Failures are logged and reported as
// MoveRecovered.
func (m *Mover) MoveBestEffort(ctx context.Context, p, folder string) MoveResult {
	dst, err := m.move(ctx, p, folder)
	if err != nil {
		m.logger.Error("failed to move file",
			"path", p,
			"folder", folder,
			"error", err,
		)
		return MoveResult{Outcome: MoveRecovered, Destination: dst, Err: err}
	}
	return MoveResult{Outcome: MoveOK, Destination: dst}
}

func (m *Mover) move(ctx context.Context, p, folder string) (string, error) {
	dst := path.Join(folder, path.Base(p))

	exists, err := m.fs.Exists(ctx, dst)
	if err != nil {
		return dst, err
	}
	if exists {
		dst = dst + "." + m.suffix()
		exists, err = m.fs.Exists(ctx, dst)
		if err != nil {
			return dst, err
		}
		if exists {
			return dst, fmt.Errorf("%w: %s", apperrors.ErrDuplicateFile, p)
		}
	}

	if err := m.fs.Move(ctx, p, dst); err != nil {
		return dst, err
	}
	return dst, nil
}
