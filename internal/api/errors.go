package api

import (
	"context"
	"errors"

	"watchtower/internal/dataset"
	"watchtower/internal/dsl"
	"watchtower/internal/evaluator"
	pkgerrors "watchtower/pkg/errors"
)

// classify maps rule and dataset errors onto API errors. Anything else is
// returned unchanged.
func classify(err error) error {
	var (
		syntaxErr  *dsl.SyntaxError
		funcErr    *dsl.UnsupportedFunctionError
		arityErr   *dsl.ArityError
		typeErr    *dsl.TypeMismatchError
		columnErr  *dataset.ColumnNotFoundError
		patternErr *evaluator.InvalidPatternError
		loadErr    *dataset.DatasetLoadError
	)

	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &funcErr), errors.As(err, &arityErr), errors.As(err, &typeErr):
		return pkgerrors.ErrInvalidRule.WithCause(err).WithDetail("message", err.Error())
	case errors.As(err, &columnErr), errors.As(err, &patternErr):
		return pkgerrors.ErrEvaluation.WithCause(err).WithDetail("message", err.Error())
	case errors.As(err, &loadErr):
		return pkgerrors.ErrDatasetLoad.WithCause(err).WithDetail("source", loadErr.Source.String())
	case errors.Is(err, context.DeadlineExceeded):
		return pkgerrors.ErrServiceUnavailable.WithCause(err)
	default:
		return err
	}
}
