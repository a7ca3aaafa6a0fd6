package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sprite-ai/mutacheck/internal/model"
)

// CheckerFault records a checker that failed instead of returning a fragment.
type CheckerFault struct {
	Checker string
	Class   string
	Err     error
}

func (f *CheckerFault) Error() string {
	return fmt.Sprintf("checker %s failed: %v", f.Checker, f.Err)
}

func (f *CheckerFault) Unwrap() error {
	return f.Err
}

var (
	errNilCheck       = errors.New("no check function")
	errInvalidVerdict = errors.New("invalid verdict")
)

// RunChecker runs one checker against one class. It always returns a
// fragment: a checker that panics or returns an invalid verdict yields
// MAYBE_IMMUTABLE with a CHECKER_FAULT reason.
func RunChecker(ctx context.Context, c Checker, cls *model.Class, res Resolver, logger *slog.Logger) (frag Fragment) {
	if logger == nil {
		logger = slog.Default()
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		err, ok := p.(error)
		if !ok {
			err = fmt.Errorf("%v", p)
		}
		frag = faultFragment(ctx, &CheckerFault{Checker: c.Name, Class: cls.Name, Err: err}, logger)
	}()

	if c.Check == nil {
		return faultFragment(ctx, &CheckerFault{Checker: c.Name, Class: cls.Name, Err: errNilCheck}, logger)
	}

	frag = c.Check(ctx, cls, res)
	if !frag.Verdict.Valid() {
		err := fmt.Errorf("%w %d", errInvalidVerdict, int(frag.Verdict))
		return faultFragment(ctx, &CheckerFault{Checker: c.Name, Class: cls.Name, Err: err}, logger)
	}
	return frag
}

func faultFragment(ctx context.Context, fault *CheckerFault, logger *slog.Logger) Fragment {
	logger.Warn("checker failed",
		slog.String("checker", fault.Checker),
		slog.String("class", fault.Class),
		slog.String("error", fault.Err.Error()))
	recordCheckerFault(ctx, fault.Checker)

	return Fragment{
		Verdict: model.MaybeImmutable,
		Reasons: []model.Reason{{
			Checker: fault.Checker,
			Code:    model.CodeCheckerFault,
			Class:   fault.Class,
			Message: fault.Error(),
			Verdict: model.MaybeImmutable,
		}},
	}
}
