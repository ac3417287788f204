package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGenerator struct {
	out   string
	errs  []error
	calls int
}

func (f *fakeGenerator) Generate(context.Context, string) (string, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	return f.out, nil
}

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func quotaErr() error {
	return domain.WrapError(domain.ErrQuota, "generate", errors.New("resource exhausted"))
}

func TestFailoverGeneratorUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeGenerator{out: "primary"}
	secondary := &fakeGenerator{out: "secondary"}
	gen := NewFailoverGenerator(primary, secondary, testLogger())

	out, err := gen.Generate(context.Background(), "p")
	if err != nil || out != "primary" {
		t.Fatalf("got %q err=%v", out, err)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary must stay idle")
	}
}

func TestFailoverGeneratorFallsBackOnError(t *testing.T) {
	primary := &fakeGenerator{errs: []error{errors.New("boom")}}
	secondary := &fakeGenerator{out: "secondary"}
	gen := NewFailoverGenerator(primary, secondary, testLogger())

	out, err := gen.Generate(context.Background(), "p")
	if err != nil || out != "secondary" {
		t.Fatalf("got %q err=%v", out, err)
	}
}

func TestFailoverGeneratorTripsAfterConsecutiveQuotaErrors(t *testing.T) {
	primary := &fakeGenerator{out: "primary", errs: []error{quotaErr(), quotaErr()}}
	secondary := &fakeGenerator{out: "secondary"}
	gen := NewFailoverGenerator(primary, secondary, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if out, _ := gen.Generate(ctx, "p"); out != "secondary" {
			t.Fatalf("call %d: expected fallback, got %q", i, out)
		}
	}
	if primary.calls != 2 {
		t.Fatalf("primary called %d times before trip", primary.calls)
	}

	// Tripped: the primary is skipped entirely.
	if out, _ := gen.Generate(ctx, "p"); out != "secondary" {
		t.Fatalf("expected fallback answer, got %q", out)
	}
	if primary.calls != 2 {
		t.Fatalf("tripped primary must not be called, got %d calls", primary.calls)
	}
}

func TestFailoverGeneratorQuotaCounterResetsOnSuccess(t *testing.T) {
	primary := &fakeGenerator{out: "primary", errs: []error{quotaErr(), nil, quotaErr()}}
	secondary := &fakeGenerator{out: "secondary"}
	gen := NewFailoverGenerator(primary, secondary, testLogger())
	ctx := context.Background()

	gen.Generate(ctx, "p") // quota 1
	gen.Generate(ctx, "p") // success, counter resets
	gen.Generate(ctx, "p") // quota 1 again, not tripped

	if out, _ := gen.Generate(ctx, "p"); out != "primary" {
		t.Fatalf("non-consecutive quota errors must not trip, got %q", out)
	}
}

func TestFailoverGeneratorRetriesTrippedPrimaryWhenSecondaryFails(t *testing.T) {
	primary := &fakeGenerator{out: "primary", errs: []error{quotaErr(), quotaErr()}}
	secondary := &fakeGenerator{errs: []error{nil, nil, errors.New("secondary down")}}
	gen := NewFailoverGenerator(primary, secondary, testLogger())
	ctx := context.Background()

	gen.Generate(ctx, "p")
	gen.Generate(ctx, "p")

	// Third call: primary tripped, secondary errors, primary succeeds on the
	// last-resort retry and clears the trip.
	out, err := gen.Generate(ctx, "p")
	if err != nil || out != "primary" {
		t.Fatalf("got %q err=%v", out, err)
	}
	if out, _ := gen.Generate(ctx, "p"); out != "primary" {
		t.Fatalf("cleared trip must restore the primary, got %q", out)
	}
}

func TestFailoverGeneratorNoSecondarySurfacesError(t *testing.T) {
	primary := &fakeGenerator{errs: []error{quotaErr()}}
	gen := NewFailoverGenerator(primary, nil, testLogger())

	if _, err := gen.Generate(context.Background(), "p"); !domain.IsKind(err, domain.ErrQuota) {
		t.Fatalf("expected the primary error to surface, got %v", err)
	}
}

func TestFailoverEmbedder(t *testing.T) {
	primary := &fakeEmbedder{err: errors.New("down")}
	secondary := &fakeEmbedder{vec: []float32{1, 2}}
	emb := NewFailoverEmbedder(primary, secondary, testLogger())

	vec, err := emb.Embed(context.Background(), "text", "task")
	if err != nil || len(vec) != 2 {
		t.Fatalf("got %v err=%v", vec, err)
	}

	noFallback := NewFailoverEmbedder(primary, nil, testLogger())
	if _, err := noFallback.Embed(context.Background(), "text", "task"); err == nil {
		t.Fatalf("expected the primary error without a secondary")
	}
}
