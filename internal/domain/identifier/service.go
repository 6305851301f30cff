package identifier

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// maxAllocateAttempts bounds the draw-and-check loop before the pool is
// declared exhausted.
const maxAllocateAttempts = 100

// Rand is the randomness source used for pattern and range draws.
// *rand.Rand satisfies it; tests inject a deterministic sequence.
type Rand interface {
	Int63n(n int64) int64
}

// Allocation is the result of a successful draw.
type Allocation struct {
	Value      string
	Collisions int
}

type Service struct {
	repo  Repository
	locks *db.KeyedLock
	log   zerolog.Logger

	rngMu sync.Mutex
	rng   Rand
}

func NewService(repo Repository, locks *db.KeyedLock, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		locks: locks,
		log:   log.With().Str("component", "identifier").Logger(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand swaps the randomness source. Used by tests and by scenario
// materialization, which needs reproducible draws.
func (s *Service) WithRand(r Rand) *Service {
	s.rng = r
	return s
}

func lockKey(ns *Namespace) string {
	return "ident:" + ns.System + "|" + string(ns.Type)
}

// Allocate draws an unassigned value from the namespace, records it, and
// returns it. The draw-check-insert sequence runs under the per-pool lock
// so two concurrent allocations can never hand out the same value.
func (s *Service) Allocate(ctx context.Context, ns *Namespace) (*Allocation, error) {
	if ns.Mode == ModeExternal || ns.Type == TypeINS {
		return nil, diag.New(diag.INSFormatInvalid,
			"namespace %s is externally assigned, values cannot be generated", ns.Name)
	}

	var out *Allocation
	err := s.locks.WithLock(lockKey(ns), func() error {
		for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
			value, err := s.draw(ns)
			if err != nil {
				return err
			}
			taken, err := s.repo.Exists(ctx, ns.Type, ns.System, value)
			if err != nil {
				return err
			}
			if taken {
				continue
			}
			if err := s.repo.Insert(ctx, &Identifier{
				Value:  value,
				Type:   ns.Type,
				System: ns.System,
				Status: "active",
			}); err != nil {
				return err
			}
			out = &Allocation{Value: value, Collisions: attempt}
			return nil
		}
		return diag.New(diag.IdentifierPoolExhausted,
			"no free value in namespace %s after %d attempts", ns.Name, maxAllocateAttempts)
	})
	if err != nil {
		return nil, err
	}
	if out.Collisions > 0 {
		s.log.Debug().
			Str("namespace", ns.Name).
			Int("collisions", out.Collisions).
			Msg("identifier allocated after collisions")
	}
	return out, nil
}

// AllocateWithPattern draws from the namespace with its pattern
// replaced. An override without digit positions keeps the namespace's
// positions and swaps only the literal prefix.
func (s *Service) AllocateWithPattern(ctx context.Context, ns *Namespace, override string) (*Allocation, error) {
	if override == "" {
		return s.Allocate(ctx, ns)
	}
	pattern := override
	if !strings.Contains(pattern, ".") {
		digits := 6
		if ns.Mode == ModePattern && ns.PrefixPattern != nil {
			if _, d, err := splitPattern(*ns.PrefixPattern); err == nil {
				digits = d
			}
		}
		pattern += strings.Repeat(".", digits)
	}
	eff := *ns
	eff.Mode = ModePattern
	eff.PrefixPattern = &pattern
	return s.Allocate(ctx, &eff)
}

// AllocateByType resolves the namespace for (type, juridical entity) and
// allocates from it. An entity-scoped namespace shadows the global one.
func (s *Service) AllocateByType(ctx context.Context, t Type, ejID *uuid.UUID) (*Allocation, *Namespace, error) {
	return s.AllocateByTypeWithPattern(ctx, t, ejID, "")
}

func (s *Service) AllocateByTypeWithPattern(ctx context.Context, t Type, ejID *uuid.UUID, override string) (*Allocation, *Namespace, error) {
	ns, err := s.repo.GetNamespaceByTypeAndEntity(ctx, t, ejID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve namespace for %s: %w", t, err)
	}
	alloc, err := s.AllocateWithPattern(ctx, ns, override)
	if err != nil {
		return nil, nil, err
	}
	return alloc, ns, nil
}

func (s *Service) draw(ns *Namespace) (string, error) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	switch ns.Mode {
	case ModePattern:
		if ns.PrefixPattern == nil {
			return "", fmt.Errorf("namespace %s: pattern mode without pattern", ns.Name)
		}
		prefix, digits, err := splitPattern(*ns.PrefixPattern)
		if err != nil {
			return "", fmt.Errorf("namespace %s: %w", ns.Name, err)
		}
		n := s.rng.Int63n(pow10(digits))
		return prefix + fmt.Sprintf("%0*d", digits, n), nil
	case ModeRange:
		if ns.RangeMin == nil || ns.RangeMax == nil || *ns.RangeMax < *ns.RangeMin {
			return "", fmt.Errorf("namespace %s: invalid range", ns.Name)
		}
		n := *ns.RangeMin + s.rng.Int63n(*ns.RangeMax-*ns.RangeMin+1)
		return strconv.FormatInt(n, 10), nil
	default:
		return "", fmt.Errorf("namespace %s: unknown mode %q", ns.Name, ns.Mode)
	}
}

// splitPattern splits "9..." into the literal prefix and the count of
// random digit positions.
func splitPattern(pattern string) (prefix string, digits int, err error) {
	i := strings.IndexByte(pattern, '.')
	if i < 0 {
		return "", 0, fmt.Errorf("pattern %q has no digit positions", pattern)
	}
	prefix, tail := pattern[:i], pattern[i:]
	if strings.Trim(tail, ".") != "" {
		return "", 0, fmt.Errorf("pattern %q: prefix must precede all dots", pattern)
	}
	return prefix, len(tail), nil
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// Validate checks that value conforms to the namespace shape. For INS
// namespaces the value must be exactly 15 digits.
func (s *Service) Validate(ns *Namespace, value string) error {
	if ns.Type == TypeINS {
		if len(value) != 15 || !allDigits(value) {
			return diag.New(diag.INSFormatInvalid, "INS %q must be 15 digits", value)
		}
		return nil
	}
	switch ns.Mode {
	case ModePattern:
		prefix, digits, err := splitPattern(*ns.PrefixPattern)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(value, prefix) || len(value) != len(prefix)+digits || !allDigits(value[len(prefix):]) {
			return diag.New(diag.IdentifierCollision,
				"value %q does not match pattern %q", value, *ns.PrefixPattern)
		}
	case ModeRange:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < *ns.RangeMin || n > *ns.RangeMax {
			return diag.New(diag.IdentifierCollision,
				"value %q outside range [%d,%d]", value, *ns.RangeMin, *ns.RangeMax)
		}
	}
	return nil
}

// Register records an externally assigned value after checking it is not
// already taken.
func (s *Service) Register(ctx context.Context, ns *Namespace, value string) error {
	if err := s.Validate(ns, value); err != nil {
		return err
	}
	return s.locks.WithLock(lockKey(ns), func() error {
		taken, err := s.repo.Exists(ctx, ns.Type, ns.System, value)
		if err != nil {
			return err
		}
		if taken {
			return diag.New(diag.IdentifierCollision,
				"value %q already assigned in namespace %s", value, ns.Name)
		}
		return s.repo.Insert(ctx, &Identifier{
			Value:  value,
			Type:   ns.Type,
			System: ns.System,
			Status: "active",
		})
	})
}

// EstimateAvailable reports how many values remain unassigned in the pool.
// External pools have no bounded capacity and report -1.
func (s *Service) EstimateAvailable(ctx context.Context, ns *Namespace) (int64, error) {
	var capacity int64
	switch ns.Mode {
	case ModePattern:
		_, digits, err := splitPattern(*ns.PrefixPattern)
		if err != nil {
			return 0, err
		}
		capacity = pow10(digits)
	case ModeRange:
		capacity = *ns.RangeMax - *ns.RangeMin + 1
	default:
		return -1, nil
	}
	used, err := s.repo.CountAssigned(ctx, ns.Type, ns.System)
	if err != nil {
		return 0, err
	}
	if used > capacity {
		return 0, nil
	}
	return capacity - used, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
