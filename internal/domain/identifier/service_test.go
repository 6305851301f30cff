package identifier

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

type mockRepo struct {
	Repository
	assigned map[string]bool // key: type|system|value
	inserted []string
	ns       *Namespace
}

func newMockRepo() *mockRepo {
	return &mockRepo{assigned: make(map[string]bool)}
}

func (m *mockRepo) key(t Type, system, value string) string {
	return string(t) + "|" + system + "|" + value
}

func (m *mockRepo) Exists(_ context.Context, t Type, system, value string) (bool, error) {
	return m.assigned[m.key(t, system, value)], nil
}

func (m *mockRepo) Insert(_ context.Context, ident *Identifier) error {
	m.assigned[m.key(ident.Type, ident.System, ident.Value)] = true
	m.inserted = append(m.inserted, ident.Value)
	return nil
}

func (m *mockRepo) CountAssigned(_ context.Context, _ Type, _ string) (int64, error) {
	return int64(len(m.assigned)), nil
}

func (m *mockRepo) GetNamespaceByTypeAndEntity(_ context.Context, _ Type, _ *uuid.UUID) (*Namespace, error) {
	if m.ns == nil {
		return nil, errors.New("no namespace")
	}
	return m.ns, nil
}

// seqRand replays a fixed value sequence, reduced modulo the bound.
type seqRand struct {
	vals []int64
	i    int
}

func (r *seqRand) Int63n(n int64) int64 {
	if r.i >= len(r.vals) {
		return 0
	}
	v := r.vals[r.i] % n
	r.i++
	return v
}

func strp(s string) *string { return &s }
func i64p(n int64) *int64   { return &n }

func patternNS(pattern string, t Type) *Namespace {
	return &Namespace{
		ID:            uuid.New(),
		Name:          "test-" + string(t),
		System:        "urn:test:" + string(t),
		Type:          t,
		Mode:          ModePattern,
		PrefixPattern: strp(pattern),
	}
}

func newTestService(repo Repository, r Rand) *Service {
	return NewService(repo, db.NewKeyedLock(), zerolog.Nop()).WithRand(r)
}

func TestAllocate_PatternSkipsCollisions(t *testing.T) {
	repo := newMockRepo()
	ns := patternNS("9...", TypeIPP)
	for i := 9000; i <= 9009; i++ {
		repo.assigned[repo.key(TypeIPP, ns.System, fmt.Sprintf("%d", i))] = true
	}
	// Draws 9000 (taken), 9003 (taken), then 9017 (free).
	svc := newTestService(repo, &seqRand{vals: []int64{0, 3, 17}})

	alloc, err := svc.Allocate(context.Background(), ns)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if alloc.Value != "9017" {
		t.Errorf("value = %q, want 9017", alloc.Value)
	}
	if alloc.Collisions != 2 {
		t.Errorf("collisions = %d, want 2", alloc.Collisions)
	}
	if got := repo.inserted; len(got) != 1 || got[0] != "9017" {
		t.Errorf("inserted = %v, want [9017]", got)
	}
}

func TestAllocate_ZeroPadsSuffix(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &seqRand{vals: []int64{7}})

	alloc, err := svc.Allocate(context.Background(), patternNS("80....", TypeNDA))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if alloc.Value != "800007" {
		t.Errorf("value = %q, want 800007", alloc.Value)
	}
}

func TestAllocateWithPattern_Override(t *testing.T) {
	repo := newMockRepo()
	ns := patternNS("9....", TypeIPP)
	svc := newTestService(repo, &seqRand{vals: []int64{7, 7}})

	// A bare prefix keeps the namespace's digit positions.
	alloc, err := svc.AllocateWithPattern(context.Background(), ns, "77")
	if err != nil {
		t.Fatalf("AllocateWithPattern: %v", err)
	}
	if alloc.Value != "770007" {
		t.Errorf("value = %q, want 770007", alloc.Value)
	}

	// A full pattern replaces positions too.
	alloc, err = svc.AllocateWithPattern(context.Background(), ns, "5..")
	if err != nil {
		t.Fatalf("AllocateWithPattern: %v", err)
	}
	if alloc.Value != "507" {
		t.Errorf("value = %q, want 507", alloc.Value)
	}

	// Both draws stay in the namespace's uniqueness pool.
	if !repo.assigned[repo.key(TypeIPP, ns.System, "770007")] {
		t.Error("override allocation must be recorded in the namespace pool")
	}
}

func TestAllocate_Range(t *testing.T) {
	repo := newMockRepo()
	ns := &Namespace{
		Name:     "vn-range",
		System:   "urn:test:vn",
		Type:     TypeVN,
		Mode:     ModeRange,
		RangeMin: i64p(500000),
		RangeMax: i64p(599999),
	}
	svc := newTestService(repo, &seqRand{vals: []int64{42}})

	alloc, err := svc.Allocate(context.Background(), ns)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if alloc.Value != "500042" {
		t.Errorf("value = %q, want 500042", alloc.Value)
	}
}

func TestAllocate_PoolExhausted(t *testing.T) {
	repo := newMockRepo()
	ns := patternNS("1.", TypeIPP)
	for d := 0; d < 10; d++ {
		repo.assigned[repo.key(TypeIPP, ns.System, fmt.Sprintf("1%d", d))] = true
	}
	svc := newTestService(repo, &seqRand{vals: make([]int64, maxAllocateAttempts)})

	_, err := svc.Allocate(context.Background(), ns)
	if diag.CodeOf(err) != diag.IdentifierPoolExhausted {
		t.Fatalf("err = %v, want IDENTIFIER_POOL_EXHAUSTED", err)
	}
}

func TestAllocate_INSNeverGenerated(t *testing.T) {
	svc := newTestService(newMockRepo(), &seqRand{})
	ns := &Namespace{Name: "ins", System: "urn:oid:1.2.250.1.213.1.4.8", Type: TypeINS, Mode: ModeExternal}

	if _, err := svc.Allocate(context.Background(), ns); err == nil {
		t.Fatal("expected error for external INS namespace")
	}
}

func TestValidate(t *testing.T) {
	svc := newTestService(newMockRepo(), &seqRand{})

	ins := &Namespace{Name: "ins", Type: TypeINS, Mode: ModeExternal}
	if err := svc.Validate(ins, "160025012345678"); err != nil {
		t.Errorf("valid INS rejected: %v", err)
	}
	if err := svc.Validate(ins, "12345"); diag.CodeOf(err) != diag.INSFormatInvalid {
		t.Errorf("short INS: err = %v, want INS_FORMAT_INVALID", err)
	}

	pat := patternNS("9...", TypeIPP)
	if err := svc.Validate(pat, "9123"); err != nil {
		t.Errorf("valid pattern value rejected: %v", err)
	}
	if err := svc.Validate(pat, "8123"); err == nil {
		t.Error("wrong prefix accepted")
	}
	if err := svc.Validate(pat, "91234"); err == nil {
		t.Error("wrong length accepted")
	}

	rng := &Namespace{Type: TypeVN, Mode: ModeRange, RangeMin: i64p(100), RangeMax: i64p(200)}
	if err := svc.Validate(rng, "150"); err != nil {
		t.Errorf("in-range value rejected: %v", err)
	}
	if err := svc.Validate(rng, "250"); err == nil {
		t.Error("out-of-range value accepted")
	}
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &seqRand{})
	ns := patternNS("9...", TypeIPP)

	if err := svc.Register(context.Background(), ns, "9100"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := svc.Register(context.Background(), ns, "9100")
	if diag.CodeOf(err) != diag.IdentifierCollision {
		t.Fatalf("duplicate Register: err = %v, want IDENTIFIER_COLLISION", err)
	}
}

func TestEstimateAvailable(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &seqRand{})
	ns := patternNS("9...", TypeIPP)
	for i := 0; i < 10; i++ {
		repo.assigned[repo.key(TypeIPP, ns.System, fmt.Sprintf("900%d", i))] = true
	}

	left, err := svc.EstimateAvailable(context.Background(), ns)
	if err != nil {
		t.Fatalf("EstimateAvailable: %v", err)
	}
	if left != 990 {
		t.Errorf("available = %d, want 990", left)
	}
}

func TestFormatCX(t *testing.T) {
	oid := "1.2.250.1.71.4.2.7"
	ns := &Namespace{System: "urn:system:ipp", OID: &oid, Type: TypeIPP}

	if got := FormatCX("9017", ns, ""); got != "9017^^^1.2.250.1.71.4.2.7^PI" {
		t.Errorf("FormatCX = %q", got)
	}
	if got := FormatCX("9017", ns, "FORCED"); got != "9017^^^FORCED^PI" {
		t.Errorf("FormatCX override = %q", got)
	}

	vn := &Namespace{System: "urn:system:vn", Type: TypeVN}
	if got := FormatCX("500042", vn, ""); got != "500042^^^urn:system:vn^VN" {
		t.Errorf("FormatCX no oid = %q", got)
	}
}
