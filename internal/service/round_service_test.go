package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
	"github.com/pancholabs/pancho-engine/internal/oracle"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	treasury = common.HexToAddress("0x0000000000000000000000000000000000000007")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

// fakeClock is a settable Clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) SetUnix(ts int64) { c.now = time.Unix(ts, 0).UTC() }

// memStore is an in-memory RoundStore + PositionStore + VaultStore that
// mirrors the transactional guards of the Postgres implementation.
type memStore struct {
	mu        sync.Mutex
	rounds    map[common.Hash]domain.Round
	vaults    map[common.Hash]domain.Vault
	positions map[common.Hash]domain.Position
}

func newMemStore() *memStore {
	return &memStore{
		rounds:    make(map[common.Hash]domain.Round),
		vaults:    make(map[common.Hash]domain.Vault),
		positions: make(map[common.Hash]domain.Position),
	}
}

func (m *memStore) Create(_ context.Context, round domain.Round, vaults [2]domain.Vault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[round.Key]; ok {
		return domain.ErrAlreadyExists
	}
	m.rounds[round.Key] = round
	for _, v := range vaults {
		m.vaults[v.Key] = v
	}
	return nil
}

func (m *memStore) Get(_ context.Context, key common.Hash) (domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[key]
	if !ok {
		return domain.Round{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Round, 0, len(m.rounds))
	for _, r := range m.rounds {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) ListLockable(_ context.Context, now int64) ([]domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Round
	for _, r := range m.rounds {
		if r.Status == domain.RoundOpen && r.LockWindowOpen(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListSettleable(_ context.Context, now int64) ([]domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Round
	for _, r := range m.rounds {
		if r.Status != domain.RoundSettled && r.EndTS <= now {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ApplyJoin(_ context.Context, round domain.Round, pos domain.Position, stake uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rounds[round.Key]
	if !ok || stored.Status != domain.RoundOpen {
		return domain.ErrRoundNotOpen
	}
	// Credits are relative to the stored rows, matching the SQL store.
	if pos.Side == domain.SideUp {
		stored.UpTotal += stake
	} else {
		stored.DownTotal += stake
	}
	stored.UpdatedAt = round.UpdatedAt
	m.rounds[round.Key] = stored

	p, ok := m.positions[pos.Key]
	if !ok {
		p = pos
		p.Amount = 0
	}
	p.Amount += stake
	p.UpdatedAt = pos.UpdatedAt
	m.positions[pos.Key] = p

	vk := domain.VaultKey(round.Key, pos.Side)
	v := m.vaults[vk]
	v.Balance += stake
	m.vaults[vk] = v
	return nil
}

func (m *memStore) ApplyLock(_ context.Context, round domain.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rounds[round.Key]
	if !ok || stored.Status != domain.RoundOpen {
		return domain.ErrRoundAlreadyLocked
	}
	m.rounds[round.Key] = round
	return nil
}

func (m *memStore) ApplySettle(_ context.Context, round domain.Round, feeFromUp, feeFromDown uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rounds[round.Key]
	if !ok || stored.Status == domain.RoundSettled {
		return domain.ErrRoundAlreadySettled
	}
	if err := m.debit(round.Key, domain.SideUp, feeFromUp); err != nil {
		return err
	}
	if err := m.debit(round.Key, domain.SideDown, feeFromDown); err != nil {
		return err
	}
	m.rounds[round.Key] = round
	return nil
}

func (m *memStore) ApplyClaim(_ context.Context, pos domain.Position, payFromUp, payFromDown uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.positions[pos.Key]
	if !ok || stored.Claimed {
		return domain.ErrAlreadyClaimed
	}
	if err := m.debit(pos.Round, domain.SideUp, payFromUp); err != nil {
		return err
	}
	if err := m.debit(pos.Round, domain.SideDown, payFromDown); err != nil {
		return err
	}
	m.positions[pos.Key] = pos
	return nil
}

// debit assumes m.mu is held.
func (m *memStore) debit(round common.Hash, side domain.Side, amount uint64) error {
	if amount == 0 {
		return nil
	}
	vk := domain.VaultKey(round, side)
	v := m.vaults[vk]
	if v.Balance < amount {
		return domain.ErrInsufficientVaultLiquidity
	}
	v.Balance -= amount
	m.vaults[vk] = v
	return nil
}

func (m *memStore) GetPosition(_ context.Context, key common.Hash) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[key]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListByRound(_ context.Context, round common.Hash, _ domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.positions {
		if p.Round == round {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListByUser(_ context.Context, user common.Address, _ domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.positions {
		if p.User == user {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetVault(_ context.Context, key common.Hash) (domain.Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[key]
	if !ok {
		return domain.Vault{}, domain.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Pair(_ context.Context, round common.Hash) (domain.Vault, domain.Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.vaults[domain.VaultKey(round, domain.SideUp)]
	if !ok {
		return domain.Vault{}, domain.Vault{}, domain.ErrNotFound
	}
	down, ok := m.vaults[domain.VaultKey(round, domain.SideDown)]
	if !ok {
		return domain.Vault{}, domain.Vault{}, domain.ErrNotFound
	}
	return up, down, nil
}

// positionReader adapts memStore to domain.PositionStore (Get collides with
// the round Get, so the adapter renames it).
type positionReader struct{ m *memStore }

func (p positionReader) Get(ctx context.Context, key common.Hash) (domain.Position, error) {
	return p.m.GetPosition(ctx, key)
}

func (p positionReader) ListByRound(ctx context.Context, round common.Hash, opts domain.ListOpts) ([]domain.Position, error) {
	return p.m.ListByRound(ctx, round, opts)
}

func (p positionReader) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	return p.m.ListByUser(ctx, user, opts)
}

// vaultReader adapts memStore to domain.VaultStore.
type vaultReader struct{ m *memStore }

func (v vaultReader) Get(ctx context.Context, key common.Hash) (domain.Vault, error) {
	return v.m.GetVault(ctx, key)
}

func (v vaultReader) Pair(ctx context.Context, round common.Hash) (domain.Vault, domain.Vault, error) {
	return v.m.Pair(ctx, round)
}

// memConfigStore is an in-memory ProtocolConfigStore.
type memConfigStore struct {
	mu  sync.Mutex
	cfg *domain.ProtocolConfig
}

func (s *memConfigStore) Init(_ context.Context, cfg domain.ProtocolConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return domain.ErrAlreadyExists
	}
	s.cfg = &cfg
	return nil
}

func (s *memConfigStore) Get(_ context.Context) (domain.ProtocolConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return domain.ProtocolConfig{}, domain.ErrNotFound
	}
	return *s.cfg, nil
}

func (s *memConfigStore) Update(_ context.Context, cfg domain.ProtocolConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return domain.ErrNotFound
	}
	s.cfg = &cfg
	return nil
}

// fakeBus discards events.
type fakeBus struct{}

func (fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeLock grants every acquisition unless held is set.
type fakeLock struct {
	held bool
}

func (l *fakeLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

// stubOracle returns a scripted price and counts reads.
type stubOracle struct {
	price oracle.Price
	err   error
	reads int
}

func (o *stubOracle) Read(context.Context, string, string, uint64) (oracle.Price, error) {
	o.reads++
	if o.err != nil {
		return oracle.Price{}, o.err
	}
	return o.price, nil
}

// engineFixture bundles a RoundService wired to in-memory fakes.
type engineFixture struct {
	svc    *RoundService
	store  *memStore
	cfg    *memConfigStore
	clock  *fakeClock
	oracle *stubOracle
	locks  *fakeLock
}

func newFixture(t *testing.T, feeBps uint16) *engineFixture {
	t.Helper()

	store := newMemStore()
	cfgStore := &memConfigStore{}
	clock := &fakeClock{now: time.Unix(1_000, 0).UTC()}
	stub := &stubOracle{price: oracle.Price{Price: 50_000, Expo: -8}}
	locks := &fakeLock{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := cfgStore.Init(context.Background(), domain.ProtocolConfig{
		Admin:             admin,
		Treasury:          treasury,
		OracleProgram:     "PythProgram11111111111111111111111111111111",
		FeeBps:            feeBps,
		OracleMaxAgeSlots: 25,
	}); err != nil {
		t.Fatalf("init config: %v", err)
	}

	svc := NewRoundService(
		store, positionReader{store}, vaultReader{store}, cfgStore,
		stub, locks, fakeBus{}, nil, nil, clock, logger,
	)
	return &engineFixture{svc: svc, store: store, cfg: cfgStore, clock: clock, oracle: stub, locks: locks}
}

// createRound opens a round with lock at t=2000 and end at t=3000.
func (f *engineFixture) createRound(t *testing.T) domain.Round {
	t.Helper()
	f.clock.SetUnix(1_000)
	round, err := f.svc.Create(context.Background(), admin, CreateParams{
		Market:        1,
		RoundID:       7,
		LockTS:        2_000,
		EndTS:         3_000,
		OracleAccount: "FeedAccount111111111111111111111111111111111",
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	return round
}

func (f *engineFixture) join(t *testing.T, user common.Address, side domain.Side, amount uint64) {
	t.Helper()
	if _, err := f.svc.Join(context.Background(), user, 1, 7, side, amount); err != nil {
		t.Fatalf("join %s %d: %v", side, amount, err)
	}
}

func TestCreateRound(t *testing.T) {
	tests := []struct {
		name    string
		caller  common.Address
		lockTS  int64
		endTS   int64
		wantErr error
	}{
		{name: "success", caller: admin, lockTS: 2_000, endTS: 3_000},
		{name: "non-admin rejected", caller: alice, lockTS: 2_000, endTS: 3_000, wantErr: domain.ErrUnauthorized},
		{name: "end before lock", caller: admin, lockTS: 2_000, endTS: 1_500, wantErr: domain.ErrInvalidSchedule},
		{name: "lock in the past", caller: admin, lockTS: 900, endTS: 3_000, wantErr: domain.ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 250)
			round, err := f.svc.Create(context.Background(), tt.caller, CreateParams{
				Market: 1, RoundID: 7, LockTS: tt.lockTS, EndTS: tt.endTS,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if round.Status != domain.RoundOpen {
				t.Errorf("status = %s, want open", round.Status)
			}
			if round.Winner != domain.SideNone {
				t.Errorf("winner = %s, want none", round.Winner)
			}
			up, down, err := f.store.Pair(context.Background(), round.Key)
			if err != nil {
				t.Fatalf("vaults missing: %v", err)
			}
			if up.Balance != 0 || down.Balance != 0 {
				t.Errorf("new vaults not empty: %d / %d", up.Balance, down.Balance)
			}
		})
	}
}

func TestCreateRoundDuplicate(t *testing.T) {
	f := newFixture(t, 250)
	f.createRound(t)
	_, err := f.svc.Create(context.Background(), admin, CreateParams{
		Market: 1, RoundID: 7, LockTS: 2_000, EndTS: 3_000,
	})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Create() error = %v, want %v", err, domain.ErrAlreadyExists)
	}
}

func TestJoinRound(t *testing.T) {
	f := newFixture(t, 250)
	round := f.createRound(t)

	f.join(t, alice, domain.SideUp, 600_000)
	f.join(t, bob, domain.SideDown, 400_000)
	f.join(t, alice, domain.SideUp, 100_000) // accumulates

	got, err := f.store.Get(context.Background(), round.Key)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.UpTotal != 700_000 || got.DownTotal != 400_000 {
		t.Errorf("totals = %d/%d, want 700000/400000", got.UpTotal, got.DownTotal)
	}

	// Conservation: side totals equal vault balances.
	up, down, err := f.store.Pair(context.Background(), round.Key)
	if err != nil {
		t.Fatalf("vaults: %v", err)
	}
	if up.Balance != got.UpTotal || down.Balance != got.DownTotal {
		t.Errorf("vault balances %d/%d diverge from totals %d/%d",
			up.Balance, down.Balance, got.UpTotal, got.DownTotal)
	}

	pos, err := f.store.GetPosition(context.Background(), domain.PositionKey(round.Key, alice, domain.SideUp))
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Amount != 700_000 {
		t.Errorf("position amount = %d, want 700000", pos.Amount)
	}
}

func TestJoinStaleSnapshotAccumulates(t *testing.T) {
	// Two writers both read the round before either committed, as can happen
	// when the distributed lock's TTL expires mid-operation. The store must
	// credit both stakes instead of letting the second snapshot overwrite
	// the first.
	f := newFixture(t, 250)
	round := f.createRound(t)

	stale := round // totals zero in both snapshots
	pos := domain.Position{
		Key:   domain.PositionKey(round.Key, alice, domain.SideUp),
		Round: round.Key,
		User:  alice,
		Side:  domain.SideUp,
	}

	ctx := context.Background()
	if err := f.store.ApplyJoin(ctx, stale, pos, 100); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := f.store.ApplyJoin(ctx, stale, pos, 100); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	got, err := f.store.Get(ctx, round.Key)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.UpTotal != 200 {
		t.Errorf("up total = %d, want 200", got.UpTotal)
	}
	p, err := f.store.GetPosition(ctx, pos.Key)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if p.Amount != 200 {
		t.Errorf("position amount = %d, want 200", p.Amount)
	}
	up, _, err := f.store.Pair(ctx, round.Key)
	if err != nil {
		t.Fatalf("vaults: %v", err)
	}
	if up.Balance != 200 {
		t.Errorf("vault balance = %d, want 200", up.Balance)
	}
}

func TestJoinRejections(t *testing.T) {
	f := newFixture(t, 250)
	f.createRound(t)

	tests := []struct {
		name    string
		now     int64
		side    domain.Side
		amount  uint64
		wantErr error
	}{
		{name: "zero stake", now: 1_500, side: domain.SideUp, amount: 0, wantErr: domain.ErrInvalidStake},
		{name: "invalid side", now: 1_500, side: domain.SideNone, amount: 100, wantErr: domain.ErrInvalidSide},
		{name: "join at lock_ts", now: 2_000, side: domain.SideUp, amount: 100, wantErr: domain.ErrJoinWindowClosed},
		{name: "join after lock_ts", now: 2_500, side: domain.SideUp, amount: 100, wantErr: domain.ErrJoinWindowClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.clock.SetUnix(tt.now)
			_, err := f.svc.Join(context.Background(), alice, 1, 7, tt.side, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Join() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLockWindow(t *testing.T) {
	tests := []struct {
		name    string
		now     int64
		wantErr error
	}{
		{name: "too early", now: 1_999, wantErr: domain.ErrTooEarlyToLock},
		{name: "at lock_ts", now: 2_000},
		{name: "at the grace boundary", now: 2_000 + domain.LockGraceSeconds},
		{name: "past the grace boundary", now: 2_000 + domain.LockGraceSeconds + 1, wantErr: domain.ErrLockWindowExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 250)
			f.createRound(t)
			f.clock.SetUnix(tt.now)

			round, err := f.svc.Lock(context.Background(), 1, 7)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Lock() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if round.Status != domain.RoundLocked {
				t.Errorf("status = %s, want locked", round.Status)
			}
			if round.StartPrice != 50_000 {
				t.Errorf("start price = %d, want 50000", round.StartPrice)
			}
		})
	}
}

func TestLockTwice(t *testing.T) {
	f := newFixture(t, 250)
	f.createRound(t)
	f.clock.SetUnix(2_000)

	if _, err := f.svc.Lock(context.Background(), 1, 7); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	_, err := f.svc.Lock(context.Background(), 1, 7)
	if !errors.Is(err, domain.ErrRoundAlreadyLocked) {
		t.Fatalf("second Lock() error = %v, want %v", err, domain.ErrRoundAlreadyLocked)
	}
}

func TestSettleLockedRound(t *testing.T) {
	f := newFixture(t, 250)
	round := f.createRound(t)
	f.clock.SetUnix(1_500)
	f.join(t, alice, domain.SideUp, 600_000)
	f.join(t, bob, domain.SideDown, 400_000)

	f.clock.SetUnix(2_000)
	if _, err := f.svc.Lock(context.Background(), 1, 7); err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Settle before end time is rejected.
	f.clock.SetUnix(2_500)
	if _, err := f.svc.Settle(context.Background(), 1, 7); !errors.Is(err, domain.ErrTooEarlyToSettle) {
		t.Fatalf("early Settle() error = %v, want %v", err, domain.ErrTooEarlyToSettle)
	}

	// Price moved up; Up wins.
	f.oracle.price = oracle.Price{Price: 51_000, Expo: -8}
	f.clock.SetUnix(3_000)
	settled, err := f.svc.Settle(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Winner != domain.SideUp {
		t.Errorf("winner = %s, want up", settled.Winner)
	}
	if settled.FeeLamports != 25_000 || settled.Distributable != 975_000 {
		t.Errorf("fee/distributable = %d/%d, want 25000/975000",
			settled.FeeLamports, settled.Distributable)
	}

	// The fee was drained from the vault pair, Up vault first.
	up, down, err := f.store.Pair(context.Background(), round.Key)
	if err != nil {
		t.Fatalf("vaults: %v", err)
	}
	if up.Balance != 575_000 || down.Balance != 400_000 {
		t.Errorf("post-fee balances = %d/%d, want 575000/400000", up.Balance, down.Balance)
	}

	// Settling again fails cleanly without re-extracting the fee.
	if _, err := f.svc.Settle(context.Background(), 1, 7); !errors.Is(err, domain.ErrRoundAlreadySettled) {
		t.Fatalf("second Settle() error = %v, want %v", err, domain.ErrRoundAlreadySettled)
	}
	up, down, _ = f.store.Pair(context.Background(), round.Key)
	if up.Balance+down.Balance != 975_000 {
		t.Errorf("balances changed on rejected settle: %d", up.Balance+down.Balance)
	}
}

func TestSettleMissedLockWindow(t *testing.T) {
	f := newFixture(t, 250)
	f.createRound(t)
	f.clock.SetUnix(1_500)
	f.join(t, alice, domain.SideUp, 600_000)
	f.join(t, bob, domain.SideDown, 400_000)

	// Nobody locked in time; the round settles directly with no winner and
	// no oracle read.
	f.clock.SetUnix(3_000)
	settled, err := f.svc.Settle(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Winner != domain.SideNone {
		t.Errorf("winner = %s, want none", settled.Winner)
	}
	if f.oracle.reads != 0 {
		t.Errorf("oracle reads = %d, want 0 on the no-contest path", f.oracle.reads)
	}
}

func TestClaimLifecycle(t *testing.T) {
	f := newFixture(t, 0) // zero fee so payouts sum to the full pool
	round := f.createRound(t)
	f.clock.SetUnix(1_500)
	f.join(t, alice, domain.SideUp, 600_000)
	f.join(t, bob, domain.SideDown, 400_000)

	// Claim before settlement is rejected.
	f.clock.SetUnix(2_000)
	if _, err := f.svc.Claim(context.Background(), alice, 1, 7, domain.SideUp); !errors.Is(err, domain.ErrRoundNotSettled) {
		t.Fatalf("early Claim() error = %v, want %v", err, domain.ErrRoundNotSettled)
	}

	if _, err := f.svc.Lock(context.Background(), 1, 7); err != nil {
		t.Fatalf("lock: %v", err)
	}
	f.oracle.price = oracle.Price{Price: 51_000, Expo: -8}
	f.clock.SetUnix(3_000)
	if _, err := f.svc.Settle(context.Background(), 1, 7); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Winner recovers the whole pool.
	payout, err := f.svc.Claim(context.Background(), alice, 1, 7, domain.SideUp)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 1_000_000 {
		t.Errorf("payout = %d, want 1000000", payout)
	}

	// Second claim fails and moves no value.
	if _, err := f.svc.Claim(context.Background(), alice, 1, 7, domain.SideUp); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second Claim() error = %v, want %v", err, domain.ErrAlreadyClaimed)
	}

	// Loser gets zero but the claimed flag still flips.
	payout, err = f.svc.Claim(context.Background(), bob, 1, 7, domain.SideDown)
	if err != nil {
		t.Fatalf("losing claim: %v", err)
	}
	if payout != 0 {
		t.Errorf("losing payout = %d, want 0", payout)
	}
	pos, err := f.store.GetPosition(context.Background(), domain.PositionKey(round.Key, bob, domain.SideDown))
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.Claimed {
		t.Error("losing position not marked claimed")
	}

	// Conservation: the vaults are fully drained with zero fee.
	up, down, err := f.store.Pair(context.Background(), round.Key)
	if err != nil {
		t.Fatalf("vaults: %v", err)
	}
	if up.Balance+down.Balance != 0 {
		t.Errorf("residual balance = %d, want 0", up.Balance+down.Balance)
	}
}

func TestClaimConservationWithFee(t *testing.T) {
	f := newFixture(t, 250)
	round := f.createRound(t)
	f.clock.SetUnix(1_500)
	f.join(t, alice, domain.SideUp, 600_000)
	f.join(t, bob, domain.SideDown, 400_000)

	f.clock.SetUnix(2_000)
	if _, err := f.svc.Lock(context.Background(), 1, 7); err != nil {
		t.Fatalf("lock: %v", err)
	}
	f.oracle.price = oracle.Price{Price: 49_000, Expo: -8}
	f.clock.SetUnix(3_000)
	settled, err := f.svc.Settle(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Winner != domain.SideDown {
		t.Fatalf("winner = %s, want down", settled.Winner)
	}

	alicePayout, err := f.svc.Claim(context.Background(), alice, 1, 7, domain.SideUp)
	if err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	bobPayout, err := f.svc.Claim(context.Background(), bob, 1, 7, domain.SideDown)
	if err != nil {
		t.Fatalf("bob claim: %v", err)
	}

	// fee + payouts + dust == original pool.
	up, down, err := f.store.Pair(context.Background(), round.Key)
	if err != nil {
		t.Fatalf("vaults: %v", err)
	}
	dust := up.Balance + down.Balance
	total := settled.FeeLamports + alicePayout + bobPayout + dust
	if total != 1_000_000 {
		t.Errorf("fee(%d) + payouts(%d+%d) + dust(%d) = %d, want 1000000",
			settled.FeeLamports, alicePayout, bobPayout, dust, total)
	}
}

func TestClaimUnknownPosition(t *testing.T) {
	f := newFixture(t, 250)
	f.createRound(t)
	f.clock.SetUnix(3_000)
	if _, err := f.svc.Settle(context.Background(), 1, 7); err != nil {
		t.Fatalf("settle: %v", err)
	}

	_, err := f.svc.Claim(context.Background(), alice, 1, 7, domain.SideUp)
	if !errors.Is(err, domain.ErrNothingToClaim) {
		t.Fatalf("Claim() error = %v, want %v", err, domain.ErrNothingToClaim)
	}
}

func TestPauseGate(t *testing.T) {
	f := newFixture(t, 250)
	f.createRound(t)
	f.clock.SetUnix(1_500)
	f.join(t, alice, domain.SideUp, 600_000)
	f.join(t, bob, domain.SideDown, 400_000)

	f.clock.SetUnix(2_000)
	if _, err := f.svc.Lock(context.Background(), 1, 7); err != nil {
		t.Fatalf("lock: %v", err)
	}
	f.clock.SetUnix(3_000)
	if _, err := f.svc.Settle(context.Background(), 1, 7); err != nil {
		t.Fatalf("settle: %v", err)
	}

	cfg, _ := f.cfg.Get(context.Background())
	cfg.Paused = true
	if err := f.cfg.Update(context.Background(), cfg); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := f.svc.Create(context.Background(), admin, CreateParams{
		Market: 1, RoundID: 8, LockTS: 4_000, EndTS: 5_000,
	}); !errors.Is(err, domain.ErrProtocolPaused) {
		t.Errorf("Create() under pause error = %v, want %v", err, domain.ErrProtocolPaused)
	}
	if _, err := f.svc.Join(context.Background(), alice, 1, 7, domain.SideUp, 100); !errors.Is(err, domain.ErrProtocolPaused) {
		t.Errorf("Join() under pause error = %v, want %v", err, domain.ErrProtocolPaused)
	}

	// Claim carries no pause gate: funds stay withdrawable.
	payout, err := f.svc.Claim(context.Background(), alice, 1, 7, domain.SideUp)
	if err != nil {
		t.Fatalf("Claim() under pause: %v", err)
	}
	if payout == 0 {
		t.Error("expected a non-zero payout under pause")
	}
}

func TestRoundLockContention(t *testing.T) {
	f := newFixture(t, 250)
	f.createRound(t)
	f.clock.SetUnix(1_500)
	f.locks.held = true

	_, err := f.svc.Join(context.Background(), alice, 1, 7, domain.SideUp, 100)
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Join() error = %v, want %v", err, domain.ErrLockHeld)
	}
}
