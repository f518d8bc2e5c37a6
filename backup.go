package scorecard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Backup is the remote copy of wallet state. The transport encrypts it.
type Backup struct {
	Proofs       []*Proof             `json:"proofs"`
	Mints        []*Mint              `json:"mints"`
	Transactions []*WalletTransaction `json:"transactions"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func NewBackup(state WalletState) *Backup {
	updated := time.Time{}
	for _, tx := range state.Transactions {
		updated = maxDate(updated, tx.Timestamp)
	}

	return &Backup{
		Proofs:       cloneProofs(state.Proofs),
		Mints:        cloneMints(state.Mints),
		Transactions: cloneTransactions(state.Transactions),
		UpdatedAt:    maxDate(updated, time.Now()),
	}
}

func (b *Backup) State() WalletState {
	return WalletState{
		Proofs:       cloneProofs(b.Proofs),
		Transactions: cloneTransactions(b.Transactions),
		Mints:        cloneMints(b.Mints),
	}
}

// MergeState combines local state with a remote backup without creating or
// dropping proofs. It is idempotent.
func MergeState(local, remote WalletState) WalletState {
	return WalletState{
		Proofs:       Dedupe(local.Proofs, remote.Proofs),
		Transactions: MergeTransactions(local.Transactions, remote.Transactions),
		Mints:        MergeMints(local.Mints, remote.Mints),
	}
}

// MergeMints prefers the remote list, unless it is empty.
func MergeMints(local, remote []*Mint) []*Mint {
	if len(remote) == 0 {
		return normalizeMints(local)
	}

	return normalizeMints(remote)
}

type BackupOptions struct {
	// Delay coalesces bursts of changes into one push.
	Delay     time.Duration
	Timeout   time.Duration
	Scheduler Scheduler
}

// BackupSyncer pushes the wallet state to the remote backup, debounced.
//
// State machine: a change marks the syncer dirty and schedules a flush
// unless one is already scheduled or running. A flush clears dirty and
// pushes whatever the store holds at that moment. Changes landing while a
// push is in flight schedule another flush when it returns.
type BackupSyncer struct {
	store     *ProofStore
	transport BackupTransport
	delay     time.Duration
	timeout   time.Duration
	scheduler Scheduler

	mu        sync.Mutex
	identity  string
	dirty     bool
	scheduled bool
	flushing  bool
	timer     Timer
}

func NewBackupSyncer(store *ProofStore, transport BackupTransport, opts BackupOptions) *BackupSyncer {
	if opts.Delay <= 0 {
		opts.Delay = 2 * time.Second
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler
	}

	b := &BackupSyncer{
		store:     store,
		transport: transport,
		delay:     opts.Delay,
		timeout:   opts.Timeout,
		scheduler: opts.Scheduler,
	}

	store.OnChange(func(WalletState) {
		b.MarkDirty()
	})

	return b
}

// SetIdentity selects whose backup is written. Guests have none.
func (b *BackupSyncer) SetIdentity(id *Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == nil || id.Guest {
		b.identity = ""
		b.dirty = false
		b.cancelLocked()
		return
	}

	b.identity = id.PubKey
}

func (b *BackupSyncer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dirty
}

func (b *BackupSyncer) Scheduled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.scheduled
}

func (b *BackupSyncer) MarkDirty() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.identity == "" {
		return
	}

	b.dirty = true
	b.scheduleLocked()
}

func (b *BackupSyncer) scheduleLocked() {
	if b.scheduled || b.flushing || b.identity == "" {
		return
	}

	b.scheduled = true
	b.timer = b.scheduler.AfterFunc(b.delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		_ = b.Flush(ctx)
	})
}

func (b *BackupSyncer) cancelLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	b.scheduled = false
}

// Flush pushes the current state if there are unpushed changes.
func (b *BackupSyncer) Flush(ctx context.Context) error {
	b.mu.Lock()
	b.cancelLocked()
	if !b.dirty || b.identity == "" || b.flushing {
		b.mu.Unlock()
		return nil
	}

	identity := b.identity
	b.dirty = false
	b.flushing = true
	b.mu.Unlock()

	err := b.Push(ctx, identity, b.store.Snapshot())

	b.mu.Lock()
	b.flushing = false
	if err != nil && b.identity == identity {
		// stays dirty, the next change retries
		b.dirty = true
	} else if b.dirty {
		b.scheduleLocked()
	}
	b.mu.Unlock()

	return err
}

// Push writes state to the remote backup. Failures are logged and
// returned, never rolled back locally.
func (b *BackupSyncer) Push(ctx context.Context, identity string, state WalletState) error {
	blob, err := json.Marshal(NewBackup(state))
	if err != nil {
		return fmt.Errorf("marshal backup failed: %w", err)
	}

	if err := b.transport.PublishBackup(ctx, identity, blob); err != nil {
		slog.Warn("backup push failed", slog.String("identity", identity), slog.Any("err", err))
		backupPushes.WithLabelValues("error").Inc()
		return fmt.Errorf("publish backup failed: %w", err)
	}

	slog.Debug("backup pushed",
		slog.String("identity", identity),
		slog.Int("proofs", len(state.Proofs)),
		slog.Int("transactions", len(state.Transactions)),
	)
	backupPushes.WithLabelValues("ok").Inc()
	return nil
}

// Pull fetches the remote backup of identity, nil when none exists.
func (b *BackupSyncer) Pull(ctx context.Context, identity string) (*Backup, error) {
	blob, err := b.transport.FetchBackup(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("fetch backup failed: %w", err)
	}

	if len(blob) == 0 {
		return nil, nil
	}

	var backup Backup
	if err := json.Unmarshal(blob, &backup); err != nil {
		return nil, fmt.Errorf("decode backup failed: %w", err)
	}

	return &backup, nil
}

// MergeOnLogin pulls the backup of identity and folds it into the store.
func (b *BackupSyncer) MergeOnLogin(ctx context.Context, identity string) (bool, error) {
	backup, err := b.Pull(ctx, identity)
	if err != nil {
		return false, err
	}

	if backup == nil {
		slog.Info("no remote backup", slog.String("identity", identity))
		return false, nil
	}

	unlock, err := b.store.Lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	changed := b.store.Merge(backup)
	slog.Info("merged remote backup",
		slog.String("identity", identity),
		slog.Bool("changed", changed),
		slog.Time("updated_at", backup.UpdatedAt),
	)

	return changed, nil
}

func (b *BackupSyncer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancelLocked()
}
