// Package app wires configuration into the server and client tiers used by
// the statesync command.
package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"statesync/internal/config"
	"statesync/internal/database"
	"statesync/internal/endpoint"
	"statesync/internal/identity"
	"statesync/internal/kv"
	"statesync/internal/model"
	"statesync/internal/vault"
)

// ErrNoVault is returned by Export and Import when no vault is configured.
var ErrNoVault = errors.New("no vaults configured")

// ErrBackupUnsupported is returned by BackupDatabase for databases that
// cannot be copied to a file.
var ErrBackupUnsupported = errors.New("database backup is only supported for sqlite")

// ErrUnknownType is returned for entity names nothing is registered under.
var ErrUnknownType = errors.New("unknown type")

// Option configures an App or a Client.
type Option func(*options)

type options struct {
	logger model.Logger
	sealer kv.Sealer
	clock  model.Clock
	ids    model.IDGenerator
}

// WithLogger replaces the file logger built from the config.
func WithLogger(l model.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSealer sets the sealer used by encrypted filesystem stores.
func WithSealer(s kv.Sealer) Option {
	return func(o *options) { o.sealer = s }
}

func WithClock(c model.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithIDGenerator(g model.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

func buildOptions(opts []Option) options {
	o := options{clock: model.RealClock{}, ids: model.UUIDGenerator{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// snapshotter moves one entity's table to and from a vault snapshot.
type snapshotter struct {
	export  func(ctx context.Context) (data []byte, n int, err error)
	restore func(ctx context.Context, data []byte) (imported, skipped int, err error)
}

// App is the server tier: backing tables for every catalog type, the REST
// dispatcher in front of them, and vault snapshots.
type App struct {
	cfg        *config.Config
	db         database.Database
	cacheStore kv.Store
	vault      vault.Vault
	registry   *endpoint.Registry
	dispatcher *endpoint.Dispatcher
	snapshots  map[string]snapshotter
	logger     model.Logger
	clock      model.Clock
	ids        model.IDGenerator
	closers    []io.Closer
}

// New builds the server tier from cfg. The caller must call Close.
func New(cfg *config.Config, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := buildOptions(opts)

	a := &App{
		cfg:       cfg,
		registry:  endpoint.NewRegistry(),
		snapshots: make(map[string]snapshotter),
		logger:    o.logger,
		clock:     o.clock,
		ids:       o.ids,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.logger == nil {
		l, f, err := newLogger(cfg.LogDir, newRunID(o.clock.Now()), cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		a.closers = append(a.closers, f)
		a.logger = &slogAdapter{l: l}
	}

	a.db, err = database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.closers = append(a.closers, a.db)
	if sdb, ok := a.db.(*database.SQLiteDatabase); ok {
		if err := sdb.CheckMigrations(); err != nil {
			return nil, fmt.Errorf("database schema out of date: %w", err)
		}
	}

	store, closer, err := openStore(cfg.Cache.Store, sharedDB(a.db), o.sealer)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	a.cacheStore = store
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	if len(cfg.Vaults) > 0 {
		a.vault, err = vault.NewVaultFromConfig(context.Background(), cfg.Vaults[0])
		if err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
	}

	if err := a.registerCatalog(); err != nil {
		return nil, err
	}

	a.dispatcher = endpoint.NewDispatcher(a.registry,
		endpoint.WithIdentity(identity.NewHeader(cfg.Server.IdentityHeader)),
		endpoint.WithLogger(a.logger),
		endpoint.WithClock(a.clock),
		endpoint.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	return a, nil
}

// Types returns the registered types and their fields.
func (a *App) Types() []endpoint.TypeInfo { return a.registry.Types() }

// Handler returns the REST surface.
func (a *App) Handler() http.Handler { return a.dispatcher.Handler() }

// Feed returns the change feed mutations are published on.
func (a *App) Feed() *endpoint.Feed { return a.dispatcher.Feed() }

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully within the configured timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	a.logger.Info("server listening", "addr", ln.Addr().String(), "types", a.registry.Names())

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down server")
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Export writes every record of name to the vault as a JSON array, with the
// current unix time as the snapshot version. It returns the record count.
func (a *App) Export(ctx context.Context, name string) (n int, err error) {
	snap, err := a.snapshotterFor(name)
	if err != nil {
		return 0, err
	}
	op, err := startOperation(ctx, a.db, "export", name)
	if err != nil {
		return 0, err
	}
	defer func() {
		if ferr := op.Finish(ctx, err); ferr != nil && err == nil {
			err = ferr
		}
	}()

	data, n, err := snap.export(ctx)
	if err != nil {
		return 0, fmt.Errorf("exporting %s: %w", name, err)
	}
	version := a.clock.Now().Unix()
	if prev, err := a.vault.GetSnapshotVersion(name); err == nil && prev > version {
		a.logger.Warn("vault holds a newer snapshot", "entity", name, "vault_version", prev, "version", version)
	}
	if err := a.vault.PutSnapshot(name, bytes.NewReader(data), int64(len(data)), version); err != nil {
		return 0, fmt.Errorf("uploading %s snapshot: %w", name, err)
	}
	a.logger.Info("exported snapshot", "entity", name, "records", n, "version", version)
	return n, nil
}

// Import reads the vault snapshot of name back into its table. Records whose
// id already exists are skipped, not overwritten.
func (a *App) Import(ctx context.Context, name string) (imported, skipped int, err error) {
	snap, err := a.snapshotterFor(name)
	if err != nil {
		return 0, 0, err
	}
	op, err := startOperation(ctx, a.db, "import", name)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if ferr := op.Finish(ctx, err); ferr != nil && err == nil {
			err = ferr
		}
	}()

	var buf bytes.Buffer
	if err := a.vault.GetSnapshot(name, &buf); err != nil {
		return 0, 0, fmt.Errorf("downloading %s snapshot: %w", name, err)
	}
	imported, skipped, err = snap.restore(ctx, buf.Bytes())
	if err != nil {
		return 0, 0, fmt.Errorf("importing %s: %w", name, err)
	}
	a.logger.Info("imported snapshot", "entity", name, "imported", imported, "skipped", skipped)
	return imported, skipped, nil
}

// BackupDatabase copies the sqlite database to dest. The copy is journaled
// as a "backup" operation.
func (a *App) BackupDatabase(ctx context.Context, dest string) (err error) {
	sdb, ok := a.db.(*database.SQLiteDatabase)
	if !ok || sdb.Path() == ":memory:" {
		return ErrBackupUnsupported
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%s already exists", dest)
	}
	op, err := startOperation(ctx, a.db, "backup", dest)
	if err != nil {
		return err
	}
	defer func() {
		if ferr := op.Finish(ctx, err); ferr != nil && err == nil {
			err = ferr
		}
	}()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if err := sdb.BackupTo(dest); err != nil {
		return err
	}
	a.logger.Info("database backed up", "path", dest)
	return nil
}

// History returns the most recent journaled operations.
func (a *App) History(ctx context.Context, limit int) ([]*model.Operation, error) {
	return a.db.ListOperations(ctx, limit)
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	return closeAll(a.closers)
}

func (a *App) snapshotterFor(name string) (snapshotter, error) {
	snap, ok := a.snapshots[name]
	if !ok {
		return snapshotter{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	if a.vault == nil {
		return snapshotter{}, ErrNoVault
	}
	return snap, nil
}

func (a *App) readOnly(name string) bool {
	return slices.Contains(a.cfg.Server.ReadOnly, name)
}

// systemOwner is the identity bulk operations run as.
func (a *App) systemOwner() string {
	if a.cfg.OwnerID != "" {
		return a.cfg.OwnerID
	}
	return "statesync"
}

func sharedDB(db database.Database) *sql.DB {
	if sdb, ok := db.(*database.SQLiteDatabase); ok {
		return sdb.DB()
	}
	return nil
}

// openStore builds a kv store. A sqlite store with its own path gets a
// private migrated database, returned as the closer; without a path it
// shares shared.
func openStore(cfg config.StoreConfig, shared *sql.DB, sealer kv.Sealer) (kv.Store, io.Closer, error) {
	if cfg.Type == "sqlite" && cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, nil, fmt.Errorf("creating store directory: %w", err)
		}
		db, err := database.NewSQLiteDatabase(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return kv.NewSQLiteStore(db.DB()), db, nil
	}
	store, err := kv.NewStoreFromConfig(cfg, shared, sealer)
	if err != nil {
		return nil, nil, err
	}
	return store, nil, nil
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
