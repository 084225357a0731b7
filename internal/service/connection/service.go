// Package connection tracks the database sessions opened for each owner URI.
package connection

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"querydeck/internal/domain"
	"querydeck/internal/engine"
	"querydeck/internal/jsonrpc"
)

// Opener opens one session for a canonical driver name.
type Opener func(ctx context.Context, driver, dsn string) (domain.Conn, error)

// EngineOpener opens sessions through the engine package.
func EngineOpener(opts engine.Options) Opener {
	return func(ctx context.Context, driver, dsn string) (domain.Conn, error) {
		return engine.Open(ctx, driver, dsn, opts)
	}
}

// owner holds the target of one owner URI and its sessions by purpose.
type owner struct {
	id     string
	driver string
	dsn    string

	mu    sync.Mutex
	conns map[domain.ConnectionPurpose]domain.Conn
}

// Service implements domain.ConnectionProvider. Each owner URI holds at most
// one session per purpose; sessions other than the default one are opened
// on first use.
type Service struct {
	open     Opener
	profiles map[string]Profile
	logger   *slog.Logger

	mu     sync.Mutex
	owners map[string]*owner
}

var _ domain.ConnectionProvider = (*Service)(nil)

// NewService creates a connection service.
func NewService(open Opener, profiles map[string]Profile, logger *slog.Logger) *Service {
	if profiles == nil {
		profiles = map[string]Profile{}
	}
	return &Service{
		open:     open,
		profiles: profiles,
		logger:   logger.With("component", "connection"),
		owners:   make(map[string]*owner),
	}
}

// Profiles returns the configured profile names in sorted order.
func (s *Service) Profiles() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) resolve(d ConnectionDetails) (Profile, error) {
	if d.Profile != "" {
		p, ok := s.profiles[d.Profile]
		if !ok {
			return Profile{}, domain.ErrNotFound("connection profile %q not found", d.Profile)
		}
		return p, nil
	}
	driver, err := engine.NormalizeDriver(d.Driver)
	if err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(d.DSN) == "" {
		return Profile{}, domain.ErrValidation("connection dsn is required")
	}
	return Profile{Driver: driver, DSN: d.DSN}, nil
}

// Connect opens the default session for p.OwnerURI, replacing any previous
// target of that owner.
func (s *Service) Connect(ctx context.Context, p ConnectParams) (ConnectResult, error) {
	if p.OwnerURI == "" {
		return ConnectResult{}, domain.ErrValidation("ownerUri is required")
	}
	target, err := s.resolve(p.Connection)
	if err != nil {
		return ConnectResult{}, err
	}

	conn, err := s.open(ctx, target.Driver, target.DSN)
	if err != nil {
		return ConnectResult{}, domain.ErrConnectionUnavailable(err, "connect %s: %v", p.OwnerURI, err)
	}

	o := &owner{
		id:     uuid.New().String(),
		driver: target.Driver,
		dsn:    target.DSN,
		conns:  map[domain.ConnectionPurpose]domain.Conn{domain.PurposeDefault: conn},
	}
	s.mu.Lock()
	prev := s.owners[p.OwnerURI]
	s.owners[p.OwnerURI] = o
	s.mu.Unlock()

	if prev != nil {
		s.closeOwner(ctx, p.OwnerURI, prev)
	}
	s.logger.Info("connected", "owner_uri", p.OwnerURI, "driver", target.Driver, "connection_id", o.id)
	return ConnectResult{OwnerURI: p.OwnerURI, ConnectionID: o.id, Driver: target.Driver}, nil
}

// Disconnect closes every session of ownerURI. It reports whether the owner
// was connected.
func (s *Service) Disconnect(ctx context.Context, ownerURI string) bool {
	s.mu.Lock()
	o, ok := s.owners[ownerURI]
	delete(s.owners, ownerURI)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.closeOwner(ctx, ownerURI, o)
	s.logger.Info("disconnected", "owner_uri", ownerURI)
	return true
}

// GetConnection returns the session ownerURI uses for purpose, opening it
// if needed.
func (s *Service) GetConnection(ctx context.Context, ownerURI string, purpose domain.ConnectionPurpose) (domain.Conn, error) {
	s.mu.Lock()
	o, ok := s.owners[ownerURI]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrConnectionUnavailable(nil, "no connection is associated with %s", ownerURI)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conns == nil {
		return nil, domain.ErrConnectionUnavailable(nil, "connection for %s was closed", ownerURI)
	}
	if conn, ok := o.conns[purpose]; ok {
		return conn, nil
	}
	conn, err := s.open(ctx, o.driver, o.dsn)
	if err != nil {
		return nil, domain.ErrConnectionUnavailable(err, "open %s connection for %s: %v", purpose, ownerURI, err)
	}
	o.conns[purpose] = conn
	s.logger.Debug("opened connection", "owner_uri", ownerURI, "purpose", string(purpose))
	return conn, nil
}

// Close disconnects every owner.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	owners := s.owners
	s.owners = make(map[string]*owner)
	s.mu.Unlock()
	for uri, o := range owners {
		s.closeOwner(ctx, uri, o)
	}
}

func (s *Service) closeOwner(ctx context.Context, ownerURI string, o *owner) {
	o.mu.Lock()
	conns := o.conns
	o.conns = nil
	o.mu.Unlock()
	for purpose, conn := range conns {
		if err := conn.Close(ctx); err != nil {
			s.logger.Warn("close connection failed", "owner_uri", ownerURI, "purpose", string(purpose), "error", err)
		}
	}
}

// Register installs the connection request handlers.
func (s *Service) Register(reg *jsonrpc.Registry) {
	reg.Handle(MethodConnect, jsonrpc.Typed(s.Connect))
	reg.Handle(MethodDisconnect, jsonrpc.Typed(func(ctx context.Context, p DisconnectParams) (bool, error) {
		return s.Disconnect(ctx, p.OwnerURI), nil
	}))
}
