package authcore

import (
	"errors"
	"log"
	"time"

	"github.com/MrEthical07/authcore/cipher"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder collects configuration and collaborators for an Engine. A Builder
// can be built once.
type Builder struct {
	config Config

	backend    session.Backend
	principals PrincipalStore
	auditSink  AuditSink
	logger     *log.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. The Builder keeps a private copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the session backend.
func (b *Builder) WithBackend(backend session.Backend) *Builder {
	b.backend = backend
	return b
}

// WithRedis stores sessions in Redis through client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	if client == nil {
		b.backend = nil
		return b
	}
	b.backend = session.NewRedisBackend(client)
	return b
}

// WithPrincipalStore sets the identity lookup used to resolve token subjects.
func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.principals = store
	return b
}

// WithAuditSink sets the destination for audit events. Audit must also be
// enabled in the configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for warnings. Defaults to log.Default().
func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for token issue and validation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.principals == nil {
		return nil, errors.New("principal store is required")
	}
	if cfg.Mode == ModeStateful && b.backend == nil {
		return nil, errors.New("stateful mode requires a session backend")
	}

	logger := b.logger
	if logger == nil {
		logger = log.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	tokens, err := jwt.NewManager(jwt.Config{
		DefaultTTL:    cfg.Token.DefaultTTL,
		SigningMethod: cfg.Token.SigningMethod,
		PrivateKey:    cfg.Token.SigningKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		SubjectClaim:  cfg.Token.SubjectClaim,
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:     cfg,
		tokens:     tokens,
		tokenTTL:   cfg.Token.DefaultTTL,
		principals: b.principals,
		logger:     logger,
		metrics:    NewMetrics(cfg.Metrics),
	}

	if b.backend != nil {
		e.sessions, err = session.NewStore(b.backend, session.Config{Prefix: cfg.Session.Prefix, TTL: cfg.Session.TTL})
		if err != nil {
			return nil, err
		}
	}

	if len(cfg.Cipher.Key) > 0 {
		c, err := cipher.New(cfg.Cipher.Key)
		if err != nil {
			return nil, err
		}
		opts := []cipher.FieldOption{cipher.WithLogger(logger), cipher.WithFallbackHook(e.noteFallback)}
		if len(cfg.Cipher.LegacyECBKey) > 0 {
			legacy, err := cipher.NewLegacyECB(cfg.Cipher.LegacyECBKey)
			if err != nil {
				return nil, err
			}
			opts = append(opts, cipher.WithLegacyECB(legacy))
		}
		if cfg.Cipher.StrictTags {
			opts = append(opts, cipher.WithStrictTags())
		}
		if e.fields, err = cipher.NewFieldCodec(c, opts...); err != nil {
			return nil, err
		}
	}

	if e.stateless, err = NewStatelessGate(tokens, b.principals); err != nil {
		return nil, err
	}
	if e.sessions != nil {
		if e.stateful, err = NewStatefulGate(tokens, e.sessions, b.principals); err != nil {
			return nil, err
		}
	}

	e.audit = newAuditDispatcher(cfg.Audit, b.auditSink, now, logger)
	b.built = true
	return e, nil
}
