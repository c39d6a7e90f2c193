package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/idplatform/oauthcore/instrumentation"
	"github.com/idplatform/oauthcore/registry"
	"github.com/idplatform/oauthcore/security"
	"github.com/idplatform/oauthcore/storage"
)

// tokenLogLength is the number of characters to include when logging
// code and token prefixes
const tokenLogLength = 8

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the authorization-code and refresh-token grant logic.
// It coordinates the client registry and the code and token stores, and is
// transport-agnostic: an HTTP layer maps requests onto its methods.
type Server struct {
	registry    *registry.Registry
	codeStore   storage.CodeStore
	tokenStore  storage.TokenStore
	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter // per-client token endpoint rate limiter
	Logger      *slog.Logger
	Config      *Config

	inst   *instrumentation.Instrumentation
	nowFn  func() time.Time
	tokenF func() string
}

// New creates a new token issuance server
func New(
	reg *registry.Registry,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("client registry is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)

	srv := &Server{
		registry:   reg,
		codeStore:  codeStore,
		tokenStore: tokenStore,
		Config:     config,
		Logger:     logger,
		nowFn:      time.Now,
		tokenF:     oauth2.GenerateVerifier,
	}

	if config.TokenRequestsPerSecond > 0 {
		srv.RateLimiter = security.NewRateLimiter(
			config.TokenRequestsPerSecond,
			config.TokenRequestBurst,
			logger,
		)
	}

	return srv, nil
}

// SetAuditor sets the security audit logger
func (s *Server) SetAuditor(auditor *security.Auditor) {
	s.Auditor = auditor
}

// SetInstrumentation sets OpenTelemetry instrumentation for the server
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// Stop releases server-owned background resources
func (s *Server) Stop() {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
}

// now returns the current time, indirected for tests
func (s *Server) now() time.Time {
	return s.nowFn()
}

// metrics returns the flow metrics, or nil when instrumentation is not
// configured
func (s *Server) metrics() *instrumentation.Metrics {
	if s.inst == nil {
		return nil
	}
	return s.inst.Metrics()
}

// generateToken returns a fresh opaque token string. Tokens carry 256 bits
// of CSPRNG entropy in URL-safe base64, the same construction PKCE uses
// for code verifiers.
func (s *Server) generateToken() string {
	return s.tokenF()
}

// newRecordID returns a fresh token record identifier
func newRecordID() string {
	return uuid.NewString()
}
