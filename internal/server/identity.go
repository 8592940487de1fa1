package server

import (
	"context"
	"crypto/x509/pkix"
	"fmt"
	"strings"

	"registry/internal/dispatch"
	"registry/internal/identity"
	"registry/internal/middleware"
	"registry/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Headers set by a TLS-terminating proxy that verified the client certificate.
const (
	HeaderClientSubjectDN = "X-SSL-Client-S-DN"
	HeaderClientIssuerDN  = "X-SSL-Client-I-DN"
)

// Locals keys.
const (
	localInput  = "registryInput"
	localCaller = "caller"
)

var attributeNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"0.9.2342.19200300.100.1.1":  "UID",
	"0.9.2342.19200300.100.1.25": "DC",
	"1.2.840.113549.1.9.1":       "emailAddress",
}

// onelineDN renders name in the slash-separated form proxies forward,
// e.g. /DC=org/DC=registry/CN=alice.
func onelineDN(name pkix.Name) string {
	var b strings.Builder
	for _, atv := range name.Names {
		key := atv.Type.String()
		if short, ok := attributeNames[key]; ok {
			key = short
		}
		b.WriteString("/")
		b.WriteString(key)
		b.WriteString("=")
		if v, ok := atv.Value.(string); ok {
			b.WriteString(v)
		} else {
			fmt.Fprint(&b, atv.Value)
		}
	}
	return b.String()
}

// credential extracts the caller's certificate DNs. Proxy headers are only
// honoured when the deployment trusts them.
func (s *Server) credential(c *fiber.Ctx) identity.Credential {
	if s.config.TrustProxyHeaders {
		if dn := strings.TrimSpace(c.Get(HeaderClientSubjectDN)); dn != "" {
			return identity.Credential{SubjectDN: dn, IssuerDN: strings.TrimSpace(c.Get(HeaderClientIssuerDN))}
		}
	}
	if state := c.Context().TLSConnectionState(); state != nil && len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		return identity.Credential{SubjectDN: onelineDN(cert.Subject), IssuerDN: onelineDN(cert.Issuer)}
	}
	return identity.Credential{}
}

// sessionLabel names the operation recorded on the session row.
func sessionLabel(c *fiber.Ctx) string {
	if family := c.Params("family"); family != "" {
		return "list"
	}
	if cmd := c.Params("command"); dispatch.IsCommand(cmd) {
		return cmd
	}
	return "invalid"
}

// IdentityRequired parses the request, resolves the caller and opens a
// session. Unknown callers are rejected before any command runs.
func (s *Server) IdentityRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		in, err := parseInput(c)
		if err != nil {
			return respond(c, in, inputError(err))
		}
		c.Locals(localInput, in)

		caller, err := s.resolver.Resolve(c.UserContext(), s.credential(c), in.actAs, sessionLabel(c), c.IP())
		if err != nil {
			middleware.Logger.ErrorContext(c.UserContext(), "identity resolution failed", "error", err)
			return respond(c, in, internalError(err))
		}
		if !caller.Known() {
			return respond(c, in, unknownUser())
		}

		c.Locals(localCaller, caller)
		c.Locals("userID", caller.UserID)
		ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, caller.UserID)
		ctx = context.WithValue(ctx, middleware.SessionIDKey, caller.SessionID)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

func requestState(c *fiber.Ctx) (*commandInput, models.Caller) {
	in, ok := c.Locals(localInput).(*commandInput)
	if !ok {
		in = defaultInput()
	}
	caller, _ := c.Locals(localCaller).(models.Caller)
	return in, caller
}
