// Package auth implements the token service, the role model and credential
// hashing.
//
// Two token classes are minted, both HS256-signed JWTs sharing one issuer
// but carrying distinct audiences: access tokens (15 minutes, stateless,
// carry identity+role+tenant) and refresh tokens (30 days by default, carry
// only a user ID and a 256-bit random session ID that keys the server-side
// session registry). Verifying a refresh token's signature is necessary but
// not sufficient; the registry row must also exist and be unexpired, which
// is what makes server-side revocation possible.
//
// Verification failures are deliberately indistinguishable: expired,
// malformed, wrong-audience and bad-signature tokens all produce
// ErrInvalidToken so clients cannot probe which check failed.
//
// Roles form a partial order (see rolePrivileges in types.go). The admin
// role passes every role check; the tenant-isolation bypass is stricter and
// lives in pkg/tenancy.
package auth
