// Package auth implements the OpenID Connect authorization-code flow with
// PKCE against a single configured issuer, and validates the bearer tokens
// that flow produces.
//
// A Provider owns discovery, the signing key cache and the OAuth2 client
// configuration. It does not persist anything: the AuthState it generates at
// login must be stored by the caller (see the sessions package) and handed
// back at callback time.
//
// Example:
//
//	p, err := auth.NewProvider(issuer, clientID, clientSecret,
//	    auth.WithPrivilegedGroup(groupID),
//	)
//	if err != nil { log.Fatal(err) }
//
//	st, challenge, err := p.GenerateAuthState("/dashboard")
//	// persist st, then redirect the browser to:
//	u, err := p.BuildAuthorizationURL(ctx, callbackURL, st.State, st.Nonce, challenge)
//
//	// at the callback:
//	tok, err := p.ExchangeCode(ctx, code, callbackURL, st.CodeVerifier)
//	sess, err := p.CreateUserSession(ctx, tok.AccessToken, tok.RefreshToken, tok.ExpiresIn)
//
// # Errors
//
// Every token validation failure matches ErrUnauthorized and exactly one of
// ErrTokenExpired, ErrTokenNotYetValid, ErrNoMatchingKey,
// ErrSignatureInvalid, ErrAudienceMismatch, ErrIssuerMismatch or
// ErrMalformedToken. Failures reaching the identity provider match ErrFetch;
// token endpoint failures are *TokenEndpointError values matching
// ErrTokenEndpoint.
package auth
