// Package server implements the authorization-code and refresh-token
// grants over pluggable storage backends.
//
// The Server is transport-agnostic. An HTTP layer (or any other
// transport) authenticates the user, then drives the flow:
//
//	// User approved the client: issue a code and redirect back
//	authCode, err := srv.Login(ctx, clientID, redirectURI, scope, user)
//	location, err := server.AuthorizeRedirectURL(redirectURI, state, authCode.Code)
//
//	// Token endpoint: authenticate the client and dispatch the grant
//	resp, oauthErr := srv.HandleTokenRequest(ctx, &oauthcore.TokenRequest{
//		GrantType:    oauthcore.GrantTypeAuthorizationCode,
//		Code:         code,
//		RedirectURI:  redirectURI,
//		ClientID:     clientID,
//		ClientSecret: clientSecret,
//	})
//
// Authorization codes are single-use: redemption is an atomic
// read-and-delete in the code store, so concurrent exchanges of the same
// code resolve to exactly one token response. Refresh tokens rotate by
// default; each refresh retires the previous token pair.
//
// The user identity and resolved role are frozen into the token record at
// issuance. Later changes to the user's directory roles or the client's
// role mappings do not affect tokens already issued.
package server
