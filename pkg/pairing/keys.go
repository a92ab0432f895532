package pairing

// Key layout. Everything lives under the configured prefix so that several
// deployments can share one Redis database.
//
//	<prefix>code:<CODE>        -> project UUID, TTL = code expiry
//	<prefix>ratelimit:<ident>  -> failure counter, TTL = rate-limit window
//	<prefix>token:<device-id>  -> device record (token hash + project), no TTL

func codeKey(prefix, code string) string {
	return prefix + "code:" + code
}

func rateLimitKey(prefix, identifier string) string {
	return prefix + "ratelimit:" + identifier
}

func tokenKey(prefix, deviceID string) string {
	return prefix + "token:" + deviceID
}
