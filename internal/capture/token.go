package capture

// ResolveToken finds the project credential. Sources, first match wins:
//   - form field `api_key`
//   - form field `token`
//   - the body object (or the first element of a body array), see tokenFromEvent
func ResolveToken(req *Request) (string, error) {
	if v := req.Form.Get("api_key"); v != "" {
		return v, nil
	}
	if v := req.Form.Get("token"); v != "" {
		return v, nil
	}
	if obj, ok := req.Payload.First(); ok {
		if token := tokenFromEvent(obj); token != "" {
			return token, nil
		}
	}
	return "", newError(KindMissingToken, msgMissingToken)
}

// tokenFromEvent checks the legacy token locations in SDK order.
func tokenFromEvent(obj map[string]interface{}) string {
	// posthog-js identify call
	if v := stringValue(obj["$token"]); v != "" {
		return v
	}
	// posthog-js reloadFeatures call
	if v := stringValue(obj["token"]); v != "" {
		return v
	}
	// server libraries: posthog-python, posthog-ruby, posthog-go
	if v := stringValue(obj["api_key"]); v != "" {
		return v
	}
	// posthog-js capture call
	if props, ok := obj["properties"].(map[string]interface{}); ok {
		if v := stringValue(props["token"]); v != "" {
			return v
		}
	}
	return ""
}
