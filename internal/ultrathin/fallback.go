package ultrathin

import "encoding/base64"

// PrependFallbackTask prepends the target library/class pair SPEC_FULL.md
// §4.7's fallback mode requires ahead of the regular metadata list, and
// (when the original request wasn't a GET) appends the original body
// base64-encoded as HTTP_BODY — fallback always forces the outgoing method
// to POST, so the original body can no longer travel as-is.
func PrependFallbackTask(library, class string, meta []string, originalMethod string, originalBody []byte) []string {
	out := make([]string, 0, len(meta)+3)
	out = append(out, "OmnisLibrary="+encodeComponent(library))
	out = append(out, "OmnisClass="+encodeComponent(class))
	out = append(out, meta...)
	if originalMethod != "GET" && len(originalBody) > 0 {
		out = append(out, "HTTP_BODY="+base64.StdEncoding.EncodeToString(originalBody))
	}
	return out
}
