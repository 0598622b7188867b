package classify

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_StaticAssets(t *testing.T) {
	assert.Equal(t, CacheLoad, Classify(http.MethodGet, "/favicon.ico", false))
	assert.Equal(t, CacheLoad, Classify(http.MethodGet, "/jschtml/css/app.css", false))
	assert.Equal(t, CacheLoad, Classify(http.MethodGet, "/jschtml/images/logo.png", false))
	// Favicon/asset classification only applies to GET.
	assert.NotEqual(t, CacheLoad, Classify(http.MethodPost, "/favicon.ico", false))
}

func TestClassify_JSClient(t *testing.T) {
	for _, path := range []string{"/jschtml/app.js", "/jsclient/foo", "/push/notify"} {
		assert.Equal(t, StickySession, Classify(http.MethodGet, path, false), path)
	}
}

func TestClassify_RESTAPI(t *testing.T) {
	assert.Equal(t, RegularSkip, Classify(http.MethodGet, "/api/v1/thing", false))
	assert.Equal(t, RegularSkip, Classify(http.MethodPost, "/api/v1/thing", false))
}

func TestClassify_UltraThin(t *testing.T) {
	assert.Equal(t, RegularRequired, Classify(http.MethodGet, "/ultra", false))
	assert.Equal(t, RegularSkip, Classify(http.MethodPost, "/ultra", false))
}

func TestClassify_FallbackGatesReject(t *testing.T) {
	assert.Equal(t, Reject, Classify(http.MethodGet, "/something/unmatched", false))
	assert.Equal(t, RegularRequired, Classify(http.MethodGet, "/something/unmatched", true))
}

func TestRequiresWaitingRoom(t *testing.T) {
	assert.True(t, StickySession.RequiresWaitingRoom())
	assert.True(t, RegularRequired.RequiresWaitingRoom())
	assert.False(t, RegularSkip.RequiresWaitingRoom())
	assert.False(t, CacheLoad.RequiresWaitingRoom())
	assert.False(t, Reject.RequiresWaitingRoom())
}

func TestIsJavaScriptClient_IsRESTAPI_IsUltraThin(t *testing.T) {
	assert.True(t, IsJavaScriptClient("/jsclient/x"))
	assert.False(t, IsJavaScriptClient("/api/x"))
	assert.True(t, IsRESTAPI("/api/x"))
	assert.False(t, IsRESTAPI("/ultra"))
	assert.True(t, IsUltraThin("/ultra/x"))
	assert.False(t, IsUltraThin("/api/x"))
}
