package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCookiesFromEnv(t *testing.T) {
	t.Setenv("LEETCODE_SESSION", "base-session")
	t.Setenv("CSRF_TOKEN", "base-csrf")
	t.Setenv("LEETCRAWL_SESSION_ALICE_LEETCODE_SESSION", "alice-session")

	base := CookiesFromEnv("")
	require.Len(t, base, 2)
	byName := map[string]Cookie{}
	for _, ck := range base {
		byName[ck.Name] = ck
	}
	require.Equal(t, "base-session", byName["LEETCODE_SESSION"].Value)
	require.Equal(t, ".leetcode.com", byName["LEETCODE_SESSION"].Domain)
	require.Equal(t, "base-csrf", byName["csrftoken"].Value)
	require.Equal(t, "leetcode.com", byName["csrftoken"].Domain)

	// Session-scoped variables win over bare keys.
	alice := CookiesFromEnv("alice")
	byName = map[string]Cookie{}
	for _, ck := range alice {
		byName[ck.Name] = ck
	}
	require.Equal(t, "alice-session", byName["LEETCODE_SESSION"].Value)
	require.Equal(t, "base-csrf", byName["csrftoken"].Value)
}

func TestCookiesFromEnvEmpty(t *testing.T) {
	for _, ck := range cookieEnvKeys {
		t.Setenv(ck.key, "")
	}
	require.Empty(t, CookiesFromEnv(""))
}

func TestNewFactoryDefaults(t *testing.T) {
	t.Parallel()

	f := NewFactory(Config{}, nil)
	require.Equal(t, 25*time.Second, f.cfg.NavTimeout)
}
