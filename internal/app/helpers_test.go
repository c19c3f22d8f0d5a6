package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadZone(t *testing.T) {
	loc, err := loadZone("UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	offsets := map[string]int{
		"+06:00":    6 * 3600,
		"-03:30":    -(3*3600 + 30*60),
		"+0545":     5*3600 + 45*60,
		"UTC+08":    8 * 3600,
		"gmt-05:00": -5 * 3600,
	}
	for name, want := range offsets {
		loc, err := loadZone(name)
		require.NoError(t, err, name)
		_, got := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
		assert.Equal(t, want, got, name)
	}

	for _, bad := range []string{"Mars/Olympus", "+25:00", "-13:00", "6"} {
		_, err := loadZone(bad)
		assert.Error(t, err, bad)
	}
}

func TestMatchOriginPattern(t *testing.T) {
	cases := []struct {
		pattern, origin string
		want            bool
	}{
		{"https://app.learnhub.dev", "https://app.learnhub.dev", true},
		{"https://app.learnhub.dev", "https://evil.dev", false},
		{"*.learnhub.dev", "https://admin.learnhub.dev", true},
		{"*.learnhub.dev", "https://learnhub.dev.evil.io", false},
		{"localhost:*", "http://localhost:5173", true},
		{"localhost:*", "http://localhost.evil.io", false},
	}
	for _, tc := range cases {
		got := matchOriginPattern(tc.pattern, extractOriginHost(tc.origin))
		assert.Equal(t, tc.want, got, "%s vs %s", tc.pattern, tc.origin)
	}

	match := originMatcher([]string{"https://app.learnhub.dev", "*.learnhub.dev"})
	assert.True(t, match("https://app.learnhub.dev"))
	assert.False(t, match("https://example.com"))
}
