package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/learnhub/core/internal/config"
)

func applyRuntimeSettings(cfg *config.AppConfig) error {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return nil
	}
	loc, err := loadZone(tz)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	time.Local = loc
	_ = os.Setenv("TZ", tz)
	return nil
}

// offsetLayouts are the fixed UTC offsets accepted besides IANA names.
var offsetLayouts = []string{"-07:00", "-0700", "-07"}

// loadZone resolves an IANA zone name or a fixed offset such as +06:00,
// +0600 or UTC-03:30.
func loadZone(name string) (*time.Location, error) {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc, nil
	}
	upper := strings.ToUpper(name)
	offset := strings.TrimPrefix(strings.TrimPrefix(upper, "UTC"), "GMT")
	for _, layout := range offsetLayouts {
		t, err := time.Parse(layout, offset)
		if err != nil {
			continue
		}
		_, secs := t.Zone()
		if secs < -12*3600 || secs > 14*3600 {
			return nil, fmt.Errorf("offset %s is outside -12:00..+14:00", offset)
		}
		return time.FixedZone("UTC"+offset, secs), nil
	}
	return nil, fmt.Errorf("want an IANA zone such as Asia/Dhaka or an offset such as +06:00")
}
