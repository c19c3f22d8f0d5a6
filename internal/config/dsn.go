package config

import (
	"net"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DSNValue returns the explicit DSN or assembles one with the driver's own formatter.
func (c DatabaseRuntimeConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(stringOr(c.Host, defaultDBHost), strconv.Itoa(intOr(c.Port, defaultDBPort)))
	mc.User = stringOr(c.User, defaultDBUser)
	mc.Passwd = stringOr(c.Password, defaultDBPassword)
	mc.DBName = stringOr(c.Name, defaultDBName)
	mc.ParseTime = c.ParseTime
	if loc, err := time.LoadLocation(stringOr(c.Loc, defaultDBLoc)); err == nil {
		mc.Loc = loc
	}

	mc.Params = map[string]string{"charset": stringOr(c.Charset, defaultDBCharset)}
	for key, value := range c.Params {
		k, v := strings.TrimSpace(key), strings.TrimSpace(value)
		if k == "" || v == "" {
			continue
		}
		switch k {
		case "timeout", "readTimeout", "writeTimeout":
			if d, err := time.ParseDuration(v); err == nil {
				setTimeout(mc, k, d)
				continue
			}
		case "parseTime", "loc":
			continue
		}
		mc.Params[k] = v
	}
	return mc.FormatDSN()
}

func setTimeout(mc *mysql.Config, name string, d time.Duration) {
	switch name {
	case "timeout":
		mc.Timeout = d
	case "readTimeout":
		mc.ReadTimeout = d
	case "writeTimeout":
		mc.WriteTimeout = d
	}
}

// URLValue returns the explicit Redis URL or builds redis[s]://user:pass@host:port/db.
func (c RedisRuntimeConfig) URLValue() string {
	if u := normalizeRedisRawURL(c.URL); u != "" {
		return u
	}

	db := c.DB
	if db < 0 {
		db = defaultRedisDB
	}
	u := &neturl.URL{
		Scheme: redisScheme(c.Scheme, c.TLS),
		Host:   net.JoinHostPort(stringOr(c.Host, defaultRedisHost), strconv.Itoa(intOr(c.Port, defaultRedisPort))),
		Path:   "/" + strconv.Itoa(db),
	}
	if user, pass := strings.TrimSpace(c.Username), strings.TrimSpace(c.Password); user != "" || pass != "" {
		if pass == "" {
			u.User = neturl.User(user)
		} else {
			u.User = neturl.UserPassword(user, pass)
		}
	}

	query := neturl.Values{}
	for key, value := range c.Params {
		if k, v := strings.TrimSpace(key), strings.TrimSpace(value); k != "" && v != "" {
			query.Set(k, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func redisScheme(scheme string, tls bool) string {
	switch s := strings.ToLower(strings.TrimSpace(scheme)); s {
	case "redis", "rediss":
		return s
	}
	if tls {
		return "rediss"
	}
	return "redis"
}

func stringOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func intOr(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
