package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/tickhub/internal/config"
)

// applicationName tags archive sessions in pg_stat_activity.
const applicationName = "tickhub"

// BuildConnString builds the archive DSN. User and password are escaped by
// url.URL, so any characters are allowed in them.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
