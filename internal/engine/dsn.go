package engine

import (
	"fmt"
	"net/url"

	"dbvybe-backend/internal/domain"

	"github.com/go-sql-driver/mysql"
)

// postgresDSN builds a lib/pq connection URL from a descriptor.
func postgresDSN(desc domain.ConnectionDescriptor) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", desc.Host, desc.Port),
		Path:   "/" + desc.Database,
	}
	if desc.Username != "" {
		if desc.Password != "" {
			u.User = url.UserPassword(desc.Username, desc.Password)
		} else {
			u.User = url.User(desc.Username)
		}
	}
	q := u.Query()
	sslmode := desc.Properties["sslmode"]
	if sslmode == "" {
		sslmode = "disable"
	}
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// mysqlDSN builds a go-sql-driver DSN from a descriptor.
func mysqlDSN(desc domain.ConnectionDescriptor) string {
	cfg := mysql.NewConfig()
	cfg.User = desc.Username
	cfg.Passwd = desc.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", desc.Host, desc.Port)
	cfg.DBName = desc.Database
	cfg.ParseTime = true
	if desc.Properties["tls"] != "" {
		cfg.TLSConfig = desc.Properties["tls"]
	}
	return cfg.FormatDSN()
}

// documentURI builds a mongo connection URI from a descriptor.
func documentURI(desc domain.ConnectionDescriptor) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", desc.Host, desc.Port),
		Path:   "/" + desc.Database,
	}
	if desc.Username != "" {
		u.User = url.UserPassword(desc.Username, desc.Password)
	}
	if opts := desc.Properties["options"]; opts != "" {
		u.RawQuery = opts
	}
	return u.String()
}
