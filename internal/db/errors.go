package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrUnavailable marks an operational failure reaching the database. Callers may fall back to another backend.
var ErrUnavailable = errors.New("vector database unavailable")

// SQLSTATE classes that mean the server cannot be used right now:
// connection exception, invalid authorization, invalid catalog name,
// insufficient resources, operator intervention.
var unavailableClasses = map[string]struct{}{
	"08": {},
	"28": {},
	"3D": {},
	"53": {},
	"57": {},
}

// IsUnavailable reports whether err is a connection-level failure rather than a query error.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, pq.ErrSSLNotSupported) {
		return true
	}
	// pgdriver reports a TLS refusal as a plain error.
	if strings.Contains(err.Error(), "SSL is not enabled on the server") {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return unavailableClass(string(pqErr.Code))
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return unavailableClass(pgErr.Field('C'))
	}
	return false
}

func unavailableClass(code string) bool {
	if len(code) < 2 {
		return false
	}
	_, ok := unavailableClasses[strings.ToUpper(code[:2])]
	return ok
}
