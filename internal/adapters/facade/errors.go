package facade

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"github.com/ghalamif/AegisArchive/internal/ports"
)

// classify maps a database/sql error onto the facade error kinds. Connection
// problems and server-side conditions that clear up on their own count as
// unavailable, everything else the server reports is a backend error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ports.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgerrcode.ConnectionException,
			pgerrcode.ConnectionDoesNotExist,
			pgerrcode.ConnectionFailure,
			pgerrcode.SQLClientUnableToEstablishSQLConnection,
			pgerrcode.SQLServerRejectedEstablishmentOfSQLConnection,
			pgerrcode.TransactionResolutionUnknown,
			pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected,
			pgerrcode.TooManyConnections,
			pgerrcode.AdminShutdown,
			pgerrcode.CannotConnectNow:
			return fmt.Errorf("%s: %w: %w", op, ports.ErrBackendUnavailable, err)
		default:
			return fmt.Errorf("%s: %w: %w", op, ports.ErrBackendError, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ports.ErrBackendError, err)
}
