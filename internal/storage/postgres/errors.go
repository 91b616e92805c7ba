package postgres

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

const uniqueViolation = "23505"

// classify maps a pgx error onto the corpus failure taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return corpus.E(corpus.KindUniquenessConflict, op, err)
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			pgErr.Code == "53300", // too_many_connections
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "57P03": // cannot_connect_now
			return corpus.E(corpus.KindStoreUnavailable, op, err)
		default:
			return corpus.E(corpus.KindMalformedResponse, op, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return corpus.E(corpus.KindTimeout, op, err)
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) {
		return corpus.E(corpus.KindStoreUnavailable, op, err)
	}
	return corpus.E(corpus.KindUnknown, op, err)
}
