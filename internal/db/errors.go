package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// wrapDBError tags a driver error with the operation and the storage failure sentinel
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, types.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, types.ErrStorageFailure, err)
}
