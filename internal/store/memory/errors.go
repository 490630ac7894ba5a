package memory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var errReadOnly = errors.New("memory store: write attempted in read-only transaction")

// errDuplicate mirrors the wording of a Postgres unique violation so
// core.MapError treats both stores alike.
func errDuplicate(table, id string) error {
	return fmt.Errorf("memory store: duplicate key value violates unique constraint on %s (%s)", table, id)
}

func newID() string {
	return uuid.New().String()
}
