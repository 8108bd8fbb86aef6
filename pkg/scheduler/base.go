package scheduler

import (
	"context"
	"fmt"

	"github.com/3leaps/hepgrid/pkg/jobstore"
)

// Base carries the record store reference and table name every adapter is
// constructed with.
type Base struct {
	Store     *jobstore.Store
	TableName string
}

func NewBase(store *jobstore.Store, table string) (Base, error) {
	if store == nil {
		return Base{}, fmt.Errorf("job store is required")
	}
	if table == "" {
		return Base{}, fmt.Errorf("table name is required")
	}
	return Base{Store: store, TableName: table}, nil
}

func (b Base) Table() string { return b.TableName }

// Record loads one row from the adapter's table.
func (b Base) Record(ctx context.Context, id int64) (*jobstore.Record, error) {
	return b.Store.Get(ctx, b.TableName, id)
}
