package provider

import "context"

// Lister can enumerate objects under a prefix.
//
// Every bundled provider implements it; it stays optional so thin test
// doubles can skip it.
type Lister interface {
	List(ctx context.Context, prefix string) ([]ObjectSummary, error)
}
