package catalog

// Catalog defines the catalog operations consumers depend on.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type Catalog interface {
	Upsert(r Row, body []byte) error
	Delete(key string) error
	Get(key string) (*Row, []byte, error)
	ListRecipes(f Filter) ([]Row, int, error)
	Categories() ([]CategoryCount, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
