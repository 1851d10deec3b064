// Package inputjob holds the job input descriptor: the record a planning step
// builds once, a resolution step binds to concrete table and partition
// metadata, and every worker task then reads.
//
// Lifecycle:
//
//	d := inputjob.Create("sales_db", "orders", "region='US'", "sqlite://catalog.db", nil)
//	d.Properties().Set("reader.batch_size", "1024")
//
//	resolver := inputjob.NewResolver(catalog)
//	if err := resolver.Resolve(ctx, d); err != nil { ... }
//
//	payload, err := inputjob.Marshal(d) // hand this to workers
//
// A descriptor moves from unresolved to resolved exactly once. Table info and
// partitions are committed together, and a second resolution is rejected with
// ErrAlreadyResolved rather than overwriting the first.
//
// Descriptors are not safe for concurrent mutation. Workers receive their own
// decoded copy; code sharing one descriptor across goroutines should pass
// Clone() results instead of the original.
package inputjob
