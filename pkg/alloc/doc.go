/*
Package alloc implements the per-transaction stack allocator (§4.7): bump
allocation into a region carved out of the data arena by the server, an
allocation record list for rollback bookkeeping, and deallocate_to_count for
unwinding a partial mutation (e.g. a failed reference check mid-CREATE).

A region holds two cursors growing toward each other: a byte cursor from the
start of the region (object storage) and an allocation-record array from the
end of the region (bookkeeping), matching the teacher's "avoid an unbounded
side table" approach to the same kind of transaction-scoped stack allocation.
When a region fills, its Allocate returns a ResourceError and
StackAllocator carves the next region directly from the shared data arena
(no REQUEST_MEMORY round trip) and retries the allocation once.
*/
package alloc
