package session

import "github.com/cuemby/gaiadb/pkg/arena"

// Segments bundles the shared-memory segment handles a session hands out
// fds for at CONNECT (§4.1, §6). The wire table in spec.md §6 names only
// `[data_fd, locator_fd]` as CONNECT's ancillary data; this Go
// implementation also ships the counters and id-index fds at CONNECT
// (rather than inventing a second handshake round) since spec.md §4.1
// itself says "Counters and id-index are always shared" from the moment a
// session exists.
type Segments struct {
	Data     *arena.DataArena
	Locators *arena.LocatorTable
	IDIndex  *arena.IDIndex
	Counters *arena.Counters
}

// fds returns the CONNECT ancillary fd list, in the order the client-side
// dbclient package expects to receive and map them.
func (s *Segments) fds() []int {
	return []int{
		s.Data.FD(),
		s.Locators.FD(),
		s.Counters.FD(),
		s.IDIndex.BucketsFD(),
		s.IDIndex.OverflowFD(),
	}
}
