package wal

// Durability controls whether Log.Append fsyncs the active segment before
// returning.
type Durability int

const (
	// DurabilityNone performs no fsync. For tests and throughput
	// benchmarks only: data may be lost on power failure.
	DurabilityNone Durability = iota

	// DurabilityWal fsyncs the WAL segment after each append. This is the
	// default: an appended record is durable by the time Append returns.
	DurabilityWal

	// DurabilityFull is DurabilityWal plus an implementer-chosen fsync of
	// any derived data files. This core has no derived data files, so it
	// behaves identically to DurabilityWal; the level is kept distinct for
	// forward compatibility with callers that layer derived state on top
	// of the log.
	DurabilityFull
)

func (d Durability) String() string {
	switch d {
	case DurabilityNone:
		return "none"
	case DurabilityWal:
		return "wal"
	case DurabilityFull:
		return "full"
	default:
		return "unknown"
	}
}
