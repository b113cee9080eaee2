package domain

type CallerKind int

const (
	// CallerInternal is a request with no Authorization header: a trusted
	// server-to-server or in-process caller. It bypasses read filtering, and
	// records it writes carry an empty reader set (public). Both meanings are
	// deliberate; the gateway is the trust boundary.
	CallerInternal CallerKind = iota
	// CallerSubscriber carries the sub claim of a bearer token. Reads are
	// filtered against each version's reader set, and writes stamp the
	// subscriber as the sole authorized reader.
	CallerSubscriber
)

// Caller is the per-request identity under which store reads and writes are
// evaluated. AuthHeader keeps the original Authorization value so federation
// hops can forward the caller's credentials unchanged.
type Caller struct {
	Kind       CallerKind
	Subscriber string
	AuthHeader string
}

func Internal() Caller {
	return Caller{Kind: CallerInternal}
}

func Subscriber(sub, authHeader string) Caller {
	return Caller{Kind: CallerSubscriber, Subscriber: sub, AuthHeader: authHeader}
}

// Readers computes the authorized reader set stamped on a new version.
func (c Caller) Readers() []string {
	if c.Kind == CallerSubscriber {
		return []string{c.Subscriber}
	}
	return []string{}
}
