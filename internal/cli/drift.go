package cli

import "time"

// Drift is the estimated offset of the server clock from the local clock.
type Drift struct {
	RTT    time.Duration
	Offset time.Duration
}

// EstimateDrift assumes serverTime was stamped halfway through the round trip.
func EstimateDrift(sentAt, receivedAt, serverTime time.Time) Drift {
	rtt := receivedAt.Sub(sentAt)
	if rtt < 0 {
		rtt = 0
	}
	mid := receivedAt.Add(-rtt / 2)
	return Drift{RTT: rtt, Offset: serverTime.Sub(mid)}
}

func (d Drift) ServerNow(clientNow time.Time) time.Time {
	return clientNow.Add(d.Offset)
}

// Until is the countdown to a server-side instant, never negative.
func (d Drift) Until(target, clientNow time.Time) time.Duration {
	left := target.Sub(d.ServerNow(clientNow))
	if left < 0 {
		return 0
	}
	return left
}

func (d Drift) OffsetMillis() int64 {
	return d.Offset.Milliseconds()
}
