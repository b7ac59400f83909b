// Package meter talks to networked energy meters and parses what they say.
//
// # Wire protocol
//
// A poll is one short TCP conversation:
//
//	client → meter   "read all"
//	meter  → client  "channel_1 : 12.5\nchannel_2 : 3.75\n...channel_13 : 0\n"
//	client           half-closes its write side once "channel_13" has arrived
//	meter            closes the connection
//
// The response may arrive in any number of segments. The completion token is
// configurable through Config.LastChannel.
//
// # Errors
//
// ReadAll fails with ErrConnectionFailed, ErrTimeout or ErrProtocol (which
// also matches ErrTimeout). It never retries; scheduling retries is the
// caller's business.
//
// # Parsing
//
// Parse keeps allow-listed channels and scales values by 1000; Rows stamps
// them with the poll's hour bucket:
//
//	text, err := client.ReadAll(ctx, meter.Target{Address: "10.0.0.5", Port: 5000})
//	if err != nil {
//	    return err
//	}
//	rows := meter.Rows(meter.Parse(text, []string{"1", "2"}), time.Now())
package meter
