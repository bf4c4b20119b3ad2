// Package supervisor owns the lifecycle of one monitoring session.
//
// A [Supervisor] runs a single event loop ([Supervisor.Run]) that holds all
// session state: the open channel, the liveness timer, the reconnect
// watchdog, the beat counter and the last accepted heart rate. Commands,
// connect-attempt results, channel events and timer fires are all delivered
// to that loop over Go channels and handled strictly one at a time, so the
// state needs no locks.
//
// # Lifecycle
//
//	Idle ──Start──▶ Starting ──attempt ok──▶ Live
//	                    │                     │ channel errored/closed
//	                    └──attempt failed──▶ Recovering ◀┘
//	                                          │ watchdog tick
//	                                          └──attempt ok──▶ Live
//
// Stop returns to Idle from any state. Connect attempts that finish after
// Stop are discarded and their channel is closed.
package supervisor
