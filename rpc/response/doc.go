// Package response implements the slot that correlates one outstanding request
// with its reply.
//
// A Slot is created by a channel for every request it transmits and stored in
// the channel's correlation table under the request id. The channel's reader
// goroutine hands inbound replies to the slot with Deliver, fault handling
// moves it to Resend, Disconnected or Closed.
//
// Two delivery modes exist:
//
//   - ModeBlocking: the sender waits in Await until the slot leaves Waiting.
//     Each slot has its own notification channel, so a reply only wakes the
//     goroutines waiting for that request.
//
//   - ModeCallback: nobody waits, the reply (or the error that ended the
//     request) is handed to a Callback exactly once.
//
// Resend is the only non-terminal status besides Waiting. Reset takes a slot
// from Resend back to Waiting before the request is transmitted again.
package response
