// Package harness replays protocol scenarios against a fresh store.
//
// A scenario seeds identities and relationship edges, drives frames through
// the dispatcher on named in-memory connections, and checks the replies, the
// frames pushed to other connections, and the final store state.
//
// # Scenario Format
//
//	name: request_then_accept
//	description: "Identity 2 asks, identity 1 accepts"
//	identities: 2
//	policy: replace
//	setup:
//	  - relation: friend
//	    main: 1
//	    peer: 2
//	  - message: "queued before the scenario"
//	    main: 1
//	    peer: 2
//	steps:
//	  - conn: one
//	    send: {token: "1", command: get_requests}
//	  - conn: two
//	    send: {token: "2", command: request_friend, payload: {peer_user_id: 1}}
//	    expect: '{"command":"request_friend","payload":{"peer_user_id":1}}'
//	  - conn: one
//	    raw: ping
//	    expect: pong
//	  - conn: two
//	    disconnect: true
//	assertions:
//	  - type: edge_exists
//	    relation: request
//	    main: 2
//	    peer: 1
//
// # Assertion Types
//
//   - edge_exists / edge_absent: a relationship edge main→peer
//   - mailbox_count: number of queued entries for recipient
//   - session_live / session_absent: whether token has a live connection
//   - trace_contains: some frame delivered to conn contains the text
//   - trace_count: exactly count frames delivered to conn contain the text
//
// # Traces
//
// Every frame sent or delivered is recorded in order, one line each:
//
//	001 two > {"command":"request_friend","payload":{"peer_user_id":1},"token":"2"}
//	002 one < {"command":"request_friend","payload":{"peer_user_id":2}}
//	003 two < {"command":"request_friend","payload":{"peer_user_id":1}}
//
// Timestamps that the store assigns are replaced with TIME so traces can be
// compared against golden files.
package harness
