// Package irc bridges ergochat/irc-go connections to the bot framework.
//
// The code is split across:
//   - manager.go: builds sessions from configuration, runs them, routes outbound sends
//   - session.go: one server connection and its event handlers
//   - events.go: event kinds and the library codes that deliver them
//   - message.go: the inbound envelope and the Dispatcher boundary
package irc

/*
Handler Summary:

Connection Events:
- 376/422 (onReady): End of MOTD / MOTD missing - registration finished
  - Joins every configured room in configuration order (JOIN room [key])

Nick Issues:
- 433 (onNickInUse): ERR_NICKNAMEINUSE - Nick in use
  - Appends "_" to the requested nick and sends NICK again
  - Quits the session after max_nick_retries attempts
  - Replaces the runtime's own 433 handler, so only one NICK goes out

Messages:
- PRIVMSG (onMessage): Room and private messages
  - Wrapped in a Message envelope and handed to the Dispatcher as "message"
  - No command parsing happens here

Rooms:
- JOIN (onJoin): Only our own joins
  - Records the membership locally and in the shared routing registry

CTCP:
- CTCP (onDCCInvite): Unknown CTCP requests; only "DCC CHAT chat <addr> <port>"
  is acted upon, anything else is dropped silently
  - Dials the peer; every received line comes back through handle as
    dcc-data and is echoed as "You said: <text>"

Disconnect (onDisconnect): runtime lost the server
  - Disconnected, then Connecting unless the session was stopped
- CTCP_VERSION is answered by the runtime with the adapter version
*/
