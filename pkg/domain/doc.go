/*
Package domain contains the core domain models of the latch login handshake.

It defines the closed error taxonomy, the challenge state union returned by every
handshake operation, and the per-attempt SessionContext. This package is kept pure
and free of external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - ChallengeState: What the caller must do next (None, TwoFactorPending, CheckpointPending, Terminal).
  - ErrorKind: Closed classification of every failure the handshake can surface.
  - SessionContext: Merge-only bag of protocol parameters discovered during one attempt.
  - RequestSpec: One outbound request handed to the Transport collaborator.
  - Session: The long-lived identity produced by a successful attempt.
*/
package domain
