/*
Package ports defines the driven ports (interfaces) of the login client.

These interfaces decouple the handshake machine from the network, storage and
telemetry it talks to, so the same machine runs against a real HTTP client, a
scripted fake in tests, or a remote-controlled session manager.

# Key Interfaces

  - Transport: Sends one request and returns the raw response body.
  - CookieSource: Exposes cookies the transport collected (used for push credentials).
  - CredentialStore: Persists long-lived session fields after a successful login.
  - AnalyticsSink: Receives fire-and-forget telemetry events.
  - Prompter: Supplies verification codes and checkpoint input interactively.
  - DistributedLocker: Serializes access to one attempt across replicas.
*/
package ports
