/*
Package latch is a client for a mobile application's private login protocol.

It parses the server's "action tree" payloads, classifies failures into a closed
set of error kinds, and drives the multi-round authentication handshake: the
password submission, two-factor verification (seven methods, including trusted
device approval) and the checkpoint escalation ladder. After a successful login
it derives the credentials of the realtime push channel.

# Architecture

latch follows a hexagonal layout. The handshake machine in internal/runtime
only talks to ports: a Transport that moves request specs over the wire, a
CredentialStore that keeps the resulting session, and an AnalyticsSink for
fire-and-forget telemetry. Adapters provide net/http, memory, file and redis
implementations, plus HTTP and MCP control surfaces over a session Manager.

# Usage

	transport, err := transport.New("https://i.instagram.com")
	if err != nil {
		log.Fatal(err)
	}
	client := latch.New(transport, latch.WithCredentialStore(file.New(".latch")))

	sess, err := client.Login(ctx, "alice", password, prompter)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("logged in as", sess.Username)

Callers that need finer control drive an attempt directly:

	a := client.NewAttempt()
	state, err := a.BeginLogin(ctx, "alice", password)
	switch s := state.(type) {
	case domain.TwoFactorPending:
		state, err = a.SubmitTwoFactorCode(ctx, s.Context, s.Method, code)
	case domain.CheckpointPending:
		state, err = a.SubmitCheckpointStep(ctx, s.StepKind, payload)
	}

Every operation returns the next ChallengeState. Failures are *domain.ProtocolError
(classified, with an ErrorKind) or *domain.NetworkError (retryable).
*/
package latch
