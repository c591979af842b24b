// Package hybridcrypto provides a resilient hybrid cryptographic core that
// prefers quantum-safe algorithms (ML-KEM-768, ML-DSA-65) served by an
// external engine process and degrades transparently to a classical suite
// (RSA-OAEP, RSA-PSS) when the engine is unhealthy. Per-operation circuit
// breakers decide when to stop trying the engine, every result is a
// self-describing envelope, and every degradation is reported as a telemetry
// event.
//
// Basic usage:
//
//	svc, err := hybridcrypto.New(
//	    hybridcrypto.WithEngineCommand("qsengine"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	env, err := svc.Encrypt(ctx, []byte("account data"), "user-42")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if env.IsDegraded {
//	    log.Printf("classical fallback: %s", env.Metadata.FallbackReason)
//	}
//
//	plaintext, err := svc.Decrypt(ctx, env, "user-42")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Decryption and verification are routed purely by the envelope's algorithm
// tag and never fall back across families; a failure on the tagged path is
// surfaced, not papered over.
package hybridcrypto
