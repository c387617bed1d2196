// Package password hashes local credential secrets with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and key are unpadded standard base64.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Which secrets get hashed,
// and where the hash is stored, belongs to the engine and the identity store.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets.
//   - Import any other actorauth package.
//   - Log plaintext secrets.
package password
