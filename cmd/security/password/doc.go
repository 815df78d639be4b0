// Package password hashes and verifies huddle account passwords with Argon2id.
//
// Hashes use the PHC string layout:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>
//
// Encoded hashes read back from storage are untrusted input. Verify refuses
// parameters far above the configured cost.
package password
