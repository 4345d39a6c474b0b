// Package crypto provides the symmetric primitives headlink components share:
// hex digests, a passphrase-keyed AES helper, the process-wide default key and
// an encrypted on-disk secret archive.
//
// # Hashing
//
// [HashSHA256] returns the 64 character hex SHA-256 digest of a string.
// [HashSHA1] returns a hex SHA-1 digest fitted to a requested length: shorter
// lengths take a prefix, longer ones repeat the digest.
//
// # AES
//
// [AESHelper] encrypts with AES-256-CBC and PKCS#7 padding. Key and IV are
// derived from the passphrase, so the same passphrase always produces the
// same ciphertext for the same plaintext:
//
//	helper, err := crypto.NewAESHelper("passphrase")
//	if err != nil {
//	    return err
//	}
//	defer helper.Close()
//	sealed, err := helper.EncryptString("secret")
//
// # Default key
//
// A [KeyHolder] is configured once at startup with [KeyHolder.Set] and read
// afterwards with [KeyHolder.Key]. When nothing was configured it yields
// [FallbackKey].
//
// # Secret archive
//
// [SecretArchive] stores named secrets in a directory, one file per secret,
// encrypted with an AESHelper and replaced atomically on write.
//
// # Memory hygiene
//
// [SecureWipe] and [ZeroBytes] clear key material once it is no longer
// needed. Log lines never carry key material, only its size.
package crypto
