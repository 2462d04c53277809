package zip

import (
	"crypto/sha1"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"

	"github.com/Ismail-elkorchi/bytefold/aerr"
)

// AESSaltSize returns the WinZip AES salt length for a given extra-field
// strength byte (1/2/3 => AES-128/192/256), per the format's fixed
// salt-size-equals-half-key-size rule.
func AESSaltSize(strength byte) (int, error) {
	switch strength {
	case 1:
		return 8, nil
	case 2:
		return 12, nil
	case 3:
		return 16, nil
	default:
		return 0, aerr.New(aerr.CodeZipUnsupportedFeature, aerr.KindUnsupported, "zip.aes_salt_size", "unrecognized AES strength byte")
	}
}

// VerifyPasswordCandidate checks a candidate password against the 2-byte
// PBKDF2-derived password-verification value WinZip AES stores immediately
// after the salt, without deriving or using the encryption/HMAC keys that
// would be needed to decrypt the entry's content. This lets a caller reject
// a wrong password cheaply; it never decrypts entry data (spec §1's
// decryption Non-goal).
func VerifyPasswordCandidate(strength byte, salt []byte, password string, storedVerifier [2]byte) (bool, error) {
	saltSize, err := AESSaltSize(strength)
	if err != nil {
		return false, err
	}
	if len(salt) != saltSize {
		return false, aerr.New(aerr.CodeZipBadZip64, aerr.KindFormat, "zip.verify_password", "salt length does not match AES strength")
	}

	keySize := saltSize * 2
	// WinZip AES derives encKey || authKey || verifier in one PBKDF2 call,
	// per the format's key-derivation scheme; only the trailing 2 bytes are
	// needed to test a password.
	derived := pbkdf2.Key([]byte(password), salt, 1000, keySize*2+2, sha1.New)
	verifier := derived[len(derived)-2:]
	return subtle.ConstantTimeCompare(verifier, storedVerifier[:]) == 1, nil
}
